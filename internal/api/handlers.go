package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/storage"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/traverse"
)

const statsCacheKey = "stats"

func pageParam(c *gin.Context) int {
	page, err := strconv.Atoi(c.Query("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

// --- conversations ---

func (s *Server) listConversations(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	q := store.ConversationQuery{
		Group:      true,
		Individual: true,
		ForUser:    c.Query("user"),
		Page:       pageParam(c),
	}
	if types := c.Query("types"); types != "" {
		q.Group = strings.Contains(types, "group")
		q.Individual = strings.Contains(types, "individual")
	}

	switch c.DefaultQuery("order", "newest") {
	case "oldest":
		q.Order = store.OrderOldestFirst
	case "newest":
		q.Order = store.OrderNewestFirst
	case "messages":
		q.Order = store.OrderMostMessages
	case "my-messages":
		q.Order = store.OrderMostMessagesFromYou
	case "user-messages":
		if q.ForUser == "" {
			errorJSON(c, http.StatusBadRequest, "missing_parameter", "user-messages order requires a user")
			return
		}
		q.Order = store.OrderUserMessages
	default:
		errorJSON(c, http.StatusBadRequest, "invalid_parameter", "unknown order")
		return
	}

	convs, err := s.engine.ConversationPage(ctx, q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": convs})
}

func (s *Server) getConversation(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	id := c.Query("id")
	if id == "" {
		errorJSON(c, http.StatusBadRequest, "missing_parameter", "id is required")
		return
	}

	var cached models.Conversation
	cacheKey := "conversation:" + id
	if ok, _ := s.cache.GetJSON(ctx, cacheKey, &cached); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	convs, err := s.engine.Conversations(ctx, []string{id})
	if err != nil {
		s.fail(c, err)
		return
	}
	_ = s.cache.SetJSON(ctx, cacheKey, convs[0], 10*time.Minute)
	c.JSON(http.StatusOK, convs[0])
}

func (s *Server) conversationNames(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	conversationID := c.Query("conversation")
	if conversationID == "" {
		errorJSON(c, http.StatusBadRequest, "missing_parameter", "conversation is required")
		return
	}
	oldestFirst := c.DefaultQuery("first", "oldest") == "oldest"

	updates, err := s.store.NameUpdatesPage(ctx, conversationID, oldestFirst, pageParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]models.MessageLike, 0, len(updates))
	for _, n := range updates {
		items = append(items, n)
	}
	users, err := s.engine.Users(ctx, models.UniqueUserIDs(items))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": updates, "users": users})
}

func (s *Server) setConversationNotes(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	var body struct {
		ID    string `json:"id"`
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		errorJSON(c, http.StatusBadRequest, "invalid_body", "id and notes are required")
		return
	}
	if err := s.engine.SetConversationNotes(ctx, body.ID, body.Notes); err != nil {
		s.fail(c, err)
		return
	}
	_ = s.cache.Del(ctx, "conversation:"+body.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- messages ---

func isTimestamp(v string) bool {
	return strings.Contains(v, "T") || v == models.TimeZeroes || v == models.TimeNines
}

func (s *Server) getMessages(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	f := store.MessageFilter{
		Conversation: c.Query("conversation"),
		User:         c.Query("user"),
	}

	cur := traverse.Cursor{
		After:  c.Query("after"),
		Before: c.Query("before"),
		At:     c.Query("at"),
	}
	if cur.After == "beginning" {
		cur.After = models.TimeZeroes
	}
	if cur.Before == "end" {
		cur.Before = models.TimeNines
	}
	if cur.At != "" && !isTimestamp(cur.At) {
		// a bare id: center the page on that message
		ts, err := s.store.MessageTimestamp(ctx, cur.At)
		if err != nil {
			s.fail(c, err)
			return
		}
		cur.At = ts
	}

	var search *store.SearchQuery
	if raw := c.Query("search"); raw != "" {
		q := traverse.ParseSearch(raw)
		if !q.Empty() {
			search = &q
		}
	}

	page, err := s.engine.Traverse(ctx, f, cur, search)
	if err != nil {
		if errors.Is(err, traverse.ErrBadCursor) {
			errorJSON(c, http.StatusBadRequest, "bad_cursor", err.Error())
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getMessage(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	id := c.Query("id")
	if id == "" {
		errorJSON(c, http.StatusBadRequest, "missing_parameter", "id is required")
		return
	}
	msg, err := s.store.MessageByID(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.respondWithItems(c, ctx, []models.MessageLike{msg})
}

func (s *Server) randomMessages(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	msgs, err := s.store.RandomMessages(ctx, store.MessagesPerPage)
	if err != nil {
		s.fail(c, err)
		return
	}
	items := make([]models.MessageLike, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, m)
	}
	s.respondWithItems(c, ctx, items)
}

// respondWithItems shapes a message list exactly like a traversal page.
func (s *Server) respondWithItems(c *gin.Context, ctx context.Context, items []models.MessageLike) {
	users, err := s.engine.Users(ctx, models.UniqueUserIDs(items))
	if err != nil {
		s.fail(c, err)
		return
	}
	convs, err := s.engine.Conversations(ctx, models.UniqueConversationIDs(items))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, traverse.Page{Items: items, Users: users, Conversations: convs})
}

// --- users ---

func (s *Server) listUsers(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	if conversationID := c.Query("conversation"); conversationID != "" {
		participants, err := s.store.ParticipantsByMessageCount(ctx, conversationID, pageParam(c))
		if err != nil {
			s.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"results": participants})
		return
	}

	users, err := s.store.UsersByMessageCount(ctx, pageParam(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": users})
}

func (s *Server) getUser(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	id := c.Query("id")
	if c.Query("me") != "" {
		owner, err := s.store.Owner(ctx)
		if err != nil {
			s.fail(c, err)
			return
		}
		id = owner
	}
	if id == "" {
		errorJSON(c, http.StatusBadRequest, "missing_parameter", "id or me is required")
		return
	}

	var cached models.User
	cacheKey := "user:" + id
	if ok, _ := s.cache.GetJSON(ctx, cacheKey, &cached); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	users, err := s.engine.Users(ctx, []string{id})
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(users) == 0 {
		errorJSON(c, http.StatusNotFound, "not_found", "no such user")
		return
	}
	_ = s.cache.SetJSON(ctx, cacheKey, users[0], 10*time.Minute)
	c.JSON(http.StatusOK, users[0])
}

func (s *Server) setUserNickname(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	var body struct {
		ID       string `json:"id"`
		Nickname string `json:"nickname"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		errorJSON(c, http.StatusBadRequest, "invalid_body", "id and nickname are required")
		return
	}
	if err := s.engine.SetUserNickname(ctx, body.ID, body.Nickname); err != nil {
		s.fail(c, err)
		return
	}
	_ = s.cache.Del(ctx, "user:"+body.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) setUserNotes(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	var body struct {
		ID    string `json:"id"`
		Notes string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.ID == "" {
		errorJSON(c, http.StatusBadRequest, "invalid_body", "id and notes are required")
		return
	}
	if err := s.engine.SetUserNotes(ctx, body.ID, body.Notes); err != nil {
		s.fail(c, err)
		return
	}
	_ = s.cache.Del(ctx, "user:"+body.ID)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// --- stats, avatars, media ---

func (s *Server) globalStats(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	var cached models.GlobalStats
	if ok, _ := s.cache.GetJSON(ctx, statsCacheKey, &cached); ok {
		c.JSON(http.StatusOK, cached)
		return
	}
	stats, err := s.store.GlobalStats(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	_ = s.cache.SetJSON(ctx, statsCacheKey, stats, time.Hour)
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getAvatar(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	file := c.Param("file")
	ext := path.Ext(file)
	id := strings.TrimSuffix(file, ext)

	avatar, _, err := s.store.UserAvatar(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(avatar) == 0 {
		errorJSON(c, http.StatusNotFound, "not_found", "user has no stored avatar")
		return
	}
	c.Data(http.StatusOK, contentTypeFor(ext), avatar)
}

func (s *Server) getMedia(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	name := c.Param("file")
	rc, err := s.media.Open(ctx, false, name)
	if err != nil {
		rc, err = s.media.Open(ctx, true, name)
	}
	if err != nil {
		errorJSON(c, http.StatusNotFound, "not_found", "no such media file")
		return
	}
	defer rc.Close()

	c.Header("Content-Type", contentTypeFor(path.Ext(name)))
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		s.log.Warn("media_stream_interrupted", "file", name, "error", err)
	}
}

// mediaDimensions probes an attachment's pixel size on first request and
// persists it so later pages come back with it filled in.
func (s *Server) mediaDimensions(c *gin.Context) {
	ctx, cancel := s.ctx(c)
	defer cancel()

	mediaID := c.Query("id")
	name := c.Query("name")
	mediaType := c.DefaultQuery("type", models.MediaImage)
	if mediaID == "" || name == "" {
		errorJSON(c, http.StatusBadRequest, "missing_parameter", "id and name are required")
		return
	}

	rc, err := s.media.Open(ctx, c.Query("group") == "true", name)
	if err != nil {
		errorJSON(c, http.StatusNotFound, "not_found", "no such media file")
		return
	}
	defer rc.Close()

	width, height, err := storage.ProbeDimensions(rc, mediaType)
	if err != nil {
		s.fail(c, err)
		return
	}
	if width > 0 {
		if err := s.store.SetMediaDimensions(ctx, mediaID, width, height); err != nil {
			s.fail(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"width": width, "height": height})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) fail(c *gin.Context, err error) {
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "not_found", "no such record")
		return
	}
	s.log.Error("request_failed", "path", c.Request.URL.Path, "error", err)
	errorJSON(c, http.StatusInternalServerError, "internal_error", "something went wrong")
}

func contentTypeFor(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
