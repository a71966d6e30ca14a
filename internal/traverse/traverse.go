// Package traverse pages through a conversation's history in either
// direction, splicing name changes and membership changes in between the
// messages so no page ever has a gap or an overlap with its neighbors.
package traverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

// ErrBadCursor means a traversal request did not name exactly one position.
var ErrBadCursor = errors.New("exactly one of after, before, or at is required")

// MaxNicknameLength bounds user-assigned nicknames.
const MaxNicknameLength = 50

// Cursor positions one page request. Exactly one field may be set: After and
// Before are exclusive timestamp bounds, At centers the page on a timestamp.
type Cursor struct {
	After  string
	Before string
	At     string
}

// Page is one traversal result: the chronological items plus sidecar records
// for every user and conversation they reference.
type Page struct {
	Items         []models.MessageLike  `json:"results"`
	Users         []models.User         `json:"users"`
	Conversations []models.Conversation `json:"conversations"`
}

// Engine answers read queries over a finished archive. It caches hydrated
// users and conversations; the caches are invalidated through the Engine's
// own mutation methods, which is safe because the archive itself never
// changes after import.
type Engine struct {
	store  store.Store
	logger *slog.Logger

	mu        sync.Mutex
	users     map[string]models.User
	convs     map[string]models.Conversation
	userConvs map[string][]string
}

func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:     st,
		logger:    logger,
		users:     make(map[string]models.User),
		convs:     make(map[string]models.Conversation),
		userConvs: make(map[string][]string),
	}
}

// Traverse returns one page of history for the given filter. A search query
// restricts results to matching messages and suppresses conversation events,
// since those have no text to match.
func (e *Engine) Traverse(ctx context.Context, f store.MessageFilter, cur Cursor, search *store.SearchQuery) (*Page, error) {
	set := 0
	for _, v := range []string{cur.After, cur.Before, cur.At} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, ErrBadCursor
	}
	if search != nil && search.Empty() {
		search = nil
	}

	var msgs []models.Message
	var windowStart, windowEnd string
	var err error

	switch {
	case cur.After != "":
		msgs, err = e.store.MessagesAsc(ctx, f, cur.After, search, store.MessagesPerPage)
		if err != nil {
			return nil, err
		}
		windowStart = cur.After
		windowEnd = models.TimeNines
		if len(msgs) == store.MessagesPerPage {
			windowEnd = msgs[len(msgs)-1].SentTime
		}

	case cur.Before != "":
		msgs, err = e.store.MessagesDesc(ctx, f, cur.Before, false, search, store.MessagesPerPage)
		if err != nil {
			return nil, err
		}
		reverse(msgs)
		windowEnd = cur.Before
		windowStart = models.TimeZeroes
		if len(msgs) == store.MessagesPerPage {
			windowStart = msgs[0].SentTime
		}

	default:
		half := store.MessagesPerPage / 2
		upper, err := e.store.MessagesDesc(ctx, f, cur.At, true, search, half)
		if err != nil {
			return nil, err
		}
		reverse(upper)
		lower, err := e.store.MessagesAsc(ctx, f, cur.At, search, half)
		if err != nil {
			return nil, err
		}
		windowStart = models.TimeZeroes
		if len(upper) == half {
			windowStart = upper[0].SentTime
		}
		windowEnd = models.TimeNines
		if len(lower) == half {
			windowEnd = lower[len(lower)-1].SentTime
		}
		msgs = append(upper, lower...)
	}

	items := make([]models.MessageLike, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, m)
	}

	if search == nil {
		renames, err := e.store.NameUpdatesBetween(ctx, f, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		for _, n := range renames {
			items = append(items, n)
		}
		joins, err := e.store.JoinsBetween(ctx, f, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		for _, j := range joins {
			items = append(items, j)
		}
		leaves, err := e.store.LeavesBetween(ctx, f, windowStart, windowEnd)
		if err != nil {
			return nil, err
		}
		for _, l := range leaves {
			items = append(items, l)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp() < items[j].Timestamp()
	})

	return e.hydratePage(ctx, items)
}

func (e *Engine) hydratePage(ctx context.Context, items []models.MessageLike) (*Page, error) {
	users, err := e.Users(ctx, models.UniqueUserIDs(items))
	if err != nil {
		return nil, err
	}
	convs, err := e.Conversations(ctx, models.UniqueConversationIDs(items))
	if err != nil {
		return nil, err
	}
	return &Page{Items: items, Users: users, Conversations: convs}, nil
}

func reverse(msgs []models.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// Users hydrates the given ids, serving repeats from cache.
func (e *Engine) Users(ctx context.Context, ids []string) ([]models.User, error) {
	out := make([]models.User, 0, len(ids))
	var missing []string
	e.mu.Lock()
	for _, id := range ids {
		if u, ok := e.users[id]; ok {
			out = append(out, u)
		} else {
			missing = append(missing, id)
		}
	}
	e.mu.Unlock()

	if len(missing) > 0 {
		fetched, err := e.store.UsersByID(ctx, missing)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		for _, u := range fetched {
			e.users[u.ID] = u
		}
		e.mu.Unlock()
		out = append(out, fetched...)
	}
	return out, nil
}

// Conversations hydrates the given ids, deriving display names and images,
// serving repeats from cache.
func (e *Engine) Conversations(ctx context.Context, ids []string) ([]models.Conversation, error) {
	out := make([]models.Conversation, 0, len(ids))
	for _, id := range ids {
		e.mu.Lock()
		c, ok := e.convs[id]
		e.mu.Unlock()
		if !ok {
			raw, err := e.store.ConversationByID(ctx, id)
			if err != nil {
				return nil, err
			}
			c, err = e.resolveConversation(ctx, raw)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ConversationPage lists conversations per the query, fully resolved.
func (e *Engine) ConversationPage(ctx context.Context, q store.ConversationQuery) ([]models.Conversation, error) {
	raw, err := e.store.Conversations(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(raw))
	for _, c := range raw {
		e.mu.Lock()
		cached, ok := e.convs[c.ID]
		e.mu.Unlock()
		if ok {
			out = append(out, cached)
			continue
		}
		resolved, err := e.resolveConversation(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

// resolveConversation fills the derived fields of a raw conversation record
// and caches the result, indexed by the users the derivation read so a
// nickname change can evict exactly the entries it affects.
func (e *Engine) resolveConversation(ctx context.Context, c models.Conversation) (models.Conversation, error) {
	var dependsOn []string

	if c.Type == models.ConversationIndividual {
		c.ImageURL = models.UserDefaultAvatarURL
		c.Name = c.OtherPersonID
		if c.OtherPersonID != "" {
			dependsOn = append(dependsOn, c.OtherPersonID)
			others, err := e.Users(ctx, []string{c.OtherPersonID})
			if err != nil {
				return models.Conversation{}, err
			}
			if len(others) > 0 {
				other := others[0]
				c.OtherPerson = &other.UserSummary
				c.ImageURL = other.AvatarURL
				if other.Nickname != "" {
					c.Name = other.Nickname
				} else {
					c.Name = fmt.Sprintf("%s (@%s)", other.DisplayName, other.Handle)
				}
			}
		}
	} else {
		c.ImageURL = models.GroupDefaultImageURL
		name, ok, err := e.store.LatestConversationName(ctx, c.ID)
		if err != nil {
			return models.Conversation{}, err
		}
		if ok {
			c.Name = name
		} else {
			c.Name, err = e.groupNameFromParticipants(ctx, c.ID, &dependsOn)
			if err != nil {
				return models.Conversation{}, err
			}
		}
	}

	if c.AddedByID != "" {
		dependsOn = append(dependsOn, c.AddedByID)
		adders, err := e.Users(ctx, []string{c.AddedByID})
		if err != nil {
			return models.Conversation{}, err
		}
		if len(adders) > 0 {
			adder := adders[0]
			c.AddedBy = &adder.UserSummary
		}
	}

	e.mu.Lock()
	e.convs[c.ID] = c
	for _, id := range dependsOn {
		e.userConvs[id] = append(e.userConvs[id], c.ID)
	}
	e.mu.Unlock()
	return c, nil
}

// groupNameFromParticipants names a never-renamed group after its five
// busiest members, with an "etc." marker if there are more.
func (e *Engine) groupNameFromParticipants(ctx context.Context, conversationID string, dependsOn *[]string) (string, error) {
	const shown = 5
	names, err := e.store.TopParticipantNames(ctx, conversationID, shown+1)
	if err != nil {
		return "", err
	}
	etc := len(names) > shown
	if etc {
		names = names[:shown]
	}
	parts := make([]string, 0, len(names))
	for _, pn := range names {
		*dependsOn = append(*dependsOn, pn.UserID)
		switch {
		case pn.Nickname != "":
			parts = append(parts, pn.Nickname)
		case pn.DisplayName != "":
			parts = append(parts, pn.DisplayName)
		default:
			parts = append(parts, "@"+pn.UserID)
		}
	}
	name := joinComma(parts)
	if etc {
		name += ", etc."
	}
	return name, nil
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}

// SetUserNickname updates a nickname, truncating it to MaxNicknameLength
// runes, and evicts every cache entry the old value could be baked into.
func (e *Engine) SetUserNickname(ctx context.Context, id, nickname string) error {
	if runes := []rune(nickname); len(runes) > MaxNicknameLength {
		nickname = string(runes[:MaxNicknameLength])
	}
	if err := e.store.SetUserNickname(ctx, id, nickname); err != nil {
		return err
	}
	e.invalidateUser(id)
	return nil
}

func (e *Engine) SetUserNotes(ctx context.Context, id, notes string) error {
	if err := e.store.SetUserNotes(ctx, id, notes); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.users, id)
	e.mu.Unlock()
	return nil
}

func (e *Engine) SetConversationNotes(ctx context.Context, id, notes string) error {
	if err := e.store.SetConversationNotes(ctx, id, notes); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.convs, id)
	e.mu.Unlock()
	return nil
}

func (e *Engine) invalidateUser(id string) {
	e.mu.Lock()
	delete(e.users, id)
	for _, convID := range e.userConvs[id] {
		delete(e.convs, convID)
	}
	delete(e.userConvs, id)
	e.mu.Unlock()
}
