package store

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

// Memory is an in-memory Store. It backs tests and DSN-less runs the same way
// the reference tooling leaned on :memory: databases: full contract, zero
// infrastructure. Reads take a shared lock, so concurrent traversal callers
// are fine.
type Memory struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	owner string

	users         map[string]*memUser
	conversations map[string]*memConversation
	participants  map[string]*memParticipant // key: userID + "\x00" + conversationID
	messages      []*memMessage
	messageByID   map[string]*memMessage
	nameUpdates   []*memNameUpdate
	mediaByID     map[string]*models.Media

	nextRowID int64
	stats     models.GlobalStats
	finalized bool
}

type memUser struct {
	id, handle, displayName, nickname, bio, notes string
	avatar                                        []byte
	avatarFormat                                  string
	resolved                                      bool
	numberOfMessages                              int
	firstAppearance, lastAppearance               string
}

type memConversation struct {
	id, conversationType, otherPerson, addedBy, notes string
	firstTime, lastTime                               string
	createdByMe                                       bool
	numberOfMessages, messagesFromYou                 int
	numParticipants, numNameUpdates                   int
}

type memParticipant struct {
	rowid                int64
	user, conversation   string
	addedBy, start, end  string
	messagesSent         int
}

type memMessage struct {
	models.Message
	links []models.Link
}

type memNameUpdate struct {
	rowid        int64
	updateTime   string
	initiator    string
	newName      string
	conversation string
}

func newMemData() *memData {
	return &memData{
		users:         make(map[string]*memUser),
		conversations: make(map[string]*memConversation),
		participants:  make(map[string]*memParticipant),
		messageByID:   make(map[string]*memMessage),
		mediaByID:     make(map[string]*models.Media),
	}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

var _ Store = (*Memory)(nil)

func participantKey(userID, conversationID string) string {
	return userID + "\x00" + conversationID
}

func (s *Memory) Owner(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.owner, nil
}

// --- projections ---

func (d *memData) userSummary(u *memUser) models.UserSummary {
	handle, display, avatarURL := u.id, models.DefaultDisplayName, models.UserDefaultAvatarURL
	if u.resolved {
		handle, display = u.handle, u.displayName
		avatarURL = fmt.Sprintf("%s%s.%s", models.AvatarAPIPath, u.id, u.avatarFormat)
	}
	return models.UserSummary{
		ID:          u.id,
		Nickname:    u.nickname,
		Handle:      handle,
		DisplayName: display,
		AvatarURL:   avatarURL,
		Resolved:    u.resolved,
		IsMainUser:  u.id == d.owner,
	}
}

func (d *memData) userModel(u *memUser) models.User {
	return models.User{
		UserSummary:      d.userSummary(u),
		NumberOfMessages: u.numberOfMessages,
		Bio:              u.bio,
		Notes:            u.notes,
		FirstAppearance:  u.firstAppearance,
		LastAppearance:   u.lastAppearance,
	}
}

func (d *memData) conversationModel(c *memConversation) models.Conversation {
	return models.Conversation{
		ID:               c.id,
		Type:             c.conversationType,
		NumberOfMessages: c.numberOfMessages,
		MessagesFromYou:  c.messagesFromYou,
		FirstTime:        c.firstTime,
		LastTime:         c.lastTime,
		NumParticipants:  c.numParticipants,
		NumNameUpdates:   c.numNameUpdates,
		CreatedByMe:      c.createdByMe,
		Notes:            c.notes,
		OtherPersonID:    c.otherPerson,
		AddedByID:        c.addedBy,
	}
}

func nameUpdateModel(n *memNameUpdate) models.NameUpdate {
	return models.NameUpdate{
		Schema:       models.SchemaNameUpdate,
		ID:           fmt.Sprintf("update%d", n.rowid),
		UpdateTime:   n.updateTime,
		Initiator:    n.initiator,
		NewName:      n.newName,
		Conversation: n.conversation,
	}
}

// --- message traversal ---

func (d *memData) filteredMessages(f MessageFilter, search *SearchQuery) []*memMessage {
	var out []*memMessage
	for _, m := range d.messages {
		if f.Conversation != "" && m.Conversation != f.Conversation {
			continue
		}
		if f.User != "" && m.Sender != f.User {
			continue
		}
		if search != nil && !matchSearch(m.Content, *search) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func (s *Memory) MessagesAsc(ctx context.Context, f MessageFilter, after string, search *SearchQuery, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Message
	for _, m := range s.data.filteredMessages(f, search) {
		if after != "" && m.SentTime <= after {
			continue
		}
		out = append(out, m.Message)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) MessagesDesc(ctx context.Context, f MessageFilter, before string, inclusive bool, search *SearchQuery, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := s.data.filteredMessages(f, search)
	var out []models.Message
	for i := len(matched) - 1; i >= 0; i-- {
		m := matched[i]
		if before != "" {
			if inclusive && m.SentTime > before {
				continue
			}
			if !inclusive && m.SentTime >= before {
				continue
			}
		}
		out = append(out, m.Message)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Memory) NameUpdatesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.NameUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.NameUpdate
	for _, n := range s.data.nameUpdates {
		if f.Conversation != "" && n.conversation != f.Conversation {
			continue
		}
		if f.User != "" && n.initiator != f.User {
			continue
		}
		if n.updateTime <= start || n.updateTime >= end {
			continue
		}
		out = append(out, nameUpdateModel(n))
	}
	return out, nil
}

func (s *Memory) JoinsBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantJoin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ParticipantJoin
	for _, p := range s.data.participants {
		if f.Conversation != "" && p.conversation != f.Conversation {
			continue
		}
		if f.User != "" && p.user != f.User {
			continue
		}
		if p.start == "" || p.start <= start || p.start >= end {
			continue
		}
		out = append(out, models.ParticipantJoin{
			Schema:       models.SchemaParticipantJoin,
			ID:           fmt.Sprintf("%djoin", p.rowid),
			Participant:  p.user,
			AddedBy:      p.addedBy,
			Conversation: p.conversation,
			Time:         p.start,
		})
	}
	return out, nil
}

func (s *Memory) LeavesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantLeave, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ParticipantLeave
	for _, p := range s.data.participants {
		if f.Conversation != "" && p.conversation != f.Conversation {
			continue
		}
		if f.User != "" && p.user != f.User {
			continue
		}
		if p.end == "" || p.end <= start || p.end >= end {
			continue
		}
		out = append(out, models.ParticipantLeave{
			Schema:       models.SchemaParticipantLeave,
			ID:           fmt.Sprintf("%dleave", p.rowid),
			Participant:  p.user,
			Conversation: p.conversation,
			Time:         p.end,
		})
	}
	return out, nil
}

func (s *Memory) MessageByID(ctx context.Context, id string) (models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.data.messageByID[id]
	if !ok {
		return models.Message{}, ErrNotFound
	}
	return m.Message, nil
}

func (s *Memory) MessageTimestamp(ctx context.Context, id string) (string, error) {
	m, err := s.MessageByID(ctx, id)
	if err != nil {
		return "", err
	}
	return m.SentTime, nil
}

func (s *Memory) RandomMessages(ctx context.Context, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	perm := rand.Perm(len(s.data.messages))
	if len(perm) > limit {
		perm = perm[:limit]
	}
	out := make([]models.Message, 0, len(perm))
	for _, i := range perm {
		out = append(out, s.data.messages[i].Message)
	}
	return out, nil
}

// --- users ---

func (s *Memory) UsersByID(ctx context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.User
	for _, id := range ids {
		if u, ok := s.data.users[id]; ok {
			out = append(out, s.data.userModel(u))
		}
	}
	return out, nil
}

func (s *Memory) UsersByMessageCount(ctx context.Context, page int) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*memUser, 0, len(s.data.users))
	for _, u := range s.data.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].numberOfMessages != all[j].numberOfMessages {
			return all[i].numberOfMessages > all[j].numberOfMessages
		}
		return all[i].id < all[j].id
	})
	var out []models.User
	for _, u := range pageOf(all, page, UsersPerPage) {
		out = append(out, s.data.userModel(u))
	}
	return out, nil
}

func (s *Memory) ParticipantsByMessageCount(ctx context.Context, conversationID string, page int) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*memParticipant
	for _, p := range s.data.participants {
		if p.conversation == conversationID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].messagesSent != all[j].messagesSent {
			return all[i].messagesSent > all[j].messagesSent
		}
		return all[i].user < all[j].user
	})
	var out []models.Participant
	for _, p := range pageOf(all, page, UsersPerPage) {
		u, ok := s.data.users[p.user]
		if !ok {
			continue
		}
		out = append(out, models.Participant{
			UserSummary:            s.data.userSummary(u),
			Conversation:           p.conversation,
			MessagesInConversation: p.messagesSent,
			JoinTime:               p.start,
			LeaveTime:              p.end,
		})
	}
	return out, nil
}

func (s *Memory) UserAvatar(ctx context.Context, id string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.data.users[id]
	if !ok {
		return nil, "", ErrNotFound
	}
	return u.avatar, u.avatarFormat, nil
}

func (s *Memory) SetUserNickname(ctx context.Context, id, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return ErrNotFound
	}
	u.nickname = nickname
	return nil
}

func (s *Memory) SetUserNotes(ctx context.Context, id, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[id]
	if !ok {
		return ErrNotFound
	}
	u.notes = notes
	return nil
}

// --- conversations ---

func (s *Memory) Conversations(ctx context.Context, q ConversationQuery) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d := s.data

	var all []*memConversation
	for _, c := range d.conversations {
		if c.conversationType == models.ConversationGroup && !q.Group {
			continue
		}
		if c.conversationType == models.ConversationIndividual && !q.Individual {
			continue
		}
		if q.ForUser != "" {
			if _, ok := d.participants[participantKey(q.ForUser, c.id)]; !ok {
				continue
			}
		}
		all = append(all, c)
	}

	less := func(i, j *memConversation) bool { return i.id < j.id }
	switch q.Order {
	case OrderOldestFirst:
		less = func(i, j *memConversation) bool { return i.firstTime < j.firstTime }
	case OrderNewestFirst:
		less = func(i, j *memConversation) bool { return i.lastTime > j.lastTime }
	case OrderMostMessages:
		less = func(i, j *memConversation) bool { return i.numberOfMessages > j.numberOfMessages }
	case OrderMostMessagesFromYou:
		less = func(i, j *memConversation) bool { return i.messagesFromYou > j.messagesFromYou }
	case OrderUserMessages:
		sent := func(c *memConversation) int {
			if p, ok := d.participants[participantKey(q.ForUser, c.id)]; ok {
				return p.messagesSent
			}
			return 0
		}
		less = func(i, j *memConversation) bool { return sent(i) > sent(j) }
	}
	sort.SliceStable(all, func(i, j int) bool { return less(all[i], all[j]) })

	var out []models.Conversation
	for _, c := range pageOf(all, q.Page, ConversationsPerPage) {
		out = append(out, d.conversationModel(c))
	}
	return out, nil
}

func (s *Memory) ConversationByID(ctx context.Context, id string) (models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.data.conversations[id]
	if !ok {
		return models.Conversation{}, ErrNotFound
	}
	return s.data.conversationModel(c), nil
}

func (s *Memory) LatestConversationName(ctx context.Context, conversationID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *memNameUpdate
	for _, n := range s.data.nameUpdates {
		if n.conversation != conversationID {
			continue
		}
		if latest == nil || n.updateTime > latest.updateTime {
			latest = n
		}
	}
	if latest == nil {
		return "", false, nil
	}
	return latest.newName, true, nil
}

func (s *Memory) TopParticipantNames(ctx context.Context, conversationID string, limit int) ([]ParticipantName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*memParticipant
	for _, p := range s.data.participants {
		if p.conversation == conversationID {
			all = append(all, p)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].messagesSent != all[j].messagesSent {
			return all[i].messagesSent > all[j].messagesSent
		}
		return all[i].user < all[j].user
	})
	if len(all) > limit {
		all = all[:limit]
	}
	var out []ParticipantName
	for _, p := range all {
		pn := ParticipantName{UserID: p.user}
		if u, ok := s.data.users[p.user]; ok {
			pn.Nickname = u.nickname
			if u.resolved {
				pn.DisplayName = u.displayName
			}
		}
		out = append(out, pn)
	}
	return out, nil
}

func (s *Memory) NameUpdatesPage(ctx context.Context, conversationID string, oldestFirst bool, page int) ([]models.NameUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []*memNameUpdate
	for _, n := range s.data.nameUpdates {
		if n.conversation == conversationID {
			all = append(all, n)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if oldestFirst {
			return all[i].updateTime < all[j].updateTime
		}
		return all[i].updateTime > all[j].updateTime
	})
	var out []models.NameUpdate
	for _, n := range pageOf(all, page, NameUpdatesPerPage) {
		out = append(out, nameUpdateModel(n))
	}
	return out, nil
}

func (s *Memory) SetConversationNotes(ctx context.Context, id, notes string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.notes = notes
	return nil
}

func (s *Memory) SetMediaDimensions(ctx context.Context, mediaID string, width, height int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data.mediaByID[mediaID]
	if !ok {
		return ErrNotFound
	}
	m.Width, m.Height = width, height
	// messages embed media by value; refresh them
	for _, msg := range s.data.messages {
		for i := range msg.Media {
			if msg.Media[i].ID == mediaID {
				msg.Media[i].Width, msg.Media[i].Height = width, height
			}
		}
	}
	return nil
}

func (s *Memory) GlobalStats(ctx context.Context) (models.GlobalStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.stats, nil
}

func pageOf[T any](all []T, page, perPage int) []T {
	if page < 1 {
		page = 1
	}
	lo := (page - 1) * perPage
	if lo >= len(all) {
		return nil
	}
	hi := lo + perPage
	if hi > len(all) {
		hi = len(all)
	}
	return all[lo:hi]
}

// --- search matching ---

func normalizeWords(text string) []string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0x80 {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

func matchSearch(content string, q SearchQuery) bool {
	words := normalizeWords(content)
	for _, term := range q.Terms {
		if term.Phrase {
			if !matchPhrase(words, normalizeWords(term.Text)) {
				return false
			}
			continue
		}
		// normalize query words the same way content is normalized so
		// punctuation in a term cannot defeat the match
		for _, w := range normalizeWords(term.Text) {
			if !matchWord(words, w) {
				return false
			}
		}
	}
	return true
}

func matchWord(words []string, term string) bool {
	for _, w := range words {
		if w == term || strings.HasPrefix(w, term) {
			return true
		}
	}
	return false
}

func matchPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return true
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, pw := range phrase {
			if words[i+j] != pw {
				continue outer
			}
		}
		return true
	}
	return false
}

// --- import ---

type memImport struct {
	s       *Memory
	data    *memData
	done    bool
}

func (s *Memory) BeginImport(ctx context.Context, ownerID string) (Import, error) {
	d := newMemData()
	d.owner = ownerID
	return &memImport{s: s, data: d}, nil
}

func (im *memImport) AddUser(ctx context.Context, id string) error {
	if _, ok := im.data.users[id]; !ok {
		im.data.users[id] = &memUser{id: id}
	}
	return nil
}

func (im *memImport) AddConversation(ctx context.Context, id, conversationType, otherPersonID string) error {
	if _, ok := im.data.conversations[id]; !ok {
		im.data.conversations[id] = &memConversation{
			id:               id,
			conversationType: conversationType,
			otherPerson:      otherPersonID,
			createdByMe:      true,
		}
	}
	return nil
}

func (im *memImport) SetConversationJoin(ctx context.Context, id, firstTime, addedByID string) error {
	c, ok := im.data.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.firstTime = firstTime
	c.addedBy = addedByID
	c.createdByMe = false
	return nil
}

func (im *memImport) AddParticipant(ctx context.Context, userID, conversationID string) error {
	key := participantKey(userID, conversationID)
	if _, ok := im.data.participants[key]; !ok {
		im.data.nextRowID++
		im.data.participants[key] = &memParticipant{
			rowid:        im.data.nextRowID,
			user:         userID,
			conversation: conversationID,
		}
	}
	return nil
}

func (im *memImport) SetParticipantAddedBy(ctx context.Context, userID, conversationID, addedByID string) error {
	p, ok := im.data.participants[participantKey(userID, conversationID)]
	if !ok {
		return ErrNotFound
	}
	p.addedBy = addedByID
	return nil
}

func (im *memImport) AddMessage(ctx context.Context, m models.Message, links []models.Link) error {
	m.Schema = models.SchemaMessage
	for i := range m.Reactions {
		im.data.nextRowID++
		m.Reactions[i].ID = im.data.nextRowID
	}
	mm := &memMessage{Message: m, links: links}
	im.data.messages = append(im.data.messages, mm)
	im.data.messageByID[m.ID] = mm
	for i := range m.Media {
		md := m.Media[i]
		im.data.mediaByID[md.ID] = &md
	}
	return nil
}

func (im *memImport) AddNameUpdate(ctx context.Context, n models.NameUpdate) error {
	im.data.nextRowID++
	im.data.nameUpdates = append(im.data.nameUpdates, &memNameUpdate{
		rowid:        im.data.nextRowID,
		updateTime:   n.UpdateTime,
		initiator:    n.Initiator,
		newName:      n.NewName,
		conversation: n.Conversation,
	})
	return nil
}

func (im *memImport) SetParticipantInterval(ctx context.Context, userID, conversationID, start, end string) error {
	p, ok := im.data.participants[participantKey(userID, conversationID)]
	if !ok {
		return ErrNotFound
	}
	p.start, p.end = start, end
	return nil
}

func (im *memImport) UpdateUserProfile(ctx context.Context, id string, p ProfileUpdate) error {
	u, ok := im.data.users[id]
	if !ok {
		return ErrNotFound
	}
	u.handle = p.Handle
	u.displayName = p.DisplayName
	u.bio = p.Bio
	u.avatar = p.Avatar
	u.avatarFormat = p.AvatarFormat
	u.resolved = true
	return nil
}

func (im *memImport) DeriveStats(ctx context.Context) error {
	d := im.data
	sort.SliceStable(d.messages, func(i, j int) bool {
		return d.messages[i].SentTime < d.messages[j].SentTime
	})

	for _, m := range d.messages {
		c := d.conversations[m.Conversation]
		if c != nil {
			c.numberOfMessages++
			if m.Sender == d.owner {
				c.messagesFromYou++
			}
			if c.firstTime == "" || m.SentTime < c.firstTime {
				c.firstTime = m.SentTime
			}
			if c.lastTime == "" || m.SentTime > c.lastTime {
				c.lastTime = m.SentTime
			}
		}
		if u := d.users[m.Sender]; u != nil {
			u.numberOfMessages++
			if u.firstAppearance == "" || m.SentTime < u.firstAppearance {
				u.firstAppearance = m.SentTime
			}
			if u.lastAppearance == "" || m.SentTime > u.lastAppearance {
				u.lastAppearance = m.SentTime
			}
		}
		if p := d.participants[participantKey(m.Sender, m.Conversation)]; p != nil {
			p.messagesSent++
		}
	}
	for _, p := range d.participants {
		if c := d.conversations[p.conversation]; c != nil {
			c.numParticipants++
		}
	}
	for _, n := range d.nameUpdates {
		if c := d.conversations[n.conversation]; c != nil {
			c.numNameUpdates++
		}
	}

	d.stats = models.GlobalStats{
		NumberOfConversations: len(d.conversations),
		NumberOfUsers:         len(d.users),
		NumberOfMessages:      len(d.messages),
	}
	for _, c := range d.conversations {
		if c.firstTime != "" && (d.stats.EarliestMessage == "" || c.firstTime < d.stats.EarliestMessage) {
			d.stats.EarliestMessage = c.firstTime
		}
		if c.lastTime > d.stats.LatestMessage {
			d.stats.LatestMessage = c.lastTime
		}
	}
	d.finalized = true
	return nil
}

func (im *memImport) Commit(ctx context.Context) error {
	if im.done {
		return nil
	}
	im.done = true
	im.s.mu.Lock()
	im.s.data = im.data
	im.s.mu.Unlock()
	return nil
}

func (im *memImport) Rollback(ctx context.Context) error {
	im.done = true
	return nil
}
