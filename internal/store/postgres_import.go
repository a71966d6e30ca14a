package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/db"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

// pgImport runs the whole ingestion inside one transaction, so a failed or
// interrupted import leaves no half-written archive behind. Messages and
// their satellites stream straight into COPY buffers; users, conversations
// and participants are staged in memory because later events keep amending
// them (enrichment results, added_by, resolved intervals) right up until
// finalization.
type pgImport struct {
	tx     pgx.Tx
	logger *slog.Logger
	owner  string

	users         map[string]*stagedUser
	conversations map[string]*stagedConversation
	participants  map[string]*stagedParticipant
	nextRowID     int64

	messages  *db.CopyBuffer
	reactions *db.CopyBuffer
	media     *db.CopyBuffer
	links     *db.CopyBuffer
	renames   *db.CopyBuffer

	done bool
}

type stagedUser struct {
	profile *ProfileUpdate
}

type stagedConversation struct {
	conversationType, otherPerson, addedBy, firstTime string
	createdByMe                                       bool
}

type stagedParticipant struct {
	rowid               int64
	addedBy, start, end string
}

const copyFlushSize = 10000

func (s *Postgres) BeginImport(ctx context.Context, ownerID string) (Import, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgImport{
		tx:            tx,
		logger:        s.logger,
		owner:         ownerID,
		users:         make(map[string]*stagedUser),
		conversations: make(map[string]*stagedConversation),
		participants:  make(map[string]*stagedParticipant),
		messages: db.NewCopyBuffer(tx, "messages",
			[]string{"id", "sent_time", "conversation_id", "sender", "content", "html_content"},
			copyFlushSize, s.logger),
		reactions: db.NewCopyBuffer(tx, "reactions",
			[]string{"id", "message_id", "emotion", "creation_time", "creator"},
			copyFlushSize, s.logger),
		media: db.NewCopyBuffer(tx, "media",
			[]string{"id", "message_id", "type", "filename", "from_group", "width", "height"},
			copyFlushSize, s.logger),
		links: db.NewCopyBuffer(tx, "links",
			[]string{"message_id", "orig_url", "url_preview", "shortened"},
			copyFlushSize, s.logger),
		renames: db.NewCopyBuffer(tx, "name_updates",
			[]string{"rowid", "conversation_id", "update_time", "initiator", "new_name"},
			copyFlushSize, s.logger),
	}, nil
}

var _ Import = (*pgImport)(nil)

func (im *pgImport) AddUser(ctx context.Context, id string) error {
	if _, ok := im.users[id]; !ok {
		im.users[id] = &stagedUser{}
	}
	return nil
}

func (im *pgImport) AddConversation(ctx context.Context, id, conversationType, otherPersonID string) error {
	if _, ok := im.conversations[id]; !ok {
		im.conversations[id] = &stagedConversation{
			conversationType: conversationType,
			otherPerson:      otherPersonID,
			createdByMe:      true,
		}
	}
	return nil
}

func (im *pgImport) SetConversationJoin(ctx context.Context, id, firstTime, addedByID string) error {
	c, ok := im.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.firstTime = firstTime
	c.addedBy = addedByID
	c.createdByMe = false
	return nil
}

func (im *pgImport) AddParticipant(ctx context.Context, userID, conversationID string) error {
	key := participantKey(userID, conversationID)
	if _, ok := im.participants[key]; !ok {
		im.nextRowID++
		im.participants[key] = &stagedParticipant{rowid: im.nextRowID}
	}
	return nil
}

func (im *pgImport) SetParticipantAddedBy(ctx context.Context, userID, conversationID, addedByID string) error {
	p, ok := im.participants[participantKey(userID, conversationID)]
	if !ok {
		return ErrNotFound
	}
	p.addedBy = addedByID
	return nil
}

func (im *pgImport) AddMessage(ctx context.Context, m models.Message, links []models.Link) error {
	if err := im.messages.Add(ctx, m.ID, m.SentTime, m.Conversation, m.Sender, m.Content, m.HTMLContent); err != nil {
		return err
	}
	for _, r := range m.Reactions {
		im.nextRowID++
		if err := im.reactions.Add(ctx, im.nextRowID, m.ID, r.Emotion, r.CreationTime, r.Creator); err != nil {
			return err
		}
	}
	for _, md := range m.Media {
		if err := im.media.Add(ctx, md.ID, m.ID, md.Type, md.Filename, md.FromGroup, 0, 0); err != nil {
			return err
		}
	}
	for _, l := range links {
		if err := im.links.Add(ctx, m.ID, l.OrigURL, l.Preview, l.Shortened); err != nil {
			return err
		}
	}
	return nil
}

func (im *pgImport) AddNameUpdate(ctx context.Context, n models.NameUpdate) error {
	im.nextRowID++
	return im.renames.Add(ctx, im.nextRowID, n.Conversation, n.UpdateTime, n.Initiator, n.NewName)
}

func (im *pgImport) SetParticipantInterval(ctx context.Context, userID, conversationID, start, end string) error {
	p, ok := im.participants[participantKey(userID, conversationID)]
	if !ok {
		return ErrNotFound
	}
	p.start, p.end = start, end
	return nil
}

func (im *pgImport) UpdateUserProfile(ctx context.Context, id string, p ProfileUpdate) error {
	u, ok := im.users[id]
	if !ok {
		return ErrNotFound
	}
	u.profile = &p
	return nil
}

// DeriveStats drains every buffer, writes the staged rows, and computes the
// denormalized counters the read side pages by.
func (im *pgImport) DeriveStats(ctx context.Context) error {
	for _, b := range []*db.CopyBuffer{im.messages, im.reactions, im.media, im.links, im.renames} {
		if err := b.Flush(ctx); err != nil {
			return err
		}
	}

	userRows := db.NewCopyBuffer(im.tx, "users",
		[]string{"id", "handle", "display_name", "bio", "avatar", "avatar_format", "loaded_full_data"},
		copyFlushSize, im.logger)
	for id, u := range im.users {
		var handle, display, bio, format string
		var avatar []byte
		resolved := u.profile != nil
		if resolved {
			handle, display, bio = u.profile.Handle, u.profile.DisplayName, u.profile.Bio
			avatar, format = u.profile.Avatar, u.profile.AvatarFormat
		}
		if err := userRows.Add(ctx, id, handle, display, bio, avatar, format, resolved); err != nil {
			return err
		}
	}
	if err := userRows.Flush(ctx); err != nil {
		return err
	}

	convRows := db.NewCopyBuffer(im.tx, "conversations",
		[]string{"id", "type", "other_person", "added_by", "created_by_me", "first_time"},
		copyFlushSize, im.logger)
	for id, c := range im.conversations {
		if err := convRows.Add(ctx, id, c.conversationType, c.otherPerson, c.addedBy, c.createdByMe, c.firstTime); err != nil {
			return err
		}
	}
	if err := convRows.Flush(ctx); err != nil {
		return err
	}

	partRows := db.NewCopyBuffer(im.tx, "participants",
		[]string{"rowid", "user_id", "conversation_id", "added_by", "start_time", "end_time"},
		copyFlushSize, im.logger)
	for key, p := range im.participants {
		userID, convID, ok := splitParticipantKey(key)
		if !ok {
			return fmt.Errorf("malformed participant key %q", key)
		}
		if err := partRows.Add(ctx, p.rowid, userID, convID, p.addedBy, p.start, p.end); err != nil {
			return err
		}
	}
	if err := partRows.Flush(ctx); err != nil {
		return err
	}

	type statQuery struct {
		sql  string
		args []any
	}
	stats := []statQuery{
		{sql: `UPDATE users u SET
			number_of_messages = s.n,
			first_appearance = s.first,
			last_appearance = s.last
		 FROM (SELECT sender, count(*) AS n, min(sent_time) AS first, max(sent_time) AS last
		       FROM messages GROUP BY sender) s
		 WHERE u.id = s.sender`},
		{sql: `UPDATE participants p SET messages_sent = s.n
		 FROM (SELECT sender, conversation_id, count(*) AS n
		       FROM messages GROUP BY sender, conversation_id) s
		 WHERE p.user_id = s.sender AND p.conversation_id = s.conversation_id`},
		{sql: `UPDATE conversations c SET
			number_of_messages = s.n,
			messages_from_you = s.from_you,
			first_time = CASE WHEN c.first_time = '' OR s.first < c.first_time THEN s.first ELSE c.first_time END,
			last_time = s.last
		 FROM (SELECT conversation_id, count(*) AS n,
		              count(*) FILTER (WHERE sender = $1) AS from_you,
		              min(sent_time) AS first, max(sent_time) AS last
		       FROM messages GROUP BY conversation_id) s
		 WHERE c.id = s.conversation_id`, args: []any{im.owner}},
		{sql: `UPDATE conversations c SET num_participants = s.n
		 FROM (SELECT conversation_id, count(*) AS n FROM participants GROUP BY conversation_id) s
		 WHERE c.id = s.conversation_id`},
		{sql: `UPDATE conversations c SET num_name_updates = s.n
		 FROM (SELECT conversation_id, count(*) AS n FROM name_updates GROUP BY conversation_id) s
		 WHERE c.id = s.conversation_id`},
	}
	for _, q := range stats {
		if _, err := im.tx.Exec(ctx, q.sql, q.args...); err != nil {
			return fmt.Errorf("deriving stats: %w", err)
		}
	}

	if _, err := im.tx.Exec(ctx,
		`INSERT INTO global_stats (singleton, number_of_conversations, number_of_users,
			number_of_messages, earliest_message, latest_message)
		 SELECT true, (SELECT count(*) FROM conversations), (SELECT count(*) FROM users),
			count(*), coalesce(min(sent_time), ''), coalesce(max(sent_time), '')
		 FROM messages`); err != nil {
		return fmt.Errorf("writing global stats: %w", err)
	}

	if _, err := im.tx.Exec(ctx,
		`INSERT INTO meta (key, value) VALUES ('owner', $1)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`, im.owner); err != nil {
		return err
	}
	return nil
}

func (im *pgImport) Commit(ctx context.Context) error {
	if im.done {
		return nil
	}
	im.done = true
	return im.tx.Commit(ctx)
}

func (im *pgImport) Rollback(ctx context.Context) error {
	if im.done {
		return nil
	}
	im.done = true
	return im.tx.Rollback(ctx)
}

func splitParticipantKey(key string) (userID, conversationID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == 0 {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}
