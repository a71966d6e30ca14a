package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/db"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

// Postgres implements Store on top of a pgx pool. Timestamps are stored as
// their original ISO-8601 strings so the lexicographic ordering the traversal
// engine depends on survives round-trips, sentinels included.
type Postgres struct {
	db     *db.DB
	logger *slog.Logger
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS meta (
	key text PRIMARY KEY,
	value text NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id text PRIMARY KEY,
	handle text NOT NULL DEFAULT '',
	display_name text NOT NULL DEFAULT '',
	bio text NOT NULL DEFAULT '',
	nickname text NOT NULL DEFAULT '',
	notes text NOT NULL DEFAULT '',
	avatar bytea,
	avatar_format text NOT NULL DEFAULT '',
	loaded_full_data boolean NOT NULL DEFAULT false,
	number_of_messages integer NOT NULL DEFAULT 0,
	first_appearance text NOT NULL DEFAULT '',
	last_appearance text NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS conversations (
	id text PRIMARY KEY,
	type text NOT NULL,
	other_person text NOT NULL DEFAULT '',
	added_by text NOT NULL DEFAULT '',
	notes text NOT NULL DEFAULT '',
	created_by_me boolean NOT NULL DEFAULT true,
	first_time text NOT NULL DEFAULT '',
	last_time text NOT NULL DEFAULT '',
	number_of_messages integer NOT NULL DEFAULT 0,
	messages_from_you integer NOT NULL DEFAULT 0,
	num_participants integer NOT NULL DEFAULT 0,
	num_name_updates integer NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS participants (
	rowid bigint PRIMARY KEY,
	user_id text NOT NULL,
	conversation_id text NOT NULL,
	added_by text NOT NULL DEFAULT '',
	start_time text NOT NULL DEFAULT '',
	end_time text NOT NULL DEFAULT '',
	messages_sent integer NOT NULL DEFAULT 0,
	UNIQUE (user_id, conversation_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id text PRIMARY KEY,
	sent_time text NOT NULL,
	conversation_id text NOT NULL,
	sender text NOT NULL,
	content text NOT NULL,
	html_content text NOT NULL,
	content_tsv tsvector GENERATED ALWAYS AS (to_tsvector('english', content)) STORED
);
CREATE INDEX IF NOT EXISTS messages_conversation_time ON messages (conversation_id, sent_time);
CREATE INDEX IF NOT EXISTS messages_sender_time ON messages (sender, sent_time);
CREATE INDEX IF NOT EXISTS messages_time ON messages (sent_time);
CREATE INDEX IF NOT EXISTS messages_content_tsv ON messages USING GIN (content_tsv);

CREATE TABLE IF NOT EXISTS reactions (
	id bigint PRIMARY KEY,
	message_id text NOT NULL,
	emotion text NOT NULL,
	creation_time text NOT NULL,
	creator text NOT NULL
);
CREATE INDEX IF NOT EXISTS reactions_message ON reactions (message_id);

CREATE TABLE IF NOT EXISTS media (
	id text PRIMARY KEY,
	message_id text NOT NULL,
	type text NOT NULL,
	filename text NOT NULL,
	from_group boolean NOT NULL,
	width integer NOT NULL DEFAULT 0,
	height integer NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS media_message ON media (message_id);

CREATE TABLE IF NOT EXISTS links (
	message_id text NOT NULL,
	orig_url text NOT NULL,
	url_preview text NOT NULL,
	shortened text NOT NULL
);
CREATE INDEX IF NOT EXISTS links_message ON links (message_id);

CREATE TABLE IF NOT EXISTS name_updates (
	rowid bigint PRIMARY KEY,
	conversation_id text NOT NULL,
	update_time text NOT NULL,
	initiator text NOT NULL,
	new_name text NOT NULL
);
CREATE INDEX IF NOT EXISTS name_updates_conversation ON name_updates (conversation_id, update_time);

CREATE TABLE IF NOT EXISTS global_stats (
	singleton boolean PRIMARY KEY DEFAULT true,
	number_of_conversations integer NOT NULL,
	number_of_users integer NOT NULL,
	number_of_messages integer NOT NULL,
	earliest_message text NOT NULL,
	latest_message text NOT NULL
);
`

// NewPostgres ensures the schema exists and returns the store.
func NewPostgres(ctx context.Context, database *db.DB, logger *slog.Logger) (*Postgres, error) {
	if _, err := database.Pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Postgres{db: database, logger: logger}, nil
}

var _ Store = (*Postgres)(nil)

func (s *Postgres) Owner(ctx context.Context) (string, error) {
	var owner string
	err := s.db.Pool.QueryRow(ctx, `SELECT value FROM meta WHERE key = 'owner'`).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return owner, err
}

// tsQuery renders a parsed search into to_tsquery syntax: plain words become
// prefix matches, phrases become adjacency chains, and everything is ANDed.
func tsQuery(q SearchQuery) string {
	var parts []string
	for _, t := range q.Terms {
		words := normalizeWords(t.Text)
		if len(words) == 0 {
			continue
		}
		if t.Phrase {
			parts = append(parts, "("+strings.Join(words, " <-> ")+")")
		} else {
			for _, w := range words {
				parts = append(parts, w+":*")
			}
		}
	}
	return strings.Join(parts, " & ")
}

const messageColumns = "id, sent_time, conversation_id, sender, content, html_content"

func (s *Postgres) queryMessages(ctx context.Context, query string, args ...any) ([]models.Message, error) {
	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		m.Schema = models.SchemaMessage
		if err := rows.Scan(&m.ID, &m.SentTime, &m.Conversation, &m.Sender, &m.Content, &m.HTMLContent); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.attachExtras(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// attachExtras loads reactions and media for a page of messages.
func (s *Postgres) attachExtras(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	byID := make(map[string]*models.Message, len(msgs))
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		byID[msgs[i].ID] = &msgs[i]
		ids = append(ids, msgs[i].ID)
	}

	rows, err := s.db.Pool.Query(ctx,
		`SELECT id, message_id, emotion, creation_time, creator
		 FROM reactions WHERE message_id = ANY($1) ORDER BY creation_time`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Reaction
		var msgID string
		if err := rows.Scan(&r.ID, &msgID, &r.Emotion, &r.CreationTime, &r.Creator); err != nil {
			return err
		}
		if m := byID[msgID]; m != nil {
			m.Reactions = append(m.Reactions, r)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	mrows, err := s.db.Pool.Query(ctx,
		`SELECT id, message_id, type, filename, from_group, width, height
		 FROM media WHERE message_id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer mrows.Close()
	for mrows.Next() {
		var md models.Media
		if err := mrows.Scan(&md.ID, &md.Message, &md.Type, &md.Filename, &md.FromGroup, &md.Width, &md.Height); err != nil {
			return err
		}
		md.Src = fmt.Sprintf("%s%s-%s", models.MediaAPIPath, md.Message, md.Filename)
		if m := byID[md.Message]; m != nil {
			m.Media = append(m.Media, md)
		}
	}
	return mrows.Err()
}

func messageConds(f MessageFilter, search *SearchQuery) ([]string, []any) {
	var conds []string
	var args []any
	if f.Conversation != "" {
		args = append(args, f.Conversation)
		conds = append(conds, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.User != "" {
		args = append(args, f.User)
		conds = append(conds, fmt.Sprintf("sender = $%d", len(args)))
	}
	if search != nil && !search.Empty() {
		// terms made of pure punctuation normalize away entirely; an empty
		// tsquery string is a syntax error in Postgres
		if ts := tsQuery(*search); ts != "" {
			args = append(args, ts)
			conds = append(conds, fmt.Sprintf("content_tsv @@ to_tsquery('english', $%d)", len(args)))
		}
	}
	return conds, args
}

func (s *Postgres) MessagesAsc(ctx context.Context, f MessageFilter, after string, search *SearchQuery, limit int) ([]models.Message, error) {
	conds, args := messageConds(f, search)
	if after != "" {
		args = append(args, after)
		conds = append(conds, fmt.Sprintf("sent_time > $%d", len(args)))
	}
	query := "SELECT " + messageColumns + " FROM messages"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sent_time ASC LIMIT $%d", len(args))
	return s.queryMessages(ctx, query, args...)
}

func (s *Postgres) MessagesDesc(ctx context.Context, f MessageFilter, before string, inclusive bool, search *SearchQuery, limit int) ([]models.Message, error) {
	conds, args := messageConds(f, search)
	if before != "" {
		op := "<"
		if inclusive {
			op = "<="
		}
		args = append(args, before)
		conds = append(conds, fmt.Sprintf("sent_time %s $%d", op, len(args)))
	}
	query := "SELECT " + messageColumns + " FROM messages"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY sent_time DESC LIMIT $%d", len(args))
	return s.queryMessages(ctx, query, args...)
}

func (s *Postgres) NameUpdatesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.NameUpdate, error) {
	conds := []string{"update_time > $1", "update_time < $2"}
	args := []any{start, end}
	if f.Conversation != "" {
		args = append(args, f.Conversation)
		conds = append(conds, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.User != "" {
		args = append(args, f.User)
		conds = append(conds, fmt.Sprintf("initiator = $%d", len(args)))
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT rowid, update_time, initiator, new_name, conversation_id FROM name_updates WHERE `+
			strings.Join(conds, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NameUpdate
	for rows.Next() {
		var rowid int64
		n := models.NameUpdate{Schema: models.SchemaNameUpdate}
		if err := rows.Scan(&rowid, &n.UpdateTime, &n.Initiator, &n.NewName, &n.Conversation); err != nil {
			return nil, err
		}
		n.ID = fmt.Sprintf("update%d", rowid)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) JoinsBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantJoin, error) {
	conds := []string{"start_time <> ''", "start_time > $1", "start_time < $2"}
	args := []any{start, end}
	if f.Conversation != "" {
		args = append(args, f.Conversation)
		conds = append(conds, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.User != "" {
		args = append(args, f.User)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT rowid, user_id, added_by, conversation_id, start_time FROM participants WHERE `+
			strings.Join(conds, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ParticipantJoin
	for rows.Next() {
		var rowid int64
		j := models.ParticipantJoin{Schema: models.SchemaParticipantJoin}
		if err := rows.Scan(&rowid, &j.Participant, &j.AddedBy, &j.Conversation, &j.Time); err != nil {
			return nil, err
		}
		j.ID = fmt.Sprintf("%djoin", rowid)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Postgres) LeavesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantLeave, error) {
	conds := []string{"end_time <> ''", "end_time > $1", "end_time < $2"}
	args := []any{start, end}
	if f.Conversation != "" {
		args = append(args, f.Conversation)
		conds = append(conds, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.User != "" {
		args = append(args, f.User)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT rowid, user_id, conversation_id, end_time FROM participants WHERE `+
			strings.Join(conds, " AND "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ParticipantLeave
	for rows.Next() {
		var rowid int64
		l := models.ParticipantLeave{Schema: models.SchemaParticipantLeave}
		if err := rows.Scan(&rowid, &l.Participant, &l.Conversation, &l.Time); err != nil {
			return nil, err
		}
		l.ID = fmt.Sprintf("%dleave", rowid)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Postgres) MessageByID(ctx context.Context, id string) (models.Message, error) {
	msgs, err := s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE id = $1", id)
	if err != nil {
		return models.Message{}, err
	}
	if len(msgs) == 0 {
		return models.Message{}, ErrNotFound
	}
	return msgs[0], nil
}

func (s *Postgres) MessageTimestamp(ctx context.Context, id string) (string, error) {
	var t string
	err := s.db.Pool.QueryRow(ctx, `SELECT sent_time FROM messages WHERE id = $1`, id).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	return t, err
}

func (s *Postgres) RandomMessages(ctx context.Context, limit int) ([]models.Message, error) {
	return s.queryMessages(ctx,
		"SELECT "+messageColumns+" FROM messages ORDER BY random() LIMIT $1", limit)
}

// --- users ---

const userColumns = `id, handle, display_name, bio, nickname, notes, avatar_format,
	loaded_full_data, number_of_messages, first_appearance, last_appearance`

func (s *Postgres) scanUsers(ctx context.Context, rows pgx.Rows) ([]models.User, error) {
	defer rows.Close()
	owner, err := s.Owner(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.User
	for rows.Next() {
		var u models.User
		var avatarFormat string
		if err := rows.Scan(&u.ID, &u.Handle, &u.DisplayName, &u.Bio, &u.Nickname, &u.Notes,
			&avatarFormat, &u.Resolved, &u.NumberOfMessages, &u.FirstAppearance, &u.LastAppearance); err != nil {
			return nil, err
		}
		if u.Resolved {
			u.AvatarURL = fmt.Sprintf("%s%s.%s", models.AvatarAPIPath, u.ID, avatarFormat)
		} else {
			u.Handle = u.ID
			u.DisplayName = models.DefaultDisplayName
			u.AvatarURL = models.UserDefaultAvatarURL
		}
		u.IsMainUser = u.ID == owner
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Postgres) UsersByID(ctx context.Context, ids []string) ([]models.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, err
	}
	return s.scanUsers(ctx, rows)
}

func (s *Postgres) UsersByMessageCount(ctx context.Context, page int) ([]models.User, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT "+userColumns+` FROM users
		 ORDER BY number_of_messages DESC, id LIMIT $1 OFFSET $2`,
		UsersPerPage, pageOffset(page, UsersPerPage))
	if err != nil {
		return nil, err
	}
	return s.scanUsers(ctx, rows)
}

func (s *Postgres) ParticipantsByMessageCount(ctx context.Context, conversationID string, page int) ([]models.Participant, error) {
	owner, err := s.Owner(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Pool.Query(ctx,
		`SELECT u.id, u.handle, u.display_name, u.nickname, u.avatar_format, u.loaded_full_data,
		        p.messages_sent, p.start_time, p.end_time
		 FROM participants p JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = $1
		 ORDER BY p.messages_sent DESC, u.id LIMIT $2 OFFSET $3`,
		conversationID, UsersPerPage, pageOffset(page, UsersPerPage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var p models.Participant
		var avatarFormat string
		if err := rows.Scan(&p.ID, &p.Handle, &p.DisplayName, &p.Nickname, &avatarFormat,
			&p.Resolved, &p.MessagesInConversation, &p.JoinTime, &p.LeaveTime); err != nil {
			return nil, err
		}
		if p.Resolved {
			p.AvatarURL = fmt.Sprintf("%s%s.%s", models.AvatarAPIPath, p.ID, avatarFormat)
		} else {
			p.Handle = p.ID
			p.DisplayName = models.DefaultDisplayName
			p.AvatarURL = models.UserDefaultAvatarURL
		}
		p.IsMainUser = p.ID == owner
		p.Conversation = conversationID
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Postgres) UserAvatar(ctx context.Context, id string) ([]byte, string, error) {
	var avatar []byte
	var format string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT avatar, avatar_format FROM users WHERE id = $1`, id).Scan(&avatar, &format)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, "", ErrNotFound
	}
	return avatar, format, err
}

func (s *Postgres) SetUserNickname(ctx context.Context, id, nickname string) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE users SET nickname = $1 WHERE id = $2`, nickname, id)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (s *Postgres) SetUserNotes(ctx context.Context, id, notes string) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE users SET notes = $1 WHERE id = $2`, notes, id)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

// --- conversations ---

const conversationColumns = `id, type, other_person, added_by, notes, created_by_me,
	first_time, last_time, number_of_messages, messages_from_you, num_participants, num_name_updates`

func scanConversations(rows pgx.Rows) ([]models.Conversation, error) {
	defer rows.Close()
	var out []models.Conversation
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.Type, &c.OtherPersonID, &c.AddedByID, &c.Notes, &c.CreatedByMe,
			&c.FirstTime, &c.LastTime, &c.NumberOfMessages, &c.MessagesFromYou,
			&c.NumParticipants, &c.NumNameUpdates); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Postgres) Conversations(ctx context.Context, q ConversationQuery) ([]models.Conversation, error) {
	var conds []string
	var args []any
	if !q.Group {
		conds = append(conds, fmt.Sprintf("type <> '%s'", models.ConversationGroup))
	}
	if !q.Individual {
		conds = append(conds, fmt.Sprintf("type <> '%s'", models.ConversationIndividual))
	}
	if q.ForUser != "" {
		args = append(args, q.ForUser)
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM participants p WHERE p.conversation_id = conversations.id AND p.user_id = $%d)",
			len(args)))
	}

	order := "id"
	switch q.Order {
	case OrderOldestFirst:
		order = "first_time ASC"
	case OrderNewestFirst:
		order = "last_time DESC"
	case OrderMostMessages:
		order = "number_of_messages DESC"
	case OrderMostMessagesFromYou:
		order = "messages_from_you DESC"
	case OrderUserMessages:
		args = append(args, q.ForUser)
		order = fmt.Sprintf(
			`(SELECT p.messages_sent FROM participants p
			  WHERE p.conversation_id = conversations.id AND p.user_id = $%d) DESC NULLS LAST`,
			len(args))
	}

	query := "SELECT " + conversationColumns + " FROM conversations"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, ConversationsPerPage, pageOffset(q.Page, ConversationsPerPage))
	query += fmt.Sprintf(" ORDER BY %s, id LIMIT $%d OFFSET $%d", order, len(args)-1, len(args))

	rows, err := s.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanConversations(rows)
}

func (s *Postgres) ConversationByID(ctx context.Context, id string) (models.Conversation, error) {
	rows, err := s.db.Pool.Query(ctx,
		"SELECT "+conversationColumns+" FROM conversations WHERE id = $1", id)
	if err != nil {
		return models.Conversation{}, err
	}
	convs, err := scanConversations(rows)
	if err != nil {
		return models.Conversation{}, err
	}
	if len(convs) == 0 {
		return models.Conversation{}, ErrNotFound
	}
	return convs[0], nil
}

func (s *Postgres) LatestConversationName(ctx context.Context, conversationID string) (string, bool, error) {
	var name string
	err := s.db.Pool.QueryRow(ctx,
		`SELECT new_name FROM name_updates WHERE conversation_id = $1
		 ORDER BY update_time DESC LIMIT 1`, conversationID).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	return name, err == nil, err
}

func (s *Postgres) TopParticipantNames(ctx context.Context, conversationID string, limit int) ([]ParticipantName, error) {
	rows, err := s.db.Pool.Query(ctx,
		`SELECT u.id, u.nickname, CASE WHEN u.loaded_full_data THEN u.display_name ELSE '' END
		 FROM participants p JOIN users u ON u.id = p.user_id
		 WHERE p.conversation_id = $1
		 ORDER BY p.messages_sent DESC, u.id LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ParticipantName
	for rows.Next() {
		var pn ParticipantName
		if err := rows.Scan(&pn.UserID, &pn.Nickname, &pn.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, pn)
	}
	return out, rows.Err()
}

func (s *Postgres) NameUpdatesPage(ctx context.Context, conversationID string, oldestFirst bool, page int) ([]models.NameUpdate, error) {
	dir := "DESC"
	if oldestFirst {
		dir = "ASC"
	}
	rows, err := s.db.Pool.Query(ctx,
		fmt.Sprintf(`SELECT rowid, update_time, initiator, new_name, conversation_id
			FROM name_updates WHERE conversation_id = $1
			ORDER BY update_time %s LIMIT $2 OFFSET $3`, dir),
		conversationID, NameUpdatesPerPage, pageOffset(page, NameUpdatesPerPage))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.NameUpdate
	for rows.Next() {
		var rowid int64
		n := models.NameUpdate{Schema: models.SchemaNameUpdate}
		if err := rows.Scan(&rowid, &n.UpdateTime, &n.Initiator, &n.NewName, &n.Conversation); err != nil {
			return nil, err
		}
		n.ID = fmt.Sprintf("update%d", rowid)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) SetConversationNotes(ctx context.Context, id, notes string) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE conversations SET notes = $1 WHERE id = $2`, notes, id)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (s *Postgres) SetMediaDimensions(ctx context.Context, mediaID string, width, height int) error {
	tag, err := s.db.Pool.Exec(ctx,
		`UPDATE media SET width = $1, height = $2 WHERE id = $3`, width, height, mediaID)
	if err == nil && tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return err
}

func (s *Postgres) GlobalStats(ctx context.Context) (models.GlobalStats, error) {
	var g models.GlobalStats
	err := s.db.Pool.QueryRow(ctx,
		`SELECT number_of_conversations, number_of_users, number_of_messages,
		        earliest_message, latest_message FROM global_stats`).
		Scan(&g.NumberOfConversations, &g.NumberOfUsers, &g.NumberOfMessages,
			&g.EarliestMessage, &g.LatestMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.GlobalStats{}, nil
	}
	return g, err
}

func pageOffset(page, perPage int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * perPage
}
