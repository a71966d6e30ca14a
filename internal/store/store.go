// Package store defines the storage collaborator the ingestion and traversal
// engines are written against, with an in-memory implementation and a
// Postgres implementation. Queries are narrow, named projections; anything
// derived across entities (display names, sidecars, pagination merging)
// lives in the engines.
package store

import (
	"context"
	"errors"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

// ErrNotFound is returned for single-entity lookups of unknown ids.
var ErrNotFound = errors.New("store: not found")

// Page sizes for the derived query surface.
const (
	ConversationsPerPage = 20
	NameUpdatesPerPage   = 50
	MessagesPerPage      = 40
	UsersPerPage         = 20
)

// MessageFilter narrows traversal queries to one conversation, one user, or
// neither. For messages the user is the sender; for name updates the
// initiator; for joins and leaves the participant.
type MessageFilter struct {
	Conversation string
	User         string
}

// SearchTerm is one unit of a parsed search query: a single stemmed word or
// a quoted phrase matched as a literal run of words.
type SearchTerm struct {
	Phrase bool
	Text   string
}

// SearchQuery is a parsed full-text query. Every term must match
// independently (implicit AND).
type SearchQuery struct {
	Terms []SearchTerm
}

// Empty reports whether the query has no usable terms.
func (q SearchQuery) Empty() bool { return len(q.Terms) == 0 }

// ConversationOrder selects the sort for conversation listings.
type ConversationOrder int

const (
	OrderOldestFirst ConversationOrder = iota
	OrderNewestFirst
	OrderMostMessages
	OrderMostMessagesFromYou
	OrderUserMessages // most messages sent by ForUser; requires ForUser
)

// ConversationQuery describes one page of a conversation listing.
type ConversationQuery struct {
	Group      bool
	Individual bool
	Order      ConversationOrder
	ForUser    string // restrict to conversations this user appears in
	Page       int    // 1-based
}

// ParticipantName is the projection used to synthesize group conversation
// display names from the busiest participants.
type ParticipantName struct {
	UserID      string
	Nickname    string
	DisplayName string
}

// ProfileUpdate carries the result of a successful enrichment lookup.
type ProfileUpdate struct {
	Handle       string
	DisplayName  string
	Bio          string
	Avatar       []byte
	AvatarFormat string
}

// Store is the normalized archive store. Reads are safe for concurrent use;
// the narrow mutations (nickname, notes, media dimensions) are single-row
// and rely on nothing beyond the underlying store's own guarantees.
type Store interface {
	// Owner returns the id of the account the archive belongs to.
	Owner(ctx context.Context) (string, error)

	// MessagesAsc returns up to limit messages with timestamp strictly after
	// the bound (empty bound = from the beginning), ascending. A non-nil
	// search restricts results to matching messages.
	MessagesAsc(ctx context.Context, f MessageFilter, after string, search *SearchQuery, limit int) ([]models.Message, error)
	// MessagesDesc returns up to limit messages with timestamp strictly
	// before the bound, descending; with inclusive set the bound itself is
	// included (used for the pivot half of an `at` traversal). Empty bound =
	// from the end.
	MessagesDesc(ctx context.Context, f MessageFilter, before string, inclusive bool, search *SearchQuery, limit int) ([]models.Message, error)
	// NameUpdatesBetween returns every rename in the open interval
	// (start, end) matching the filter, unordered.
	NameUpdatesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.NameUpdate, error)
	// JoinsBetween returns every finalized participant join in (start, end).
	JoinsBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantJoin, error)
	// LeavesBetween returns every finalized participant leave in (start, end).
	LeavesBetween(ctx context.Context, f MessageFilter, start, end string) ([]models.ParticipantLeave, error)

	MessageByID(ctx context.Context, id string) (models.Message, error)
	MessageTimestamp(ctx context.Context, id string) (string, error)
	RandomMessages(ctx context.Context, limit int) ([]models.Message, error)

	// UsersByID resolves user records for the given ids, skipping unknown ones.
	UsersByID(ctx context.Context, ids []string) ([]models.User, error)
	UsersByMessageCount(ctx context.Context, page int) ([]models.User, error)
	ParticipantsByMessageCount(ctx context.Context, conversationID string, page int) ([]models.Participant, error)
	UserAvatar(ctx context.Context, id string) ([]byte, string, error)
	SetUserNickname(ctx context.Context, id, nickname string) error
	SetUserNotes(ctx context.Context, id, notes string) error

	Conversations(ctx context.Context, q ConversationQuery) ([]models.Conversation, error)
	ConversationByID(ctx context.Context, id string) (models.Conversation, error)
	// LatestConversationName returns the newest rename's text, if any rename exists.
	LatestConversationName(ctx context.Context, conversationID string) (string, bool, error)
	// TopParticipantNames returns name projections for the participants who
	// sent the most messages, busiest first.
	TopParticipantNames(ctx context.Context, conversationID string, limit int) ([]ParticipantName, error)
	NameUpdatesPage(ctx context.Context, conversationID string, oldestFirst bool, page int) ([]models.NameUpdate, error)
	SetConversationNotes(ctx context.Context, id, notes string) error

	SetMediaDimensions(ctx context.Context, mediaID string, width, height int) error

	GlobalStats(ctx context.Context) (models.GlobalStats, error)

	// BeginImport opens the single all-or-nothing import transaction. Exactly
	// one import per store; a failure rolls everything back.
	BeginImport(ctx context.Context, ownerID string) (Import, error)
}

// Import is the single-writer ingestion boundary. Callers guarantee each
// entity is added once (the ingestion engine tracks what it has created);
// implementations may buffer writes until Commit.
type Import interface {
	AddUser(ctx context.Context, id string) error
	AddConversation(ctx context.Context, id, conversationType, otherPersonID string) error
	// SetConversationJoin records that the owner was added to the
	// conversation by someone else; repeated calls are last-write-wins.
	SetConversationJoin(ctx context.Context, id, firstTime, addedByID string) error
	AddParticipant(ctx context.Context, userID, conversationID string) error
	SetParticipantAddedBy(ctx context.Context, userID, conversationID, addedByID string) error
	AddMessage(ctx context.Context, m models.Message, links []models.Link) error
	AddNameUpdate(ctx context.Context, n models.NameUpdate) error
	// SetParticipantInterval stores a finalized presence interval; empty
	// strings mean unknown start / still present.
	SetParticipantInterval(ctx context.Context, userID, conversationID, start, end string) error
	UpdateUserProfile(ctx context.Context, id string, p ProfileUpdate) error
	// DeriveStats runs the global derivation pass over the now-complete
	// tables: per-conversation and per-user message counts, first/last
	// times, participant counts, and the persisted global stats cache.
	DeriveStats(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
