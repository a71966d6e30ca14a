package models

// All timestamps in the archive are ISO-8601 strings ("2020-01-01T12:00:00.000Z").
// They sort correctly as plain strings, which both store implementations rely on,
// so they are never parsed into time.Time. The zeroes/nines sentinels bound every
// real timestamp from below and above.
const (
	TimeZeroes = "0000-00-00T00:00:00.000Z"
	TimeNines  = "9999-99-99T99:99:99.999Z"

	DefaultDisplayName = "Mystery User"

	AvatarAPIPath = "/api/avatar/"
	MediaAPIPath  = "/api/media/"

	GroupDefaultImageURL = "/assets/svg/group.svg"
	UserDefaultAvatarURL = "/assets/svg/mysteryuser.svg"
)

// Schema discriminants carried in serialized payloads so the client can tell
// result variants apart.
const (
	SchemaMessage          = "Message"
	SchemaNameUpdate       = "NameUpdate"
	SchemaParticipantJoin  = "ParticipantJoin"
	SchemaParticipantLeave = "ParticipantLeave"
)

// UserSummary is the sidecar form of a user: just enough to render them next
// to a message. 64-bit ids are kept as strings everywhere to stay JavaScript-safe.
type UserSummary struct {
	ID          string `json:"id"`
	Nickname    string `json:"nickname"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
	Resolved    bool   `json:"loaded_full_data"`
	IsMainUser  bool   `json:"is_main_user"`
}

// User is the full record behind a UserSummary.
type User struct {
	UserSummary
	NumberOfMessages int    `json:"number_of_messages"`
	Bio              string `json:"bio"`
	Notes            string `json:"notes"`
	FirstAppearance  string `json:"first_appearance"`
	LastAppearance   string `json:"last_appearance"`
}

// Participant describes a user's presence in one conversation. Empty
// JoinTime means "present since before recorded history"; empty LeaveTime
// means they never left.
type Participant struct {
	UserSummary
	Conversation           string `json:"conversation"`
	MessagesInConversation int    `json:"messages_in_conversation"`
	JoinTime               string `json:"join_time"`
	LeaveTime              string `json:"leave_time"`
}

const (
	ConversationIndividual = "individual"
	ConversationGroup      = "group"
)

// Conversation is a fully resolved conversation record. Name, ImageURL,
// OtherPerson and AddedBy are derived by the traversal engine's resolver;
// stores fill the raw id fields and leave the derived ones zero.
type Conversation struct {
	ID               string       `json:"id"`
	Type             string       `json:"type"`
	NumberOfMessages int          `json:"number_of_messages"`
	MessagesFromYou  int          `json:"messages_from_you"`
	FirstTime        string       `json:"first_time"`
	LastTime         string       `json:"last_time"`
	NumParticipants  int          `json:"num_participants"`
	NumNameUpdates   int          `json:"num_name_updates"`
	CreatedByMe      bool         `json:"created_by_me"`
	OtherPerson      *UserSummary `json:"other_person"`
	AddedBy          *UserSummary `json:"added_by"`
	Name             string       `json:"name"`
	ImageURL         string       `json:"image_url"`
	Notes            string       `json:"notes"`

	OtherPersonID string `json:"-"`
	AddedByID     string `json:"-"`
}

// Reaction belongs to exactly one message.
type Reaction struct {
	ID           int64  `json:"id"`
	Emotion      string `json:"emotion"`
	CreationTime string `json:"creation_time"`
	Creator      string `json:"creator"`
}

const (
	MediaImage = "image"
	MediaGif   = "gif"
	MediaVideo = "video"
)

// Media is an attachment owned by one message. Width/Height are zero until
// the file has been probed once; Src is the API path the file is served from.
type Media struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Src       string `json:"src"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Filename  string `json:"-"`
	Message   string `json:"-"`
	FromGroup bool   `json:"-"`
}

// Link is a t.co-style shortened url embedded in a message's text.
type Link struct {
	OrigURL   string `json:"orig_url"`
	Preview   string `json:"url_preview"`
	Shortened string `json:"twitter_shortened_url"`
}

// MessageLike is implemented by every record kind that participates in
// chronological conversation traversal.
type MessageLike interface {
	// Timestamp returns the string timestamp the record sorts by.
	Timestamp() string
	// UserIDs returns every user id the record references, for sidecar hydration.
	UserIDs() []string
	// ConversationID returns the conversation the record belongs to.
	ConversationID() string
}

type Message struct {
	Schema       string     `json:"schema"`
	ID           string     `json:"id"`
	SentTime     string     `json:"sent_time"`
	Conversation string     `json:"conversation"`
	Sender       string     `json:"sender"`
	Content      string     `json:"content"`
	HTMLContent  string     `json:"html_content"`
	Reactions    []Reaction `json:"reactions"`
	Media        []Media    `json:"media"`
}

func (m Message) Timestamp() string { return m.SentTime }

func (m Message) UserIDs() []string {
	ids := []string{m.Sender}
	for _, r := range m.Reactions {
		ids = append(ids, r.Creator)
	}
	return ids
}

func (m Message) ConversationID() string { return m.Conversation }

type NameUpdate struct {
	Schema       string `json:"schema"`
	ID           string `json:"id"`
	UpdateTime   string `json:"update_time"`
	Initiator    string `json:"initiator"`
	NewName      string `json:"new_name"`
	Conversation string `json:"conversation"`
}

func (n NameUpdate) Timestamp() string      { return n.UpdateTime }
func (n NameUpdate) UserIDs() []string      { return []string{n.Initiator} }
func (n NameUpdate) ConversationID() string { return n.Conversation }

type ParticipantJoin struct {
	Schema       string `json:"schema"`
	ID           string `json:"id"`
	Participant  string `json:"participant"`
	AddedBy      string `json:"added_by"`
	Conversation string `json:"conversation"`
	Time         string `json:"time"`
}

func (p ParticipantJoin) Timestamp() string { return p.Time }

func (p ParticipantJoin) UserIDs() []string {
	if p.AddedBy == "" {
		return []string{p.Participant}
	}
	return []string{p.Participant, p.AddedBy}
}

func (p ParticipantJoin) ConversationID() string { return p.Conversation }

type ParticipantLeave struct {
	Schema       string `json:"schema"`
	ID           string `json:"id"`
	Participant  string `json:"participant"`
	Conversation string `json:"conversation"`
	Time         string `json:"time"`
}

func (p ParticipantLeave) Timestamp() string      { return p.Time }
func (p ParticipantLeave) UserIDs() []string      { return []string{p.Participant} }
func (p ParticipantLeave) ConversationID() string { return p.Conversation }

// UniqueUserIDs collects every user id referenced across a result set,
// deduplicated, preserving first-seen order.
func UniqueUserIDs(items []MessageLike) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		for _, id := range item.UserIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids
}

// UniqueConversationIDs collects every conversation referenced across a
// result set, deduplicated, preserving first-seen order.
func UniqueConversationIDs(items []MessageLike) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, item := range items {
		id := item.ConversationID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// GlobalStats is the whole-archive summary cached after ingestion.
type GlobalStats struct {
	NumberOfConversations int    `json:"number_of_conversations"`
	NumberOfUsers         int    `json:"number_of_users"`
	NumberOfMessages      int    `json:"number_of_messages"`
	EarliestMessage       string `json:"earliest_message"`
	LatestMessage         string `json:"latest_message"`
}
