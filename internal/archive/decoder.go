// Package archive turns the .js files of a Twitter data export into normalized
// records: a streaming event decoder, the ingestion engine that consumes it,
// and the finalization pass that reconciles deferred participant facts.
package archive

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
)

// ErrNoJSONStart means a file ended before the javascript assignment prefix
// gave way to an actual JSON value.
var ErrNoJSONStart = errors.New("archive: no json value found in file")

// Event is one conversation fact decoded from an export file, tagged with the
// type discriminant and the conversation id from the enclosing dmConversation
// object (the export stores both once per conversation, not per event).
type Event struct {
	Type           string
	ConversationID string

	// messageCreate
	ID          string
	CreatedAt   string
	SenderID    string
	RecipientID string
	Text        string
	Reactions   []EventReaction
	MediaURLs   []string
	URLs        []EventLink

	// conversationNameUpdate / participantsJoin / joinConversation
	InitiatorID string
	Name        string

	// participantsJoin / participantsLeave
	UserIDs []string

	// joinConversation
	ParticipantsSnapshot []string
}

// EventReaction mirrors one entry of a messageCreate's reactions array.
type EventReaction struct {
	SenderID    string
	ReactionKey string
	CreatedAt   string
}

// EventLink mirrors one entry of a messageCreate's urls array.
type EventLink struct {
	URL      string
	Expanded string
	Display  string
}

var eventTypes = []string{
	"messageCreate",
	"joinConversation",
	"participantsJoin",
	"participantsLeave",
	"conversationNameUpdate",
}

const messagesItemPrefix = "item.dmConversation.messages.item"

// skipPrefix reads the export file's javascript assignment boilerplate until
// the first byte that can start a JSON value, leaving that byte unread.
func skipPrefix(r io.Reader) (*bufio.Reader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrNoJSONStart
			}
			return nil, err
		}
		if b == '[' || b == '{' {
			if err := br.UnreadByte(); err != nil {
				return nil, err
			}
			return br, nil
		}
	}
}

// Stream decodes one export file into a sequence of Events without ever
// holding the whole document in memory. Constructing a Stream does a cheap
// pre-scan pass counting syntactic tokens so that Progress can report a
// fraction during the real pass; the double read is the price of the
// progress indicator.
type Stream struct {
	path string

	totalTokens     int64
	processedTokens atomic.Int64
	eventsDecoded   atomic.Int64
}

// NewStream opens, pre-scans, and closes path. The actual decode happens in Each.
func NewStream(path string) (*Stream, error) {
	s := &Stream{path: path}
	if err := s.scan(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Stream) scan() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	br, err := skipPrefix(f)
	if err != nil {
		return fmt.Errorf("archive: pre-scanning %s: %w", s.path, err)
	}
	dec := json.NewDecoder(br)
	for {
		_, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: pre-scanning %s: %w", s.path, err)
		}
		s.totalTokens++
	}
}

// Progress reports how much of the file the current Each pass has consumed,
// in [0, 1].
func (s *Stream) Progress() float64 {
	if s.totalTokens == 0 {
		return 0
	}
	return float64(s.processedTokens.Load()) / float64(s.totalTokens)
}

// EventsDecoded reports how many events the current Each pass has yielded.
func (s *Stream) EventsDecoded() int64 {
	return s.eventsDecoded.Load()
}

// frame tracks one open JSON container during the token walk.
type frame struct {
	isObject  bool
	expectKey bool
}

// Each re-reads the file from the start and calls fn once per decoded event,
// in document order. Scalars outside recognized event paths are ignored;
// malformed JSON is a fatal decode error. Returning an error from fn stops
// the walk and propagates the error.
func (s *Stream) Each(fn func(Event) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	br, err := skipPrefix(f)
	if err != nil {
		return fmt.Errorf("archive: decoding %s: %w", s.path, err)
	}

	s.processedTokens.Store(0)
	s.eventsDecoded.Store(0)

	dec := json.NewDecoder(br)

	var (
		stack          []frame
		path           []string
		conversationID string
		inMessage      bool
		msg            = map[string]any{}
		currentDict    = msg
	)

	emit := func() error {
		msg["conversationId"] = conversationID
		ev, err := eventFromRaw(msg)
		if err != nil {
			return err
		}
		s.eventsDecoded.Add(1)
		if err := fn(ev); err != nil {
			return err
		}
		msg = map[string]any{}
		currentDict = msg
		inMessage = false
		return nil
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("archive: decoding %s: %w", s.path, err)
		}
		s.processedTokens.Add(1)

		// A string token is an object key when the innermost container is an
		// object waiting for one.
		if key, ok := tok.(string); ok && len(stack) > 0 && stack[len(stack)-1].isObject && stack[len(stack)-1].expectKey {
			path[len(path)-1] = key
			stack[len(stack)-1].expectKey = false
			continue
		}

		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				prefix := strings.Join(path, ".")
				if _, isEvent := eventFieldKey(prefix); isEvent {
					inMessage = true
					msg["type"] = eventTypeOf(prefix)
					arrayName := path[len(path)-2]
					item := map[string]any{}
					msg[arrayName] = append(anySlice(msg[arrayName]), item)
					currentDict = item
				}
				stack = append(stack, frame{isObject: true, expectKey: true})
				path = append(path, "")
			case '[':
				prefix := strings.Join(path, ".")
				if key, isEvent := eventFieldKey(prefix); isEvent {
					inMessage = true
					msg["type"] = eventTypeOf(prefix)
					msg[key] = []any{}
				}
				stack = append(stack, frame{})
				path = append(path, "item")
			case '}', ']':
				stack = stack[:len(stack)-1]
				path = path[:len(path)-1]
				if len(stack) > 0 && stack[len(stack)-1].isObject {
					stack[len(stack)-1].expectKey = true
				}
				prefix := strings.Join(path, ".")
				if t == '}' {
					if _, isEvent := eventFieldKey(prefix); isEvent {
						currentDict = msg
					} else if prefix == messagesItemPrefix && inMessage {
						if err := emit(); err != nil {
							return err
						}
					}
				}
			}
		default:
			prefix := strings.Join(path, ".")
			value := scalarValue(tok)
			if prefix == "item.dmConversation.conversationId" {
				if sv, ok := value.(string); ok {
					conversationID = sv
				}
			} else if key, isEvent := eventFieldKey(prefix); isEvent {
				inMessage = true
				msg["type"] = eventTypeOf(prefix)
				if key == "item" {
					arrayName := path[len(path)-2]
					msg[arrayName] = append(anySlice(msg[arrayName]), value)
				} else {
					currentDict[key] = value
				}
			}
			if len(stack) > 0 && stack[len(stack)-1].isObject {
				stack[len(stack)-1].expectKey = true
			}
		}
	}
}

// eventFieldKey reports whether prefix points inside a recognized event
// object, returning the field name (the final path component) if so.
func eventFieldKey(prefix string) (string, bool) {
	for _, et := range eventTypes {
		if strings.HasPrefix(prefix, messagesItemPrefix+"."+et+".") {
			comps := strings.Split(prefix, ".")
			return comps[len(comps)-1], true
		}
	}
	return "", false
}

// eventTypeOf extracts the event type discriminant from a matched prefix.
func eventTypeOf(prefix string) string {
	return strings.Split(prefix, ".")[4]
}

func anySlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func scalarValue(tok json.Token) any {
	switch t := tok.(type) {
	case string, float64, bool, nil:
		return t
	default:
		return t
	}
}

// eventFromRaw converts the accumulated field map into a typed Event.
func eventFromRaw(raw map[string]any) (Event, error) {
	ev := Event{
		Type:           rawString(raw, "type"),
		ConversationID: rawString(raw, "conversationId"),
		ID:             rawString(raw, "id"),
		CreatedAt:      rawString(raw, "createdAt"),
		SenderID:       rawString(raw, "senderId"),
		RecipientID:    rawString(raw, "recipientId"),
		Text:           rawString(raw, "text"),
		InitiatorID:    rawString(raw, "initiatingUserId"),
		Name:           rawString(raw, "name"),
		MediaURLs:      rawStrings(raw, "mediaUrls"),
		UserIDs:        rawStrings(raw, "userIds"),

		ParticipantsSnapshot: rawStrings(raw, "participantsSnapshot"),
	}
	if ev.Type == "" {
		return Event{}, errors.New("archive: event missing type discriminant")
	}
	for _, item := range anySlice(raw["reactions"]) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ev.Reactions = append(ev.Reactions, EventReaction{
			SenderID:    rawString(m, "senderId"),
			ReactionKey: rawString(m, "reactionKey"),
			CreatedAt:   rawString(m, "createdAt"),
		})
	}
	for _, item := range anySlice(raw["urls"]) {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ev.URLs = append(ev.URLs, EventLink{
			URL:      rawString(m, "url"),
			Expanded: rawString(m, "expanded"),
			Display:  rawString(m, "display"),
		})
	}
	return ev, nil
}

func rawString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func rawStrings(m map[string]any, key string) []string {
	items := anySlice(m[key])
	if items == nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
