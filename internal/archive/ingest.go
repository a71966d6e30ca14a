package archive

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/enrich"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

// Ingester feeds decoded export events into one store import. Everything it
// writes lands in a single transaction; nothing is visible until Finalize
// commits. Profile lookups run in the background through the enrichment
// client and their results are buffered here until finalization so the
// transaction only ever has one writer.
type Ingester struct {
	imp     store.Import
	client  *enrich.Client
	logger  *slog.Logger
	ownerID string

	addedUsers         map[string]struct{}
	addedConversations map[string]struct{}
	addedParticipants  map[string]struct{}
	participantFacts   map[string][]Fact

	profileMu sync.Mutex
	profiles  map[string]*enrich.Profile

	eventsIngested atomic.Int64
}

func NewIngester(imp store.Import, client *enrich.Client, ownerID string, logger *slog.Logger) *Ingester {
	return &Ingester{
		imp:                imp,
		client:             client,
		logger:             logger,
		ownerID:            ownerID,
		addedUsers:         make(map[string]struct{}),
		addedConversations: make(map[string]struct{}),
		addedParticipants:  make(map[string]struct{}),
		participantFacts:   make(map[string][]Fact),
		profiles:           make(map[string]*enrich.Profile),
	}
}

// EventsIngested reports how many events have been written so far.
func (in *Ingester) EventsIngested() int64 { return in.eventsIngested.Load() }

// AddEvent writes one decoded event. group says which section of the archive
// the event's file came from; individual and group conversations live in
// separate file sets.
func (in *Ingester) AddEvent(ctx context.Context, ev Event, group bool) error {
	if err := in.ensureConversation(ctx, ev, group); err != nil {
		return err
	}
	// the owner belongs to every conversation in their own archive, even
	// ones they never spoke in
	if err := in.ensureParticipant(ctx, in.ownerID, ev.ConversationID); err != nil {
		return err
	}

	var err error
	switch ev.Type {
	case "messageCreate":
		err = in.addMessage(ctx, ev, group)
	case "conversationNameUpdate":
		err = in.addNameUpdate(ctx, ev)
	case "participantsJoin":
		err = in.addJoin(ctx, ev)
	case "participantsLeave":
		err = in.addLeave(ctx, ev)
	case "joinConversation":
		err = in.addOwnJoin(ctx, ev)
	default:
		in.logger.Warn("unhandled_event_type", "type", ev.Type, "conversation", ev.ConversationID)
		return nil
	}
	if err != nil {
		return err
	}
	in.eventsIngested.Add(1)
	return nil
}

func (in *Ingester) ensureConversation(ctx context.Context, ev Event, group bool) error {
	if _, ok := in.addedConversations[ev.ConversationID]; ok {
		return nil
	}
	conversationType := models.ConversationIndividual
	otherPerson := ""
	if group {
		conversationType = models.ConversationGroup
	} else if ev.Type == "messageCreate" {
		otherPerson = ev.SenderID
		if otherPerson == in.ownerID {
			otherPerson = ev.RecipientID
		}
	}
	if err := in.imp.AddConversation(ctx, ev.ConversationID, conversationType, otherPerson); err != nil {
		return err
	}
	in.addedConversations[ev.ConversationID] = struct{}{}
	return nil
}

func (in *Ingester) ensureUser(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, ok := in.addedUsers[id]; ok {
		return nil
	}
	if err := in.imp.AddUser(ctx, id); err != nil {
		return err
	}
	in.addedUsers[id] = struct{}{}
	in.client.Enqueue(ctx, id, func(p *enrich.Profile) {
		if p == nil {
			return
		}
		in.profileMu.Lock()
		in.profiles[id] = p
		in.profileMu.Unlock()
	})
	return nil
}

func (in *Ingester) ensureParticipant(ctx context.Context, userID, conversationID string) error {
	if userID == "" {
		return nil
	}
	if err := in.ensureUser(ctx, userID); err != nil {
		return err
	}
	key := userID + "\x00" + conversationID
	if _, ok := in.addedParticipants[key]; ok {
		return nil
	}
	if err := in.imp.AddParticipant(ctx, userID, conversationID); err != nil {
		return err
	}
	in.addedParticipants[key] = struct{}{}
	return nil
}

func (in *Ingester) addFact(userID, conversationID string, kind FactKind, at string) {
	key := userID + "\x00" + conversationID
	in.participantFacts[key] = append(in.participantFacts[key], Fact{Kind: kind, Time: at})
}

func (in *Ingester) addMessage(ctx context.Context, ev Event, group bool) error {
	if err := in.ensureParticipant(ctx, ev.SenderID, ev.ConversationID); err != nil {
		return err
	}
	if !group && ev.RecipientID != "" {
		if err := in.ensureParticipant(ctx, ev.RecipientID, ev.ConversationID); err != nil {
			return err
		}
	}

	var reactions []models.Reaction
	for _, r := range ev.Reactions {
		if err := in.ensureParticipant(ctx, r.SenderID, ev.ConversationID); err != nil {
			return err
		}
		reactions = append(reactions, models.Reaction{
			Emotion:      r.ReactionKey,
			CreationTime: r.CreatedAt,
			Creator:      r.SenderID,
		})
	}

	var media []models.Media
	for _, raw := range ev.MediaURLs {
		parsed, err := ParseMediaURL(raw)
		if err != nil {
			return fmt.Errorf("message %s: %w", ev.ID, err)
		}
		media = append(media, models.Media{
			ID:        parsed.ID,
			Type:      parsed.Type,
			Src:       fmt.Sprintf("%s%s-%s", models.MediaAPIPath, ev.ID, parsed.Filename),
			Filename:  parsed.Filename,
			Message:   ev.ID,
			FromGroup: group,
		})
	}

	var links []models.Link
	for _, l := range ev.URLs {
		links = append(links, models.Link{
			OrigURL:   l.Expanded,
			Preview:   l.Display,
			Shortened: l.URL,
		})
	}

	msg := models.Message{
		Schema:       models.SchemaMessage,
		ID:           ev.ID,
		SentTime:     ev.CreatedAt,
		Conversation: ev.ConversationID,
		Sender:       ev.SenderID,
		Content:      ev.Text,
		HTMLContent:  renderHTML(ev.Text, ev.URLs),
		Reactions:    reactions,
		Media:        media,
	}
	return in.imp.AddMessage(ctx, msg, links)
}

func (in *Ingester) addNameUpdate(ctx context.Context, ev Event) error {
	if err := in.ensureParticipant(ctx, ev.InitiatorID, ev.ConversationID); err != nil {
		return err
	}
	return in.imp.AddNameUpdate(ctx, models.NameUpdate{
		Schema:       models.SchemaNameUpdate,
		UpdateTime:   ev.CreatedAt,
		Initiator:    ev.InitiatorID,
		NewName:      ev.Name,
		Conversation: ev.ConversationID,
	})
}

func (in *Ingester) addJoin(ctx context.Context, ev Event) error {
	if err := in.ensureUser(ctx, ev.InitiatorID); err != nil {
		return err
	}
	for _, id := range ev.UserIDs {
		if err := in.ensureParticipant(ctx, id, ev.ConversationID); err != nil {
			return err
		}
		in.addFact(id, ev.ConversationID, FactStart, ev.CreatedAt)
		if ev.InitiatorID != "" {
			if err := in.imp.SetParticipantAddedBy(ctx, id, ev.ConversationID, ev.InitiatorID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (in *Ingester) addLeave(ctx context.Context, ev Event) error {
	for _, id := range ev.UserIDs {
		if err := in.ensureParticipant(ctx, id, ev.ConversationID); err != nil {
			return err
		}
		in.addFact(id, ev.ConversationID, FactEnd, ev.CreatedAt)
	}
	return nil
}

// addOwnJoin handles the event recording the archive owner being added to a
// group. The participant snapshot only proves those users were present by
// this moment, so they get placeholder start facts that any genuine join
// observed later overrides.
func (in *Ingester) addOwnJoin(ctx context.Context, ev Event) error {
	if err := in.ensureUser(ctx, ev.InitiatorID); err != nil {
		return err
	}
	if err := in.imp.SetConversationJoin(ctx, ev.ConversationID, ev.CreatedAt, ev.InitiatorID); err != nil {
		return err
	}
	for _, id := range ev.ParticipantsSnapshot {
		if err := in.ensureParticipant(ctx, id, ev.ConversationID); err != nil {
			return err
		}
		in.addFact(id, ev.ConversationID, FactStart, models.TimeZeroes)
	}
	if err := in.ensureParticipant(ctx, in.ownerID, ev.ConversationID); err != nil {
		return err
	}
	in.addFact(in.ownerID, ev.ConversationID, FactStart, ev.CreatedAt)
	if ev.InitiatorID != "" {
		if err := in.imp.SetParticipantAddedBy(ctx, in.ownerID, ev.ConversationID, ev.InitiatorID); err != nil {
			return err
		}
	}
	return nil
}

// Finalize waits out the enrichment queue, applies its results, resolves
// every participant's presence interval, derives the denormalized stats, and
// commits. The import is unusable afterwards.
func (in *Ingester) Finalize(ctx context.Context) error {
	if err := in.client.Flush(ctx); err != nil {
		in.logger.Warn("profile_enrichment_incomplete", "error", err)
	}

	in.profileMu.Lock()
	profiles := in.profiles
	in.profiles = make(map[string]*enrich.Profile)
	in.profileMu.Unlock()
	for id, p := range profiles {
		err := in.imp.UpdateUserProfile(ctx, id, store.ProfileUpdate{
			Handle:       p.Handle,
			DisplayName:  p.DisplayName,
			Bio:          p.Bio,
			Avatar:       p.Avatar,
			AvatarFormat: p.AvatarFormat,
		})
		if err != nil {
			return err
		}
	}

	for key, facts := range in.participantFacts {
		userID, conversationID, ok := strings.Cut(key, "\x00")
		if !ok {
			return fmt.Errorf("malformed participant key %q", key)
		}
		interval := ResolveInterval(facts)
		if err := in.imp.SetParticipantInterval(ctx, userID, conversationID, interval.Start, interval.End); err != nil {
			return err
		}
	}

	if err := in.imp.DeriveStats(ctx); err != nil {
		return err
	}
	if err := in.imp.Commit(ctx); err != nil {
		return err
	}
	in.logger.Info("import_committed",
		"events", in.eventsIngested.Load(),
		"users", len(in.addedUsers),
		"conversations", len(in.addedConversations),
	)
	return nil
}

// renderHTML escapes a message's text and swaps each t.co shortened url for
// an anchor on its expanded target. Shortened urls whose display text points
// at pic.twitter.com are the auto-generated companions of attached media and
// are dropped from the text entirely.
func renderHTML(text string, urls []EventLink) string {
	out := html.EscapeString(text)
	for _, l := range urls {
		short := html.EscapeString(l.URL)
		if strings.HasPrefix(l.Display, "pic.twitter.com") {
			out = strings.ReplaceAll(out, short, "")
			continue
		}
		anchor := fmt.Sprintf(`<a href="%s" target="_blank">%s</a>`,
			html.EscapeString(l.Expanded), html.EscapeString(l.Display))
		out = strings.ReplaceAll(out, short, anchor)
	}
	out = strings.TrimSpace(out)
	return strings.ReplaceAll(out, "\n", "<br />")
}
