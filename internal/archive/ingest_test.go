package archive

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/enrich"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProfileSource resolves only the ids it was given up front.
type fakeProfileSource struct {
	profiles map[string]enrich.Profile
}

func (f fakeProfileSource) Lookup(ctx context.Context, ids []string) ([]enrich.Profile, error) {
	var out []enrich.Profile
	for _, id := range ids {
		if p, ok := f.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

const (
	ownerID = "111"
	t1      = "2020-01-01T00:00:00.000Z"
	t2      = "2020-02-01T00:00:00.000Z"
	t3      = "2020-03-01T00:00:00.000Z"
	t4      = "2020-04-01T00:00:00.000Z"
	t5      = "2020-05-01T00:00:00.000Z"
)

func ingestFixture(t *testing.T, source enrich.Source) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	imp, err := st.BeginImport(ctx, ownerID)
	require.NoError(t, err)

	client := enrich.NewClient(source, discardLogger())
	ing := NewIngester(imp, client, ownerID, discardLogger())

	individual := []Event{
		{
			Type: "messageCreate", ConversationID: "111-222", ID: "10001",
			CreatedAt: t1, SenderID: "222", RecipientID: ownerID,
			Text: "hey check https://t.co/AbCd out",
			URLs: []EventLink{{URL: "https://t.co/AbCd", Expanded: "https://example.com/x", Display: "example.com/x"}},
		},
		{
			Type: "messageCreate", ConversationID: "111-222", ID: "10002",
			CreatedAt: t2, SenderID: ownerID, RecipientID: "222",
			Text:      "a picture https://t.co/pic111",
			URLs:      []EventLink{{URL: "https://t.co/pic111", Expanded: "https://twitter.com/messages/media/1", Display: "pic.twitter.com/pic111"}},
			MediaURLs: []string{"https://ton.twitter.com/dm/10002/556677/photo.jpg"},
			Reactions: []EventReaction{{SenderID: "222", ReactionKey: "heart", CreatedAt: t3}},
		},
	}
	for _, ev := range individual {
		require.NoError(t, ing.AddEvent(ctx, ev, false))
	}

	group := []Event{
		{
			Type: "joinConversation", ConversationID: "g1", CreatedAt: t1,
			InitiatorID: "333", ParticipantsSnapshot: []string{"222", "333"},
		},
		{
			Type: "participantsJoin", ConversationID: "g1", CreatedAt: t2,
			InitiatorID: "222", UserIDs: []string{"444"},
		},
		{
			Type: "conversationNameUpdate", ConversationID: "g1", CreatedAt: t3,
			InitiatorID: "222", Name: "the good room",
		},
		{
			Type: "messageCreate", ConversationID: "g1", ID: "20001",
			CreatedAt: t4, SenderID: "444", Text: "hello room",
		},
		{
			Type: "participantsLeave", ConversationID: "g1", CreatedAt: t5,
			UserIDs: []string{"333"},
		},
	}
	for _, ev := range group {
		require.NoError(t, ing.AddEvent(ctx, ev, true))
	}

	require.NoError(t, ing.Finalize(ctx))
	return st
}

func TestIngestIndividualConversation(t *testing.T) {
	ctx := context.Background()
	st := ingestFixture(t, enrich.NoopSource{})

	owner, err := st.Owner(ctx)
	require.NoError(t, err)
	require.Equal(t, ownerID, owner)

	conv, err := st.ConversationByID(ctx, "111-222")
	require.NoError(t, err)
	require.Equal(t, models.ConversationIndividual, conv.Type)
	require.Equal(t, "222", conv.OtherPersonID)
	require.Equal(t, 2, conv.NumberOfMessages)
	require.Equal(t, 1, conv.MessagesFromYou)
	require.Equal(t, t1, conv.FirstTime)
	require.Equal(t, t2, conv.LastTime)
	require.True(t, conv.CreatedByMe)

	msg, err := st.MessageByID(ctx, "10001")
	require.NoError(t, err)
	require.Equal(t, `hey check <a href="https://example.com/x" target="_blank">example.com/x</a> out`, msg.HTMLContent)

	withMedia, err := st.MessageByID(ctx, "10002")
	require.NoError(t, err)
	require.Equal(t, "a picture", withMedia.HTMLContent)
	require.Len(t, withMedia.Media, 1)
	require.Equal(t, "556677", withMedia.Media[0].ID)
	require.Equal(t, models.MediaImage, withMedia.Media[0].Type)
	require.Equal(t, "/api/media/10002-photo.jpg", withMedia.Media[0].Src)
	require.Len(t, withMedia.Reactions, 1)
	require.Equal(t, "heart", withMedia.Reactions[0].Emotion)
}

func TestIngestGroupConversation(t *testing.T) {
	ctx := context.Background()
	st := ingestFixture(t, enrich.NoopSource{})

	conv, err := st.ConversationByID(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, models.ConversationGroup, conv.Type)
	require.False(t, conv.CreatedByMe)
	require.Equal(t, "333", conv.AddedByID)
	require.Equal(t, t1, conv.FirstTime)
	require.Equal(t, 1, conv.NumNameUpdates)

	wide := store.MessageFilter{Conversation: "g1"}
	joins, err := st.JoinsBetween(ctx, wide, models.TimeZeroes, models.TimeNines)
	require.NoError(t, err)
	// snapshot participants have no genuine join; 444 joined at t2, the
	// owner joined when added at t1
	joined := map[string]models.ParticipantJoin{}
	for _, j := range joins {
		joined[j.Participant] = j
	}
	require.Len(t, joined, 2)
	require.Equal(t, t2, joined["444"].Time)
	require.Equal(t, "222", joined["444"].AddedBy)
	require.Equal(t, t1, joined[ownerID].Time)
	require.Equal(t, "333", joined[ownerID].AddedBy, "the join initiator added the owner")

	leaves, err := st.LeavesBetween(ctx, wide, models.TimeZeroes, models.TimeNines)
	require.NoError(t, err)
	require.Len(t, leaves, 1)
	require.Equal(t, "333", leaves[0].Participant)
	require.Equal(t, t5, leaves[0].Time)

	name, ok, err := st.LatestConversationName(ctx, "g1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "the good room", name)
}

func TestIngestAppliesEnrichment(t *testing.T) {
	ctx := context.Background()
	st := ingestFixture(t, fakeProfileSource{profiles: map[string]enrich.Profile{
		"222": {ID: "222", Handle: "pal", DisplayName: "A Pal", Bio: "hi", Avatar: []byte{1}, AvatarFormat: "jpg"},
	}})

	users, err := st.UsersByID(ctx, []string{"222", "333"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	byID := map[string]models.User{}
	for _, u := range users {
		byID[u.ID] = u
	}

	resolved := byID["222"]
	require.True(t, resolved.Resolved)
	require.Equal(t, "pal", resolved.Handle)
	require.Equal(t, "A Pal", resolved.DisplayName)
	require.Equal(t, "/api/avatar/222.jpg", resolved.AvatarURL)

	skeleton := byID["333"]
	require.False(t, skeleton.Resolved)
	require.Equal(t, "333", skeleton.Handle)
	require.Equal(t, models.DefaultDisplayName, skeleton.DisplayName)
	require.Equal(t, models.UserDefaultAvatarURL, skeleton.AvatarURL)
}

func TestIngestDerivesGlobalStats(t *testing.T) {
	ctx := context.Background()
	st := ingestFixture(t, enrich.NoopSource{})

	stats, err := st.GlobalStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.NumberOfConversations)
	require.Equal(t, 3, stats.NumberOfMessages)
	require.Equal(t, t1, stats.EarliestMessage)
	require.Equal(t, t4, stats.LatestMessage)
}

func TestIngestOwnerAlwaysParticipates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	imp, err := st.BeginImport(ctx, ownerID)
	require.NoError(t, err)
	ing := NewIngester(imp, enrich.NewClient(enrich.NoopSource{}, discardLogger()), ownerID, discardLogger())

	// a group the owner was in but never spoke in, joined, or left
	require.NoError(t, ing.AddEvent(ctx, Event{
		Type: "messageCreate", ConversationID: "quiet", ID: "1",
		CreatedAt: t1, SenderID: "222", Text: "anyone here?",
	}, true))
	require.NoError(t, ing.Finalize(ctx))

	participants, err := st.ParticipantsByMessageCount(ctx, "quiet", 1)
	require.NoError(t, err)
	ids := map[string]bool{}
	for _, p := range participants {
		ids[p.ID] = true
	}
	require.True(t, ids["222"])
	require.True(t, ids[ownerID], "the owner is a participant of every conversation in their archive")
}

func TestIngestRejectsUnknownMediaURL(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	imp, err := st.BeginImport(ctx, ownerID)
	require.NoError(t, err)
	ing := NewIngester(imp, enrich.NewClient(enrich.NoopSource{}, discardLogger()), ownerID, discardLogger())

	err = ing.AddEvent(ctx, Event{
		Type: "messageCreate", ConversationID: "111-222", ID: "1",
		CreatedAt: t1, SenderID: "222",
		MediaURLs: []string{"https://pbs.twimg.com/media/mystery.jpg"},
	}, false)
	require.ErrorIs(t, err, ErrUnsupportedMediaURL)
}

func TestRenderHTML(t *testing.T) {
	urls := []EventLink{
		{URL: "https://t.co/a", Expanded: "https://example.com/a", Display: "example.com/a"},
		{URL: "https://t.co/b", Expanded: "https://twitter.com/messages/media/2", Display: "pic.twitter.com/b"},
	}
	got := renderHTML("one https://t.co/a\ntwo https://t.co/b", urls)
	require.Equal(t,
		`one <a href="https://example.com/a" target="_blank">example.com/a</a><br />two`,
		got)

	require.Equal(t, "a &lt;b&gt; &amp; c", renderHTML("a <b> & c", nil))
}
