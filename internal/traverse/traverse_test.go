package traverse

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/store"
)

func testEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	st := buildFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(st, logger), st
}

func ts(i int) string {
	return fmt.Sprintf("2021-01-01T00:%02d:%02d.000Z", i/60, i%60)
}

const (
	joinTime   = "2021-01-01T00:00:05.500Z"
	renameTime = "2021-01-01T00:00:10.500Z"
	leaveTime  = "2021-01-01T00:00:50.500Z"
)

// buildFixture imports a group conversation "g" with 100 messages plus a
// rename and one member's join/leave inside the timeline, an individual
// conversation with one resolved correspondent, a never-renamed group "g2"
// with six members of distinct activity levels, and a group "g3" whose
// members stay unresolved.
func buildFixture(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	imp, err := st.BeginImport(ctx, "111")
	require.NoError(t, err)

	addUser := func(id string) {
		require.NoError(t, imp.AddUser(ctx, id))
	}
	addParticipant := func(user, conv string) {
		require.NoError(t, imp.AddParticipant(ctx, user, conv))
	}
	addMessage := func(id, conv, sender, sentTime, content string) {
		require.NoError(t, imp.AddMessage(ctx, models.Message{
			Schema:       models.SchemaMessage,
			ID:           id,
			SentTime:     sentTime,
			Conversation: conv,
			Sender:       sender,
			Content:      content,
			HTMLContent:  content,
		}, nil))
	}

	for _, id := range []string{"111", "222", "333"} {
		addUser(id)
	}

	require.NoError(t, imp.AddConversation(ctx, "g", models.ConversationGroup, ""))
	for _, id := range []string{"111", "222", "333"} {
		addParticipant(id, "g")
	}
	for i := 0; i < 100; i++ {
		sender := "222"
		if i%2 == 0 {
			sender = "111"
		}
		content := fmt.Sprintf("message number %d", i)
		if i == 7 {
			content = "the pelican flies"
		}
		addMessage(fmt.Sprintf("m%03d", i), "g", sender, ts(i), content)
	}
	require.NoError(t, imp.AddNameUpdate(ctx, models.NameUpdate{
		Schema:       models.SchemaNameUpdate,
		UpdateTime:   renameTime,
		Initiator:    "222",
		NewName:      "group chat",
		Conversation: "g",
	}))
	require.NoError(t, imp.SetParticipantAddedBy(ctx, "333", "g", "222"))
	require.NoError(t, imp.SetParticipantInterval(ctx, "333", "g", joinTime, leaveTime))

	require.NoError(t, imp.AddConversation(ctx, "111-222", models.ConversationIndividual, "222"))
	addParticipant("111", "111-222")
	addParticipant("222", "111-222")
	addMessage("solo1", "111-222", "222", "2021-03-01T00:00:00.000Z", "just us")
	require.NoError(t, imp.UpdateUserProfile(ctx, "222", store.ProfileUpdate{
		Handle:       "friend",
		DisplayName:  "Friend Person",
		AvatarFormat: "jpg",
	}))

	require.NoError(t, imp.AddConversation(ctx, "g2", models.ConversationGroup, ""))
	msgID := 0
	for i := 1; i <= 6; i++ {
		id := fmt.Sprintf("u%d", i)
		addUser(id)
		addParticipant(id, "g2")
		require.NoError(t, imp.UpdateUserProfile(ctx, id, store.ProfileUpdate{
			Handle:      fmt.Sprintf("h%d", i),
			DisplayName: fmt.Sprintf("D%d", i),
		}))
		for n := 0; n < 7-i; n++ {
			addMessage(fmt.Sprintf("n%03d", msgID), "g2", id,
				fmt.Sprintf("2021-02-01T00:%02d:%02d.000Z", msgID/60, msgID%60), "chatter")
			msgID++
		}
	}

	require.NoError(t, imp.AddConversation(ctx, "g3", models.ConversationGroup, ""))
	for _, id := range []string{"901", "902"} {
		addUser(id)
		addParticipant(id, "g3")
	}
	addMessage("q001", "g3", "901", "2021-04-01T00:00:01.000Z", "one")
	addMessage("q002", "g3", "901", "2021-04-01T00:00:02.000Z", "two")
	addMessage("q003", "g3", "902", "2021-04-01T00:00:03.000Z", "three")

	require.NoError(t, imp.DeriveStats(ctx))
	require.NoError(t, imp.Commit(ctx))
	return st
}

func messageIDs(items []models.MessageLike) []string {
	var out []string
	for _, it := range items {
		if m, ok := it.(models.Message); ok {
			out = append(out, m.ID)
		}
	}
	return out
}

func requireChronological(t *testing.T, items []models.MessageLike) {
	t.Helper()
	for i := 1; i < len(items); i++ {
		require.LessOrEqual(t, items[i-1].Timestamp(), items[i].Timestamp())
	}
}

func TestTraverseForwardPages(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	page, err := e.Traverse(ctx, f, Cursor{After: models.TimeZeroes}, nil)
	require.NoError(t, err)
	// 40 messages plus the join and the rename that fall inside the window
	require.Len(t, page.Items, 42)
	requireChronological(t, page.Items)
	ids := messageIDs(page.Items)
	require.Equal(t, "m000", ids[0])
	require.Equal(t, "m039", ids[len(ids)-1])

	join, ok := page.Items[6].(models.ParticipantJoin)
	require.True(t, ok, "join lands between m005 and m006")
	require.Equal(t, "333", join.Participant)
	require.Equal(t, "222", join.AddedBy)
	rename, ok := page.Items[12].(models.NameUpdate)
	require.True(t, ok, "rename lands between m010 and m011")
	require.Equal(t, "group chat", rename.NewName)

	last := page.Items[len(page.Items)-1].Timestamp()
	page2, err := e.Traverse(ctx, f, Cursor{After: last}, nil)
	require.NoError(t, err)
	// 40 messages plus the leave at 50.5
	require.Len(t, page2.Items, 41)
	ids2 := messageIDs(page2.Items)
	require.Equal(t, "m040", ids2[0])
	require.Equal(t, "m079", ids2[len(ids2)-1])
	_, ok = page2.Items[11].(models.ParticipantLeave)
	require.True(t, ok, "leave lands between m050 and m051")

	page3, err := e.Traverse(ctx, f, Cursor{After: page2.Items[len(page2.Items)-1].Timestamp()}, nil)
	require.NoError(t, err)
	require.Len(t, page3.Items, 20)
	ids3 := messageIDs(page3.Items)
	require.Equal(t, "m080", ids3[0])
	require.Equal(t, "m099", ids3[len(ids3)-1])
}

func TestTraverseRoundTripSymmetry(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	var forward []string
	cursor := models.TimeZeroes
	for {
		page, err := e.Traverse(ctx, f, Cursor{After: cursor}, nil)
		require.NoError(t, err)
		if len(page.Items) == 0 {
			break
		}
		for _, it := range page.Items {
			forward = append(forward, it.Timestamp())
		}
		cursor = page.Items[len(page.Items)-1].Timestamp()
	}

	var backward []string
	cursor = models.TimeNines
	for {
		page, err := e.Traverse(ctx, f, Cursor{Before: cursor}, nil)
		require.NoError(t, err)
		if len(page.Items) == 0 {
			break
		}
		chunk := make([]string, 0, len(page.Items))
		for _, it := range page.Items {
			chunk = append(chunk, it.Timestamp())
		}
		backward = append(chunk, backward...)
		cursor = page.Items[0].Timestamp()
	}

	// 100 messages plus the join, the rename, and the leave, each exactly once
	require.Len(t, forward, 103)
	require.Equal(t, forward, backward)
}

func TestTraverseBackward(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	page, err := e.Traverse(ctx, f, Cursor{Before: models.TimeNines}, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 40)
	requireChronological(t, page.Items)
	ids := messageIDs(page.Items)
	require.Equal(t, "m060", ids[0])
	require.Equal(t, "m099", ids[len(ids)-1])

	// stepping back again continues without a gap or an overlap
	page2, err := e.Traverse(ctx, f, Cursor{Before: page.Items[0].Timestamp()}, nil)
	require.NoError(t, err)
	ids2 := messageIDs(page2.Items)
	require.Equal(t, "m020", ids2[0])
	require.Equal(t, "m059", ids2[len(ids2)-1])
	// the leave at 50.5 belongs to this window
	require.Len(t, page2.Items, 41)
}

func TestTraverseAt(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	page, err := e.Traverse(ctx, f, Cursor{At: ts(50)}, nil)
	require.NoError(t, err)
	require.Len(t, page.Items, 41)
	requireChronological(t, page.Items)
	ids := messageIDs(page.Items)
	require.Equal(t, "m031", ids[0])
	require.Equal(t, "m070", ids[len(ids)-1])

	center, ok := page.Items[19].(models.Message)
	require.True(t, ok)
	require.Equal(t, "m050", center.ID)
	_, ok = page.Items[20].(models.ParticipantLeave)
	require.True(t, ok, "leave at 50.5 sits just past the pivot")
}

func TestTraverseSearch(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	q := ParseSearch("pelican")
	page, err := e.Traverse(ctx, f, Cursor{After: models.TimeZeroes}, &q)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	msg, ok := page.Items[0].(models.Message)
	require.True(t, ok)
	require.Equal(t, "m007", msg.ID)

	// a query matching everything still suppresses conversation events
	q = ParseSearch("message")
	page, err = e.Traverse(ctx, f, Cursor{After: models.TimeZeroes}, &q)
	require.NoError(t, err)
	require.Len(t, page.Items, 40)
	require.Len(t, messageIDs(page.Items), 40)

	// an empty query is no query at all
	q = ParseSearch("   ")
	page, err = e.Traverse(ctx, f, Cursor{After: models.TimeZeroes}, &q)
	require.NoError(t, err)
	require.Len(t, page.Items, 42)
}

func TestTraverseBadCursor(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)
	f := store.MessageFilter{Conversation: "g"}

	_, err := e.Traverse(ctx, f, Cursor{}, nil)
	require.ErrorIs(t, err, ErrBadCursor)

	_, err = e.Traverse(ctx, f, Cursor{After: ts(1), Before: ts(2)}, nil)
	require.ErrorIs(t, err, ErrBadCursor)

	_, err = e.Traverse(ctx, f, Cursor{After: ts(1), At: ts(2)}, nil)
	require.ErrorIs(t, err, ErrBadCursor)
}

func TestTraverseHydratesSidecars(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	page, err := e.Traverse(ctx, store.MessageFilter{Conversation: "g"}, Cursor{After: models.TimeZeroes}, nil)
	require.NoError(t, err)

	userIDs := map[string]bool{}
	for _, u := range page.Users {
		userIDs[u.ID] = true
	}
	require.True(t, userIDs["111"])
	require.True(t, userIDs["222"])
	require.True(t, userIDs["333"], "event participants are hydrated too")

	require.Len(t, page.Conversations, 1)
	require.Equal(t, "g", page.Conversations[0].ID)
	require.Equal(t, "group chat", page.Conversations[0].Name)
	require.Equal(t, models.GroupDefaultImageURL, page.Conversations[0].ImageURL)
}

func TestConversationNames(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	convs, err := e.Conversations(ctx, []string{"111-222", "g2", "g3"})
	require.NoError(t, err)
	require.Len(t, convs, 3)

	solo := convs[0]
	require.Equal(t, "Friend Person (@friend)", solo.Name)
	require.NotNil(t, solo.OtherPerson)
	require.Equal(t, "222", solo.OtherPerson.ID)
	require.Equal(t, "/api/avatar/222.jpg", solo.ImageURL)

	unnamed := convs[1]
	require.Equal(t, "D1, D2, D3, D4, D5, etc.", unnamed.Name)
	require.Equal(t, models.GroupDefaultImageURL, unnamed.ImageURL)

	// unresolved members fall back to @id, busiest first
	unresolved := convs[2]
	require.Equal(t, "@901, @902", unresolved.Name)
}

func TestSetUserNicknameTruncatesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	e, _ := testEngine(t)

	// warm the caches with the derived name
	convs, err := e.Conversations(ctx, []string{"111-222"})
	require.NoError(t, err)
	require.Equal(t, "Friend Person (@friend)", convs[0].Name)

	long := strings.Repeat("x", MaxNicknameLength+10)
	require.NoError(t, e.SetUserNickname(ctx, "222", long))

	users, err := e.Users(ctx, []string{"222"})
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, strings.Repeat("x", MaxNicknameLength), users[0].Nickname)

	convs, err = e.Conversations(ctx, []string{"111-222"})
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("x", MaxNicknameLength), convs[0].Name,
		"nickname replaces the derived conversation name")
}
