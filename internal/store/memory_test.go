package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/toBeOfUse/Twitter-Archive-Browser/internal/models"
)

func TestMatchSearch(t *testing.T) {
	cases := []struct {
		name    string
		content string
		terms   []SearchTerm
		want    bool
	}{
		{"single word", "the quick brown fox", []SearchTerm{{Text: "quick"}}, true},
		{"word prefix", "the quickest fox", []SearchTerm{{Text: "quick"}}, true},
		{"missing word", "the quick brown fox", []SearchTerm{{Text: "slow"}}, false},
		{"case folded", "Hello There", []SearchTerm{{Text: "hello"}}, true},
		{"punctuation split", "well...done!", []SearchTerm{{Text: "done"}}, true},
		{"all terms required", "quick fox", []SearchTerm{{Text: "quick"}, {Text: "dog"}}, false},
		{"punctuated query word", "i am home", []SearchTerm{{Text: "home!"}}, true},
		{"punctuation-only word matches anything", "whatever", []SearchTerm{{Text: "!!!"}}, true},
		{"phrase adjacent", "a quick brown fox", []SearchTerm{{Phrase: true, Text: "quick brown"}}, true},
		{"phrase out of order", "brown and quick", []SearchTerm{{Phrase: true, Text: "quick brown"}}, false},
		{"phrase with gap", "quick red brown", []SearchTerm{{Phrase: true, Text: "quick brown"}}, false},
		{"phrase needs whole words", "quickest brownest", []SearchTerm{{Phrase: true, Text: "quick brown"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := matchSearch(tc.content, SearchQuery{Terms: tc.terms})
			require.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeWords(t *testing.T) {
	require.Equal(t, []string{"abc", "def", "1", "2"}, normalizeWords("Abc, DEF? (1+2)"))
	require.Empty(t, normalizeWords("!!! ..."))
	require.Equal(t, []string{"héllo"}, normalizeWords("Héllo"), "non-ascii letters survive")
}

func TestPageOf(t *testing.T) {
	all := []int{1, 2, 3, 4, 5}
	require.Equal(t, []int{1, 2}, pageOf(all, 1, 2))
	require.Equal(t, []int{3, 4}, pageOf(all, 2, 2))
	require.Equal(t, []int{5}, pageOf(all, 3, 2))
	require.Nil(t, pageOf(all, 4, 2))
	require.Equal(t, []int{1, 2}, pageOf(all, 0, 2), "page zero clamps to one")
}

func conversationFixture(t *testing.T) *Memory {
	t.Helper()
	ctx := context.Background()
	st := NewMemory()
	imp, err := st.BeginImport(ctx, "me")
	require.NoError(t, err)

	require.NoError(t, imp.AddUser(ctx, "me"))
	require.NoError(t, imp.AddUser(ctx, "them"))

	// three conversations with distinct sizes and age ordering
	specs := []struct {
		id       string
		kind     string
		start    int
		fromMe   int
		fromThem int
	}{
		{"a", models.ConversationIndividual, 0, 1, 1},
		{"b", models.ConversationGroup, 10, 5, 0},
		{"c", models.ConversationIndividual, 20, 0, 3},
	}
	msg := 0
	for _, sp := range specs {
		other := ""
		if sp.kind == models.ConversationIndividual {
			other = "them"
		}
		require.NoError(t, imp.AddConversation(ctx, sp.id, sp.kind, other))
		require.NoError(t, imp.AddParticipant(ctx, "me", sp.id))
		require.NoError(t, imp.AddParticipant(ctx, "them", sp.id))
		add := func(sender string, n int) {
			for i := 0; i < n; i++ {
				require.NoError(t, imp.AddMessage(ctx, models.Message{
					Schema:       models.SchemaMessage,
					ID:           fmt.Sprintf("msg%d", msg),
					SentTime:     fmt.Sprintf("2023-01-01T00:%02d:%02d.000Z", sp.start, msg),
					Conversation: sp.id,
					Sender:       sender,
					Content:      "x",
				}, nil))
				msg++
			}
		}
		add("me", sp.fromMe)
		add("them", sp.fromThem)
	}

	require.NoError(t, imp.DeriveStats(ctx))
	require.NoError(t, imp.Commit(ctx))
	return st
}

func conversationIDs(convs []models.Conversation) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.ID
	}
	return out
}

func TestConversationOrders(t *testing.T) {
	ctx := context.Background()
	st := conversationFixture(t)

	cases := []struct {
		name  string
		query ConversationQuery
		want  []string
	}{
		{"oldest first", ConversationQuery{Group: true, Individual: true, Order: OrderOldestFirst, Page: 1}, []string{"a", "b", "c"}},
		{"newest first", ConversationQuery{Group: true, Individual: true, Order: OrderNewestFirst, Page: 1}, []string{"c", "b", "a"}},
		{"most messages", ConversationQuery{Group: true, Individual: true, Order: OrderMostMessages, Page: 1}, []string{"b", "c", "a"}},
		{"most from me", ConversationQuery{Group: true, Individual: true, Order: OrderMostMessagesFromYou, Page: 1}, []string{"b", "a", "c"}},
		{"groups only", ConversationQuery{Group: true, Order: OrderNewestFirst, Page: 1}, []string{"b"}},
		{"individual only", ConversationQuery{Individual: true, Order: OrderOldestFirst, Page: 1}, []string{"a", "c"}},
		{"by user activity", ConversationQuery{Group: true, Individual: true, Order: OrderUserMessages, ForUser: "them", Page: 1}, []string{"c", "a", "b"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			convs, err := st.Conversations(ctx, tc.query)
			require.NoError(t, err)
			require.Equal(t, tc.want, conversationIDs(convs))
		})
	}
}

func TestMutationsOnMissingRecords(t *testing.T) {
	ctx := context.Background()
	st := conversationFixture(t)

	require.ErrorIs(t, st.SetUserNickname(ctx, "ghost", "boo"), ErrNotFound)
	require.ErrorIs(t, st.SetConversationNotes(ctx, "ghost", "boo"), ErrNotFound)
	_, err := st.MessageByID(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = st.ConversationByID(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRollbackDiscardsImport(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	imp, err := st.BeginImport(ctx, "me")
	require.NoError(t, err)
	require.NoError(t, imp.AddUser(ctx, "me"))
	require.NoError(t, imp.Rollback(ctx))

	owner, err := st.Owner(ctx)
	require.NoError(t, err)
	require.Empty(t, owner, "a rolled back import leaves the store untouched")
}

func TestTSQuery(t *testing.T) {
	cases := []struct {
		name  string
		terms []SearchTerm
		want  string
	}{
		{"words become prefix matches", []SearchTerm{{Text: "hello"}, {Text: "world"}}, "hello:* & world:*"},
		{"phrase chains adjacency", []SearchTerm{{Phrase: true, Text: "good morning"}}, "(good <-> morning)"},
		{"mixed", []SearchTerm{{Text: "cat"}, {Phrase: true, Text: "the hat"}}, "cat:* & (the <-> hat)"},
		{"punctuation stripped", []SearchTerm{{Text: "don't"}}, "don:* & t:*"},
		{"empty terms dropped", []SearchTerm{{Text: "..."}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tsQuery(SearchQuery{Terms: tc.terms}))
		})
	}
}

func TestMessageCondsSkipsEmptyTSQuery(t *testing.T) {
	q := SearchQuery{Terms: []SearchTerm{{Text: "..."}}}
	conds, args := messageConds(MessageFilter{Conversation: "c"}, &q)
	require.Equal(t, []string{"conversation_id = $1"}, conds)
	require.Equal(t, []any{"c"}, args)
}
