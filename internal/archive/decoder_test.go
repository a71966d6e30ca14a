package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleExport = `window.YTD.direct_messages.part0 = [
  {
    "dmConversation" : {
      "conversationId" : "111-222",
      "messages" : [
        {
          "messageCreate" : {
            "reactions" : [
              {
                "senderId" : "222",
                "reactionKey" : "funny",
                "eventId" : "999",
                "createdAt" : "2021-03-01T05:00:00.000Z"
              }
            ],
            "urls" : [
              {
                "url" : "https://t.co/AbCd",
                "expanded" : "https://example.com/page",
                "display" : "example.com/page"
              }
            ],
            "text" : "look at this https://t.co/AbCd",
            "mediaUrls" : [ ],
            "senderId" : "111",
            "id" : "10001",
            "createdAt" : "2021-02-28T20:00:00.000Z",
            "recipientId" : "222"
          }
        },
        {
          "messageCreate" : {
            "reactions" : [ ],
            "urls" : [ ],
            "text" : "no frills",
            "mediaUrls" : [ "https://ton.twitter.com/dm/10002/556677/photo.jpg" ],
            "senderId" : "222",
            "id" : "10002",
            "createdAt" : "2021-03-01T04:00:00.000Z",
            "recipientId" : "111"
          }
        }
      ]
    }
  },
  {
    "dmConversation" : {
      "conversationId" : "333333",
      "messages" : [
        {
          "joinConversation" : {
            "initiatingUserId" : "444",
            "participantsSnapshot" : [ "555", "666" ],
            "createdAt" : "2020-01-01T00:00:00.000Z"
          }
        },
        {
          "participantsJoin" : {
            "initiatingUserId" : "555",
            "userIds" : [ "777" ],
            "createdAt" : "2020-02-01T00:00:00.000Z"
          }
        },
        {
          "conversationNameUpdate" : {
            "initiatingUserId" : "555",
            "name" : "the good room",
            "createdAt" : "2020-03-01T00:00:00.000Z"
          }
        },
        {
          "participantsLeave" : {
            "userIds" : [ "666" ],
            "createdAt" : "2020-04-01T00:00:00.000Z"
          }
        }
      ]
    }
  }
]`

func writeExport(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "direct-messages.js")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, s.Each(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	return events
}

func TestStreamDecodesAllEventTypes(t *testing.T) {
	s, err := NewStream(writeExport(t, sampleExport))
	require.NoError(t, err)

	events := collect(t, s)
	require.Len(t, events, 6)

	first := events[0]
	require.Equal(t, "messageCreate", first.Type)
	require.Equal(t, "111-222", first.ConversationID)
	require.Equal(t, "10001", first.ID)
	require.Equal(t, "111", first.SenderID)
	require.Equal(t, "222", first.RecipientID)
	require.Equal(t, "look at this https://t.co/AbCd", first.Text)
	require.Equal(t, "2021-02-28T20:00:00.000Z", first.CreatedAt)
	require.Len(t, first.Reactions, 1)
	require.Equal(t, "funny", first.Reactions[0].ReactionKey)
	require.Equal(t, "222", first.Reactions[0].SenderID)
	require.Len(t, first.URLs, 1)
	require.Equal(t, "https://example.com/page", first.URLs[0].Expanded)
	require.Empty(t, first.MediaURLs)

	second := events[1]
	require.Equal(t, []string{"https://ton.twitter.com/dm/10002/556677/photo.jpg"}, second.MediaURLs)
	require.Empty(t, second.Reactions)

	join := events[2]
	require.Equal(t, "joinConversation", join.Type)
	require.Equal(t, "333333", join.ConversationID)
	require.Equal(t, "444", join.InitiatorID)
	require.Equal(t, []string{"555", "666"}, join.ParticipantsSnapshot)

	pJoin := events[3]
	require.Equal(t, "participantsJoin", pJoin.Type)
	require.Equal(t, []string{"777"}, pJoin.UserIDs)
	require.Equal(t, "555", pJoin.InitiatorID)

	rename := events[4]
	require.Equal(t, "conversationNameUpdate", rename.Type)
	require.Equal(t, "the good room", rename.Name)

	leave := events[5]
	require.Equal(t, "participantsLeave", leave.Type)
	require.Equal(t, []string{"666"}, leave.UserIDs)
	require.Equal(t, "2020-04-01T00:00:00.000Z", leave.CreatedAt)
}

func TestStreamProgressReachesOne(t *testing.T) {
	s, err := NewStream(writeExport(t, sampleExport))
	require.NoError(t, err)
	require.Equal(t, 0.0, s.Progress())

	collect(t, s)
	require.InDelta(t, 1.0, s.Progress(), 0.0001)
	require.Equal(t, int64(6), s.EventsDecoded())
}

func TestStreamMissingJSONStart(t *testing.T) {
	_, err := NewStream(writeExport(t, "window.YTD.direct_messages.part0 = "))
	require.ErrorIs(t, err, ErrNoJSONStart)
}

func TestStreamCallbackErrorStopsWalk(t *testing.T) {
	s, err := NewStream(writeExport(t, sampleExport))
	require.NoError(t, err)

	calls := 0
	wantErr := os.ErrClosed
	err = s.Each(func(Event) error {
		calls++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, calls)
}
