package telegram

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guzmanclinic/anabot/internal/events"
)

func TestNormalizeMessage(t *testing.T) {
	payload := `{
		"update_id": 700,
		"message": {
			"message_id": 41,
			"date": 1741618800,
			"chat": {"id": 100200300},
			"text": "hola"
		}
	}`
	evs, err := Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, evs, 1)

	ev := evs[0]
	require.Equal(t, events.ChannelTelegram, ev.Channel)
	require.Equal(t, "700", ev.EventID)
	require.Equal(t, "100200300", ev.UserKey)
	require.Equal(t, "hola", ev.Text)
	require.Equal(t, int64(1741618800), ev.ReceivedAt.Unix())
}

func TestNormalizeEditedMessage(t *testing.T) {
	payload := `{"update_id":701,"edited_message":{"message_id":42,"chat":{"id":5},"text":"2"}}`
	evs, err := Normalize([]byte(payload))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "701", evs[0].EventID)
	require.Equal(t, "2", evs[0].Text)
}

func TestNormalizeEventIDsDistinctAcrossChats(t *testing.T) {
	// Both chats start at message_id 1; the update_id keeps the dedup keys apart.
	a, err := Normalize([]byte(`{"update_id":800,"message":{"message_id":1,"chat":{"id":111},"text":"hola"}}`))
	require.NoError(t, err)
	b, err := Normalize([]byte(`{"update_id":801,"message":{"message_id":1,"chat":{"id":222},"text":"hola"}}`))
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	require.NotEqual(t, a[0].EventID, b[0].EventID)
}

func TestNormalizeNonMessageUpdate(t *testing.T) {
	payload := `{"update_id":702,"my_chat_member":{"chat":{"id":5}}}`
	evs, err := Normalize([]byte(payload))
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestNormalizeMalformed(t *testing.T) {
	_, err := Normalize([]byte("nope"))
	require.Error(t, err)
}
