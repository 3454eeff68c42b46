package chat

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventCarriesFlatTypeTag(t *testing.T) {
	payload, err := EncodeEvent(UserLeftChatEvent{ChatID: 3, UserID: 9})
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal([]byte(payload), &wire))
	assert.Equal(t, "user_left_chat", wire["type"])
	assert.Equal(t, float64(3), wire["chatid"])
	assert.Equal(t, float64(9), wire["userid"])
}

func TestEventRoundTrip(t *testing.T) {
	writeTime := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	events := []Event{
		NewMessageEvent{ChatID: 1, UserID: 2, WriteTime: writeTime, Text: "hello"},
		UserConnectedEvent{UserID: 2},
		UserDisconnectedEvent{UserID: 2},
		UsersJoinedChatEvent{ChatID: 1, UserIDs: []int64{2, 3}},
		UserLeftChatEvent{ChatID: 1, UserID: 2},
	}

	for _, ev := range events {
		payload, err := EncodeEvent(ev)
		require.NoError(t, err, "encode %s", ev.Kind())

		decoded, err := DecodeEvent(payload)
		require.NoError(t, err, "decode %s", ev.Kind())
		assert.Equal(t, ev, decoded)
	}
}

func TestDecodeEventRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":            "pure garbage",
		"unknown kind":        `{"type":"chat_exploded","chatid":1}`,
		"missing type":        `{"chatid":1,"userid":2}`,
		"message without ids": `{"type":"new_message","text":"hi"}`,
		"join without users":  `{"type":"users_joined_chat","chatid":1,"userids":[]}`,
		"left without chat":   `{"type":"user_left_chat","userid":2}`,
		"connected zero user": `{"type":"user_connected","userid":0}`,
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeEvent(payload)
			assert.Error(t, err)
		})
	}
}
