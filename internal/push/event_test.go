package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "created uses room id",
			frame: `{"type":"created","roomId":"channel:general","payload":{"id":"m1","authorId":"u1","ts":1000,"text":"hi"}}`,
		},
		{
			name:  "deleted",
			frame: `{"type":"deleted","roomId":"channel:general","payload":{"messageId":"m1"}}`,
			want:  MessageDeleted{ChannelID: "general", MessageID: "m1"},
		},
		{
			name:  "reaction added",
			frame: `{"type":"reaction","roomId":"channel:general","payload":{"messageId":"m1","emoji":"👍","userId":"u2","action":"added"}}`,
			want:  ReactionChanged{ChannelID: "general", MessageID: "m1", Emoji: "👍", UserID: "u2", Added: true},
		},
		{
			name:  "reaction removed",
			frame: `{"type":"reaction","roomId":"channel:general","payload":{"messageId":"m1","emoji":"👍","userId":"u2","action":"removed"}}`,
			want:  ReactionChanged{ChannelID: "general", MessageID: "m1", Emoji: "👍", UserID: "u2"},
		},
		{
			name:  "thread meta",
			frame: `{"type":"thread_meta","roomId":"channel:general","payload":{"parentId":"m1","count":3}}`,
			want:  ThreadMeta{ChannelID: "general", ParentID: "m1", Count: 3},
		},
		{
			name:  "pinned falls back to payload channel",
			frame: `{"type":"message.pinned","payload":{"messageId":"m1","channelId":"general"}}`,
			want:  PinChanged{ChannelID: "general", MessageID: "m1", Pinned: true},
		},
		{
			name:  "unpinned",
			frame: `{"type":"message.unpinned","roomId":"channel:general","payload":{"messageId":"m1"}}`,
			want:  PinChanged{ChannelID: "general", MessageID: "m1"},
		},
		{
			name:  "saved is user scoped",
			frame: `{"type":"message.saved","payload":{"messageId":"m1"}}`,
			want:  SaveChanged{MessageID: "m1", Saved: true},
		},
		{
			name:  "typing",
			frame: `{"type":"typing","roomId":"channel:general","payload":{"userId":"u2","userName":"Bob"}}`,
			want:  TypingStarted{ChannelID: "general", UserID: "u2", UserName: "Bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Parse([]byte(tt.frame))
			require.NoError(t, err)
			if tt.want != nil {
				assert.Equal(t, tt.want, ev)
			}
			assert.NotEmpty(t, ev.Type())
		})
	}
}

func TestParse_Messages(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"created","roomId":"channel:general","payload":{"id":"m1","authorId":"u1","ts":1000,"text":"hi"}}`))
	require.NoError(t, err)
	created, ok := ev.(MessageCreated)
	require.True(t, ok)
	assert.Equal(t, "general", created.Channel())
	assert.Equal(t, "general", created.Message.ChannelID)
	assert.Equal(t, "m1", created.Message.ID)
	assert.False(t, created.Thread)
	assert.Equal(t, TypeCreated, created.Type())

	ev, err = Parse([]byte(`{"type":"thread_created","roomId":"channel:general","payload":{"id":"r1","ts":1100,"parentId":"m1"}}`))
	require.NoError(t, err)
	created, ok = ev.(MessageCreated)
	require.True(t, ok)
	assert.True(t, created.Thread)
	assert.Equal(t, TypeThreadCreated, created.Type())

	ev, err = Parse([]byte(`{"type":"updated","payload":{"id":"m1","ts":1000,"channelId":"random","text":"edited"}}`))
	require.NoError(t, err)
	updated, ok := ev.(MessageUpdated)
	require.True(t, ok)
	assert.Equal(t, "random", updated.ChannelID)
}

func TestParse_Malformed(t *testing.T) {
	frames := map[string]string{
		"not json":               `{"type":`,
		"no payload":             `{"type":"created","roomId":"channel:general"}`,
		"null payload":           `{"type":"created","roomId":"channel:general","payload":null}`,
		"unroutable room":        `{"type":"created","roomId":"guild:7","payload":{"id":"m1","ts":1}}`,
		"empty room id":          `{"type":"created","roomId":"channel:","payload":{"id":"m1","ts":1}}`,
		"no channel anywhere":    `{"type":"created","payload":{"id":"m1","ts":1}}`,
		"no message id":          `{"type":"created","roomId":"channel:general","payload":{"ts":1}}`,
		"thread without parent":  `{"type":"thread_created","roomId":"channel:general","payload":{"id":"r1","ts":1}}`,
		"bad reaction action":    `{"type":"reaction","roomId":"channel:general","payload":{"messageId":"m1","emoji":"x","userId":"u","action":"maybe"}}`,
		"reaction without emoji": `{"type":"reaction","roomId":"channel:general","payload":{"messageId":"m1","userId":"u","action":"added"}}`,
		"thread meta no count":   `{"type":"thread_meta","roomId":"channel:general","payload":{"parentId":"m1"}}`,
		"negative thread count":  `{"type":"thread_meta","roomId":"channel:general","payload":{"parentId":"m1","count":-1}}`,
		"saved without id":       `{"type":"message.saved","payload":{}}`,
		"unknown type":           `{"type":"presence","roomId":"channel:general","payload":{}}`,
		"payload wrong shape":    `{"type":"deleted","roomId":"channel:general","payload":"m1"}`,
	}
	for name, frame := range frames {
		t.Run(name, func(t *testing.T) {
			ev, err := Parse([]byte(frame))
			assert.ErrorIs(t, err, ErrMalformedEvent)
			assert.Nil(t, ev)
		})
	}
}
