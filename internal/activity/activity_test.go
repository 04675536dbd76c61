package activity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Gopher0727/ChatSync/internal/model"
)

var alice = model.User{ID: "u1", Name: "alice", DisplayName: "Alice"}

func textMsg(id string, ts int64, text string) model.Message {
	return model.Message{ID: id, TS: ts, AuthorID: "u2", AuthorName: "Bob", Text: model.StringPtr(text)}
}

func TestCompute_Unread(t *testing.T) {
	list := []model.Message{textMsg("a", 100, "x"), textMsg("b", 200, "y"), textMsg("c", 300, "z")}

	assert.Equal(t, 1, Compute(list, 250, alice).UnreadCount)
	// rewind to 299 ("mark unread from" the 300 message)
	assert.Equal(t, 1, Compute(list, 299, alice).UnreadCount)
	assert.Equal(t, 3, Compute(list, 0, alice).UnreadCount)
	assert.Equal(t, 0, Compute(list, 300, alice).UnreadCount)
	assert.Equal(t, 0, Compute(nil, 0, alice).UnreadCount)
}

func TestCompute_MentionCount(t *testing.T) {
	list := []model.Message{textMsg("m1", 100, "hello @Alice")}

	a := Compute(list, 0, alice)
	assert.Equal(t, 1, a.UnreadCount)
	assert.Equal(t, 1, a.MentionCount)

	a = Compute(list, 100, alice)
	assert.Equal(t, 0, a.MentionCount)
}

func TestCompute_LastMessage(t *testing.T) {
	list := []model.Message{textMsg("a", 100, "first"), textMsg("b", 200, "  second\n\tline  ")}
	a := Compute(list, 0, alice)
	assert.Equal(t, int64(200), a.LastMessageTS)
	assert.Equal(t, "Bob", a.LastAuthor)
	assert.Equal(t, "second line", a.LastPreview)

	anon := model.Message{ID: "c", TS: 300, AuthorID: "u9"}
	a = Compute(append(list, anon), 0, alice)
	assert.Equal(t, "u9", a.LastAuthor)
	assert.Equal(t, "", a.LastPreview)
}

func TestMentions(t *testing.T) {
	cases := []struct {
		name string
		msg  model.Message
		want bool
	}{
		{"structured id", model.Message{Mentions: []model.Mention{model.MentionID("u1")}}, true},
		{"structured other id", model.Message{Mentions: []model.Mention{model.MentionID("u2")}}, false},
		{"structured name case-insensitive", model.Message{Mentions: []model.Mention{model.MentionName(" ALICE ")}}, true},
		{"text display name", textMsg("m", 1, "hey @alice, look"), true},
		{"text user name", textMsg("m", 1, "ping @ALICE"), true},
		{"text prefix of longer name", textMsg("m", 1, "hey @alicent"), false},
		{"no at sign", textMsg("m", 1, "alice is here"), false},
		{"trailing punctuation", textMsg("m", 1, "see @Alice."), true},
		{"no text", model.Message{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Mentions(tc.msg, alice))
		})
	}
}

func TestMentions_DisplayNameWithSpaces(t *testing.T) {
	me := model.User{ID: "u1", Name: "asmith", DisplayName: "Alice Smith"}
	assert.True(t, Mentions(textMsg("m", 1, "thanks @alice smith!"), me))
	assert.True(t, Mentions(textMsg("m", 1, "@asmith"), me))
	assert.False(t, Mentions(textMsg("m", 1, "@alice"), me))
}

func TestMentions_EmptyIdentity(t *testing.T) {
	assert.False(t, Mentions(textMsg("m", 1, "@ hi"), model.User{}))
	assert.False(t, Mentions(model.Message{Mentions: []model.Mention{model.MentionID("")}}, model.User{}))
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 100)
	assert.Equal(t, strings.Repeat("é", 80), Preview(textMsg("m", 1, long)))

	assert.Equal(t, "1 attachment", Preview(model.Message{Attachments: []model.Attachment{{ID: "f1"}}}))
	assert.Equal(t, "2 attachments", Preview(model.Message{Attachments: []model.Attachment{{ID: "f1"}, {ID: "f2"}}}))
	assert.Equal(t, "", Preview(model.Message{}))
	assert.Equal(t, "1 attachment", Preview(model.Message{Text: model.StringPtr("   "), Attachments: []model.Attachment{{ID: "f1"}}}))
}
