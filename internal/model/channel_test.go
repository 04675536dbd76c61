package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDMKey(t *testing.T) {
	assert.Equal(t, "dm:u1+u2", DMKey("u2", "u1"))
	assert.Equal(t, DMKey("u1", "u2", "u3"), DMKey("u3", "u1", "u2"))
	assert.Equal(t, "dm:u1+u2", DMKey("u1", " u2 ", "u1", ""))

	assert.True(t, IsDMKey(DMKey("a", "b")))
	assert.False(t, IsDMKey("general"))

	assert.Equal(t, []string{"a", "b"}, DMParticipants("dm:a+b"))
	assert.Nil(t, DMParticipants("general"))
}

func TestMessage_Clone(t *testing.T) {
	m := Message{
		ID:          "m1",
		Text:        StringPtr("hi"),
		ThreadCount: IntPtr(2),
		Reactions:   Reactions{"👍": {"u1"}},
		SeenBy:      []string{"u2"},
		Reply:       &Reply{ID: "m0", Content: StringPtr("quoted")},
	}
	c := m.Clone()
	*c.Text = "changed"
	*c.ThreadCount = 5
	c.Reactions["👍"][0] = "u9"
	c.SeenBy[0] = "u9"
	*c.Reply.Content = "changed"

	assert.Equal(t, "hi", *m.Text)
	assert.Equal(t, 2, *m.ThreadCount)
	assert.Equal(t, "u1", m.Reactions["👍"][0])
	assert.Equal(t, "u2", m.SeenBy[0])
	assert.Equal(t, "quoted", *m.Reply.Content)
}

func TestMention(t *testing.T) {
	id, ok := MentionID("u1").UserID()
	assert.True(t, ok)
	assert.Equal(t, "u1", id)

	_, ok = MentionID("u1").Name()
	assert.False(t, ok)

	name, ok := MentionName("Alice").Name()
	assert.True(t, ok)
	assert.Equal(t, "Alice", name)
}

func TestMessage_MarkSeenBy(t *testing.T) {
	var m Message
	assert.True(t, m.MarkSeenBy("u1"))
	assert.False(t, m.MarkSeenBy("u1"))
	assert.False(t, m.MarkSeenBy(""))
	assert.Equal(t, []string{"u1"}, m.SeenBy)
}
