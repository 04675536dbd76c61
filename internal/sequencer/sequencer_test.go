package sequencer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatSync/internal/model"
)

func msg(id string, ts int64) model.Message {
	return model.Message{ID: id, TS: ts, ChannelID: "general", Text: model.StringPtr(id)}
}

func ids(list []model.Message) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestCompare(t *testing.T) {
	assert.Negative(t, Compare(msg("b", 1), msg("a", 2)))
	assert.Negative(t, Compare(msg("a", 1), msg("b", 1)))
	assert.Zero(t, Compare(msg("a", 1), msg("a", 1)))
}

func TestInsertOrMerge(t *testing.T) {
	t.Run("inserts into empty list", func(t *testing.T) {
		out, inserted := InsertOrMerge(nil, msg("m1", 1000))
		assert.True(t, inserted)
		assert.Equal(t, []string{"m1"}, ids(out))
	})

	t.Run("inserts at sorted position with id tie-break", func(t *testing.T) {
		list := []model.Message{msg("a", 100), msg("c", 200)}
		out, _ := InsertOrMerge(list, msg("b", 200))
		assert.Equal(t, []string{"a", "b", "c"}, ids(out))
		// input untouched
		assert.Equal(t, []string{"a", "c"}, ids(list))
	})

	t.Run("replaces in place when ts unchanged", func(t *testing.T) {
		list := []model.Message{msg("a", 100), msg("b", 200)}
		edited := msg("a", 100)
		edited.Text = model.StringPtr("edited")

		out, inserted := InsertOrMerge(list, edited)
		assert.False(t, inserted)
		assert.Equal(t, []string{"a", "b"}, ids(out))
		assert.Equal(t, "edited", *out[0].Text)
	})

	t.Run("re-sorts when ts changed", func(t *testing.T) {
		list := []model.Message{msg("a", 100), msg("b", 200)}
		out, inserted := InsertOrMerge(list, msg("a", 300))
		assert.False(t, inserted)
		assert.Equal(t, []string{"b", "a"}, ids(out))
	})

	t.Run("idempotent", func(t *testing.T) {
		list := []model.Message{msg("a", 100)}
		once, _ := InsertOrMerge(list, msg("b", 50))
		twice, inserted := InsertOrMerge(once, msg("b", 50))
		assert.False(t, inserted)
		assert.Equal(t, once, twice)
	})
}

func TestRemove(t *testing.T) {
	root := msg("r1", 100)
	root.ThreadCount = model.IntPtr(2)
	reply := msg("m5", 200)
	reply.ParentID = "r1"
	list := []model.Message{root, reply, msg("m6", 300)}

	out, removed, change := Remove(list, "m5")
	require.NotNil(t, removed)
	assert.Equal(t, "m5", removed.ID)
	require.NotNil(t, change)
	assert.Equal(t, ThreadCountChange{ParentID: "r1", Delta: -1}, *change)
	assert.Equal(t, []string{"r1", "m6"}, ids(out))

	// the parent is not touched by Remove itself
	assert.Equal(t, 2, *out[0].ThreadCount)

	out, ok := ApplyThreadCountChange(out, *change)
	assert.True(t, ok)
	assert.Equal(t, 1, *out[0].ThreadCount)
}

func TestRemove_UnknownAndEmpty(t *testing.T) {
	out, removed, change := Remove(nil, "nope")
	assert.Empty(t, out)
	assert.Nil(t, removed)
	assert.Nil(t, change)

	out, removed, change = Remove([]model.Message{msg("a", 1)}, "nope")
	assert.Len(t, out, 1)
	assert.Nil(t, removed)
	assert.Nil(t, change)
}

func TestApplyThreadCountChange_Floor(t *testing.T) {
	root := msg("r1", 100)
	root.ThreadCount = model.IntPtr(0)
	out, _ := ApplyThreadCountChange([]model.Message{root}, ThreadCountChange{ParentID: "r1", Delta: -1})
	assert.Equal(t, 0, *out[0].ThreadCount)

	bare := msg("r2", 100)
	out, _ = ApplyThreadCountChange([]model.Message{bare}, ThreadCountChange{ParentID: "r2", Delta: -1})
	assert.Nil(t, out[0].ThreadCount)

	out, _ = ApplyThreadCountChange([]model.Message{bare}, ThreadCountChange{ParentID: "r2", Delta: 1})
	assert.Equal(t, 1, *out[0].ThreadCount)
}

func TestUpdate_KeepsTSImmutable(t *testing.T) {
	list := []model.Message{msg("a", 100)}
	out, ok := Update(list, "a", func(m *model.Message) {
		m.TS = 999
		m.Text = model.StringPtr("edited")
	})
	require.True(t, ok)
	assert.Equal(t, int64(100), out[0].TS)
	assert.Equal(t, "edited", *out[0].Text)
	assert.Equal(t, "a", *list[0].Text)

	_, ok = Update(list, "missing", func(*model.Message) {})
	assert.False(t, ok)
}

func TestSetThreadCount(t *testing.T) {
	list := []model.Message{msg("r1", 100)}
	out, ok := SetThreadCount(list, "r1", 4)
	assert.True(t, ok)
	assert.Equal(t, 4, *out[0].ThreadCount)

	out, ok = SetThreadCount(list, "ghost", 4)
	assert.False(t, ok)
	assert.Len(t, out, 1)
}

func TestThread(t *testing.T) {
	root := msg("r1", 100)
	a := msg("b", 300)
	a.ParentID = "r1"
	b := msg("a", 300)
	b.ParentID = "r1"
	c := msg("c", 200)
	c.ParentID = "r1"
	other := msg("x", 250)
	other.ParentID = "r2"

	got := Thread([]model.Message{root, a, b, c, other}, "r1")
	assert.Equal(t, []string{"c", "a", "b"}, ids(got))
	assert.Empty(t, Thread([]model.Message{root}, ""))
}
