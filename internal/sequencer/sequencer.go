// Package sequencer keeps a channel's messages in (ts, id) order and merges
// updates idempotently. Every function returns a fresh slice; inputs are not modified.
package sequencer

import (
	"cmp"
	"slices"
	"strings"

	"github.com/Gopher0727/ChatSync/internal/model"
)

// ThreadCountChange is the parent adjustment produced by removing a thread reply.
// The caller decides where to apply it.
type ThreadCountChange struct {
	ParentID string
	Delta    int
}

// Compare orders by timestamp, then by id.
func Compare(a, b model.Message) int {
	if c := cmp.Compare(a.TS, b.TS); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

// Sort returns a sorted copy of list.
func Sort(list []model.Message) []model.Message {
	out := slices.Clone(list)
	slices.SortStableFunc(out, Compare)
	return out
}

// IndexOf returns the position of id, or -1.
func IndexOf(list []model.Message, id string) int {
	return slices.IndexFunc(list, func(m model.Message) bool { return m.ID == id })
}

// Find returns the message with id.
func Find(list []model.Message, id string) (model.Message, bool) {
	if i := IndexOf(list, id); i >= 0 {
		return list[i], true
	}
	return model.Message{}, false
}

// InsertOrMerge replaces a message with the same id in place, or inserts it.
// The list is re-sorted whenever the position may have changed.
// inserted reports whether m was not present before.
func InsertOrMerge(list []model.Message, m model.Message) (out []model.Message, inserted bool) {
	out = slices.Clone(list)
	if i := IndexOf(out, m.ID); i >= 0 {
		sameTS := out[i].TS == m.TS
		out[i] = m
		if !sameTS {
			slices.SortStableFunc(out, Compare)
		}
		return out, false
	}
	out = append(out, m)
	slices.SortStableFunc(out, Compare)
	return out, true
}

// Merge applies InsertOrMerge for each message in batch.
func Merge(list []model.Message, batch []model.Message) []model.Message {
	out := slices.Clone(list)
	for _, m := range batch {
		out, _ = InsertOrMerge(out, m)
	}
	return out
}

// Remove deletes id from list. When the removed message is a thread reply the
// returned change asks the caller to decrement its parent.
func Remove(list []model.Message, id string) (out []model.Message, removed *model.Message, change *ThreadCountChange) {
	i := IndexOf(list, id)
	if i < 0 {
		return slices.Clone(list), nil, nil
	}
	m := list[i]
	out = slices.Delete(slices.Clone(list), i, i+1)
	if m.ParentID != "" {
		change = &ThreadCountChange{ParentID: m.ParentID, Delta: -1}
	}
	return out, &m, change
}

// Update applies fn to a copy of the message with id. ts is restored after fn
// since it is immutable once created.
func Update(list []model.Message, id string, fn func(*model.Message)) ([]model.Message, bool) {
	i := IndexOf(list, id)
	if i < 0 {
		return slices.Clone(list), false
	}
	out := slices.Clone(list)
	m := out[i].Clone()
	ts := m.TS
	fn(&m)
	m.TS = ts
	m.ID = out[i].ID
	out[i] = m
	return out, true
}

// ApplyThreadCountChange adjusts the parent's threadCount, flooring at zero.
// An absent count stays absent on decrement and becomes 1 on increment.
func ApplyThreadCountChange(list []model.Message, change ThreadCountChange) ([]model.Message, bool) {
	return Update(list, change.ParentID, func(m *model.Message) {
		if m.ThreadCount == nil {
			if change.Delta > 0 {
				m.ThreadCount = model.IntPtr(change.Delta)
			}
			return
		}
		m.ThreadCount = model.IntPtr(max(*m.ThreadCount+change.Delta, 0))
	})
}

// SetThreadCount overwrites the root's threadCount. It never inserts.
func SetThreadCount(list []model.Message, rootID string, count int) ([]model.Message, bool) {
	return Update(list, rootID, func(m *model.Message) {
		m.ThreadCount = model.IntPtr(max(count, 0))
	})
}

// Thread returns the replies of rootID in (ts, id) order.
func Thread(list []model.Message, rootID string) []model.Message {
	var out []model.Message
	for _, m := range list {
		if m.ParentID == rootID && rootID != "" {
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, Compare)
	return out
}

// IsSorted reports whether list respects the (ts, id) order with unique ids.
func IsSorted(list []model.Message) bool {
	seen := make(map[string]struct{}, len(list))
	for i, m := range list {
		if _, dup := seen[m.ID]; dup {
			return false
		}
		seen[m.ID] = struct{}{}
		if i > 0 && Compare(list[i-1], m) > 0 {
			return false
		}
	}
	return true
}
