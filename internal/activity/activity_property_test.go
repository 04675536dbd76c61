package activity

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Gopher0727/ChatSync/internal/model"
)

func buildList(stamps []int64) []model.Message {
	list := make([]model.Message, 0, len(stamps))
	for i, ts := range stamps {
		list = append(list, textMsg(fmt.Sprintf("m%d", i), ts, "hello @Alice"))
	}
	return list
}

func TestProperty_UnreadMatchesCursor(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("unread count equals messages newer than the cursor", prop.ForAll(
		func(stamps []int64, cursor int64) bool {
			list := buildList(stamps)
			want := 0
			for _, ts := range stamps {
				if ts > cursor {
					want++
				}
			}
			a := Compute(list, cursor, alice)
			return a.UnreadCount == want && a.UnreadCount >= 0
		},
		gen.SliceOf(gen.Int64Range(0, 1000)),
		gen.Int64Range(-10, 1010),
	))

	properties.Property("mentions never exceed unread and shrink as the cursor advances", prop.ForAll(
		func(stamps []int64, c1 int64, c2 int64) bool {
			if c1 > c2 {
				c1, c2 = c2, c1
			}
			list := buildList(stamps)
			a1 := Compute(list, c1, alice)
			a2 := Compute(list, c2, alice)
			return a1.MentionCount <= a1.UnreadCount &&
				a2.MentionCount <= a2.UnreadCount &&
				a2.UnreadCount <= a1.UnreadCount &&
				a2.MentionCount <= a1.MentionCount
		},
		gen.SliceOf(gen.Int64Range(0, 1000)),
		gen.Int64Range(0, 1000),
		gen.Int64Range(0, 1000),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
