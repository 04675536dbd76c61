// Package normalizer converts server wire records into the canonical model.Message shape.
package normalizer

import (
	"html"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/Gopher0727/ChatSync/internal/model"
)

const (
	// maxDecodePasses bounds repeated entity decoding for double-encoded payloads.
	maxDecodePasses = 5

	// AnonymousReactorPrefix marks placeholder reactor ids fabricated during expansion.
	AnonymousReactorPrefix = "anon:"
)

// Normalizer is a pure transform apart from its session namespace, which keeps
// fabricated reactor ids stable per (message, emoji) for the life of the session.
type Normalizer struct {
	currentUserID string
	namespace     uuid.UUID
}

// New creates a normalizer for the current user with a fresh session namespace.
func New(currentUserID string) *Normalizer {
	return &Normalizer{
		currentUserID: currentUserID,
		namespace:     uuid.New(),
	}
}

// DecodeEntities unescapes HTML entities until the text is stable or the pass limit is hit.
func DecodeEntities(s string) string {
	for range maxDecodePasses {
		decoded := html.UnescapeString(s)
		if decoded == s {
			break
		}
		s = decoded
	}
	return s
}

// IsAnonymousReactor reports whether id is a fabricated placeholder, never a real user.
func IsAnonymousReactor(id string) bool {
	return strings.HasPrefix(id, AnonymousReactorPrefix)
}

// Normalize maps a wire record to a Message. Missing optional fields stay absent.
func (n *Normalizer) Normalize(w model.WireMessage) model.Message {
	m := model.Message{
		ID:         w.ID,
		AuthorID:   w.AuthorID,
		AuthorName: w.AuthorName,
		TS:         w.TS,
		ChannelID:  w.ChannelID,
		ParentID:   w.ParentID,
	}
	if w.Text != nil {
		m.Text = model.StringPtr(DecodeEntities(*w.Text))
	}
	if w.EditedAt != nil {
		e := *w.EditedAt
		m.EditedAt = &e
	}
	if w.Reply != nil {
		m.Reply = &model.Reply{
			ID:      w.Reply.ID,
			Sender:  w.Reply.Sender,
			Deleted: w.Reply.Deleted,
		}
		if w.Reply.Content != nil {
			m.Reply.Content = model.StringPtr(DecodeEntities(*w.Reply.Content))
		}
	}
	if w.Thread != nil {
		m.ThreadCount = model.IntPtr(w.Thread.Count)
	}
	m.Reactions = n.expandReactions(w.ID, w.Reactions)
	if len(w.SeenBy) > 0 {
		m.SeenBy = append([]string(nil), w.SeenBy...)
	}
	for _, token := range w.Mentions {
		if token != "" {
			m.Mentions = append(m.Mentions, model.Mention(token))
		}
	}
	if len(w.Attachments) > 0 {
		m.Attachments = append([]model.Attachment(nil), w.Attachments...)
	}
	return m
}

// NormalizeAll normalizes a list, preserving input order.
func (n *Normalizer) NormalizeAll(ws []model.WireMessage) []model.Message {
	out := make([]model.Message, 0, len(ws))
	for _, w := range ws {
		out = append(out, n.Normalize(w))
	}
	return out
}

// expandReactions materializes compact {emoji, count, reactedByMe} entries into reactor sets.
// The current user fills the first slot when reactedByMe; the rest are placeholders.
func (n *Normalizer) expandReactions(messageID string, reactions []model.WireReaction) model.Reactions {
	if len(reactions) == 0 {
		return nil
	}
	out := make(model.Reactions, len(reactions))
	for _, r := range reactions {
		if r.Emoji == "" {
			continue
		}
		if len(r.Users) > 0 {
			var set model.Reactions = out
			for _, u := range r.Users {
				set = set.Add(r.Emoji, u)
			}
			out = set
			continue
		}

		slots := r.Count
		if r.ReactedByMe && slots < 1 {
			slots = 1
		}
		if slots <= 0 {
			continue
		}
		users := make([]string, 0, slots)
		if r.ReactedByMe && n.currentUserID != "" {
			users = append(users, n.currentUserID)
		}
		for i := 0; len(users) < slots; i++ {
			users = append(users, n.placeholder(messageID, r.Emoji, i))
		}
		out[r.Emoji] = users
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (n *Normalizer) placeholder(messageID, emoji string, slot int) string {
	name := messageID + "\x00" + emoji + "\x00" + strconv.Itoa(slot)
	return AnonymousReactorPrefix + uuid.NewSHA1(n.namespace, []byte(name)).String()
}
