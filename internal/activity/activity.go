// Package activity derives per-channel unread, mention and preview summaries.
//
// Summaries are always recomputed from the full message list and read cursor,
// never patched incrementally, so a missed event cannot leave counters drifting.
package activity

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Gopher0727/ChatSync/internal/model"
)

// PreviewLimit is the maximum preview length in characters.
const PreviewLimit = 80

// Compute derives the ChannelActivity for messages under readCursor.
func Compute(messages []model.Message, readCursor int64, me model.User) model.ChannelActivity {
	var a model.ChannelActivity
	for _, m := range messages {
		if m.TS <= readCursor {
			continue
		}
		a.UnreadCount++
		if Mentions(m, me) {
			a.MentionCount++
		}
	}
	if len(messages) > 0 {
		last := messages[len(messages)-1]
		for _, m := range messages {
			if m.TS > last.TS || (m.TS == last.TS && m.ID > last.ID) {
				last = m
			}
		}
		a.LastMessageTS = last.TS
		a.LastAuthor = last.AuthorName
		if a.LastAuthor == "" {
			a.LastAuthor = last.AuthorID
		}
		a.LastPreview = Preview(last)
	}
	return a
}

// Mentions reports whether m mentions me, first through structured mention
// tokens, then by scanning @tokens in the raw text.
func Mentions(m model.Message, me model.User) bool {
	names := candidateNames(me)
	for _, token := range m.Mentions {
		if id, ok := token.UserID(); ok && id != "" && id == me.ID {
			return true
		}
		if name, ok := token.Name(); ok {
			name = strings.TrimSpace(name)
			for _, candidate := range names {
				if strings.EqualFold(name, candidate) {
					return true
				}
			}
		}
	}
	if m.Text == nil {
		return false
	}
	return textMentions(*m.Text, names)
}

// Preview renders the sidebar preview of a message.
func Preview(m model.Message) string {
	if text := strings.Join(strings.Fields(m.Body()), " "); text != "" {
		return truncate(text, PreviewLimit)
	}
	switch n := len(m.Attachments); n {
	case 0:
		return ""
	case 1:
		return "1 attachment"
	default:
		return strconv.Itoa(n) + " attachments"
	}
}

func candidateNames(me model.User) []string {
	var out []string
	for _, n := range []string{me.DisplayName, me.Name} {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// textMentions matches "@<name>" case-insensitively, requiring a word boundary after the name.
// Names containing spaces are matched as a whole.
func textMentions(text string, names []string) bool {
	if len(names) == 0 || !strings.Contains(text, "@") {
		return false
	}
	lower := strings.ToLower(text)
	for _, name := range names {
		needle := "@" + strings.ToLower(name)
		rest := lower
		for {
			i := strings.Index(rest, needle)
			if i < 0 {
				break
			}
			after := rest[i+len(needle):]
			if boundary(after) {
				return true
			}
			rest = rest[i+1:]
		}
	}
	return false
}

func boundary(after string) bool {
	if after == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(after)
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-')
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
