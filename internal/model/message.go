package model

import (
	"slices"
	"strings"
)

// Reply 引用消息的冗余快照
type Reply struct {
	ID      string  `json:"id"`
	Content *string `json:"content,omitempty"`
	Sender  string  `json:"sender,omitempty"`
	Deleted bool    `json:"deleted,omitempty"`
}

// Attachment 附件元信息，上传本身不在同步层处理
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message 内存中的规范消息结构
//
// TS 创建后不可变，编辑只更新 EditedAt。
// ParentID 为空表示顶层消息。ThreadCount 为 nil 表示"没有线程信息"，与 0 含义不同。
type Message struct {
	ID          string       `json:"id"`
	AuthorID    string       `json:"authorId"`
	AuthorName  string       `json:"authorName,omitempty"`
	Text        *string      `json:"text,omitempty"`
	TS          int64        `json:"ts"`
	EditedAt    *int64       `json:"editedAt,omitempty"`
	ChannelID   string       `json:"channelId"`
	ParentID    string       `json:"parentId,omitempty"`
	Reply       *Reply       `json:"reply,omitempty"`
	ThreadCount *int         `json:"threadCount,omitempty"`
	Reactions   Reactions    `json:"reactions,omitempty"`
	SeenBy      []string     `json:"seenBy,omitempty"`
	Mentions    []Mention    `json:"mentions,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// IsReply reports whether the message belongs to a thread.
func (m Message) IsReply() bool {
	return m.ParentID != ""
}

// Body returns the text or "" when the message has none.
func (m Message) Body() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// Clone returns a deep copy so callers can mutate without aliasing the store.
func (m Message) Clone() Message {
	out := m
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	if m.EditedAt != nil {
		e := *m.EditedAt
		out.EditedAt = &e
	}
	if m.Reply != nil {
		r := *m.Reply
		if m.Reply.Content != nil {
			c := *m.Reply.Content
			r.Content = &c
		}
		out.Reply = &r
	}
	if m.ThreadCount != nil {
		n := *m.ThreadCount
		out.ThreadCount = &n
	}
	out.Reactions = m.Reactions.Clone()
	out.SeenBy = slices.Clone(m.SeenBy)
	out.Mentions = slices.Clone(m.Mentions)
	out.Attachments = slices.Clone(m.Attachments)
	return out
}

// MarkSeenBy adds userID to SeenBy, returns false if it was already present.
func (m *Message) MarkSeenBy(userID string) bool {
	if userID == "" || slices.Contains(m.SeenBy, userID) {
		return false
	}
	m.SeenBy = append(m.SeenBy, userID)
	return true
}

// CloneMessages deep-copies a message list.
func CloneMessages(list []Message) []Message {
	if list == nil {
		return nil
	}
	out := make([]Message, len(list))
	for i := range list {
		out[i] = list[i].Clone()
	}
	return out
}

// StringPtr is a small helper for optional text fields.
func StringPtr(s string) *string {
	return &s
}

// IntPtr is a small helper for optional counters.
func IntPtr(n int) *int {
	return &n
}

// Mention 结构化提及，形如 id:<userId> 或 name:<displayName>
type Mention string

const (
	mentionIDPrefix   = "id:"
	mentionNamePrefix = "name:"
)

func MentionID(userID string) Mention {
	return Mention(mentionIDPrefix + userID)
}

func MentionName(name string) Mention {
	return Mention(mentionNamePrefix + name)
}

// UserID returns the referenced user id for id: mentions.
func (m Mention) UserID() (string, bool) {
	return strings.CutPrefix(string(m), mentionIDPrefix)
}

// Name returns the referenced display name for name: mentions.
func (m Mention) Name() (string, bool) {
	return strings.CutPrefix(string(m), mentionNamePrefix)
}
