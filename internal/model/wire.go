package model

// 以下为服务端下发的线上格式，经 normalizer 转换为 Message

// WireReaction 紧凑的反应表示；Users 非空时为完整形式
type WireReaction struct {
	Emoji       string   `json:"emoji"`
	Count       int      `json:"count"`
	ReactedByMe bool     `json:"reactedByMe"`
	Users       []string `json:"users,omitempty"`
}

type WireReply struct {
	ID      string  `json:"id"`
	Content *string `json:"content,omitempty"`
	Sender  string  `json:"sender,omitempty"`
	Deleted bool    `json:"deleted,omitempty"`
}

type WireThread struct {
	Count int `json:"count"`
}

type WireMessage struct {
	ID          string         `json:"id"`
	AuthorID    string         `json:"authorId"`
	AuthorName  string         `json:"authorName,omitempty"`
	Text        *string        `json:"text,omitempty"`
	TS          int64          `json:"ts"`
	EditedAt    *int64         `json:"editedAt,omitempty"`
	ChannelID   string         `json:"channelId,omitempty"`
	ParentID    string         `json:"parentId,omitempty"`
	Reply       *WireReply     `json:"reply,omitempty"`
	Thread      *WireThread    `json:"thread,omitempty"`
	Reactions   []WireReaction `json:"reactions,omitempty"`
	SeenBy      []string       `json:"seenBy,omitempty"`
	Mentions    []string       `json:"mentions,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
}
