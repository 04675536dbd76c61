package model

import (
	"slices"
	"strings"
)

// DMPrefix 私聊频道键前缀
const DMPrefix = "dm:"

// Channel 消息作用域：团队频道或私聊
type Channel struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ProjectID string   `json:"projectId,omitempty"`
	IsDM      bool     `json:"isDm,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Muted     bool     `json:"muted,omitempty"`
	Archived  bool     `json:"archived,omitempty"`
	Members   []string `json:"members,omitempty"`
}

// DMKey 由参与者生成规范的私聊键：dm:<id1>+<id2>+...（排序去重）
func DMKey(participantIDs ...string) string {
	ids := make([]string, 0, len(participantIDs))
	for _, id := range participantIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return DMPrefix + strings.Join(ids, "+")
}

// IsDMKey reports whether channelID is a synthesized DM key.
func IsDMKey(channelID string) bool {
	return strings.HasPrefix(channelID, DMPrefix)
}

// DMParticipants splits a DM key back into its participant ids.
func DMParticipants(channelID string) []string {
	rest, ok := strings.CutPrefix(channelID, DMPrefix)
	if !ok || rest == "" {
		return nil
	}
	return strings.Split(rest, "+")
}

// ChannelActivity 频道的派生摘要，只是缓存，永远可以从消息列表与读游标重新计算
type ChannelActivity struct {
	LastMessageTS int64  `json:"lastMessageTs"`
	LastAuthor    string `json:"lastAuthor,omitempty"`
	LastPreview   string `json:"lastPreview"`
	UnreadCount   int    `json:"unreadCount"`
	MentionCount  int    `json:"mentionCount"`
}

// HuddleState 语音房间状态
type HuddleState struct {
	Active       bool     `json:"active"`
	Participants []string `json:"participants,omitempty"`
	StartedAt    int64    `json:"startedAt,omitempty"`
}

// SendOptions 发送消息的可选参数
type SendOptions struct {
	ReplyToMessageID string   `json:"replyToMessageId,omitempty"`
	ThreadParentID   string   `json:"threadParentId,omitempty"`
	FileIDs          []string `json:"fileIds,omitempty"`
}
