package utils

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxChannelNameLen = 80
	MaxEmojiLen       = 64
)

var channelNamePattern = regexp.MustCompile(`^[\p{Ll}\p{Lo}0-9_-]+$`)

// ValidateChannelName 验证频道名（1-80 个字符，小写字母、数字、下划线和连字符）
func ValidateChannelName(name string) bool {
	n := utf8.RuneCountInString(name)
	if n == 0 || n > MaxChannelNameLen {
		return false
	}
	return channelNamePattern.MatchString(name)
}

// NormalizeChannelName 把输入整理成频道名：去掉前导 #，转小写，空白替换为连字符
func NormalizeChannelName(name string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "#")
	return strings.ToLower(strings.Join(strings.Fields(name), "-"))
}

// ValidateEmoji 接受 :shortcode: 或不含空白的原始表情
func ValidateEmoji(emoji string) bool {
	if emoji == "" || utf8.RuneCountInString(emoji) > MaxEmojiLen {
		return false
	}
	return strings.IndexFunc(emoji, unicode.IsSpace) < 0
}

// NormalizeUserIDs 去除空白和重复的用户 ID，保持原有顺序
func NormalizeUserIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
