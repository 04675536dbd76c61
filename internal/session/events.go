package session

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
	"github.com/Gopher0727/ChatSync/internal/sequencer"
)

// HandlePush applies one server event. Inactive channels are updated in the
// cache only. Direct-message rooms are mapped back to their canonical dm: key.
func (s *Session) HandlePush(ctx context.Context, ev push.Event) {
	if created, ok := ev.(push.MessageCreated); ok && s.echo.Seen(created.Message.ID) {
		s.logger.Debug("dropping local echo", zap.String("message_id", created.Message.ID))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// 推送按后端房间寻址，私信房间要映射回本地的 dm: 键
	ch := s.channelForRoomLocked(ev.Channel())

	switch e := ev.(type) {
	case push.MessageCreated:
		m := s.norm.Normalize(e.Message)
		m.ChannelID = ch
		s.mutateLocked(ctx, ch, insertCreated(m))
		s.stopTypingLocked(ch, m.AuthorID)

	case push.MessageUpdated:
		m := s.norm.Normalize(e.Message)
		m.ChannelID = ch
		s.mutateLocked(ctx, ch, mergeExisting(m))

	case push.MessageDeleted:
		s.mutateLocked(ctx, ch, removeMessage(e.MessageID, nil))

	case push.ReactionChanged:
		s.mutateLocked(ctx, ch, setReaction(e.MessageID, e.Emoji, e.UserID, e.Added))

	case push.ThreadMeta:
		s.mutateLocked(ctx, ch, func(list []model.Message) ([]model.Message, bool) {
			return sequencer.SetThreadCount(list, e.ParentID, e.Count)
		})

	case push.PinChanged:
		if e.Pinned {
			s.pins[ch] = addID(s.pins[ch], e.MessageID)
		} else {
			s.pins[ch] = removeID(s.pins[ch], e.MessageID)
		}
		s.savePinsLocked(ctx)

	case push.SaveChanged:
		if e.Saved {
			s.saved = addID(s.saved, e.MessageID)
		} else {
			s.saved = removeID(s.saved, e.MessageID)
		}
		s.saveSavedLocked(ctx)

	case push.TypingStarted:
		s.noteTypingLocked(ch, e.UserID, e.UserName)

	default:
		s.logger.Debug("ignoring push event", zap.String("type", ev.Type()))
	}
}

// HandleDelta applies one delta from another tab. Message payloads go through
// the same idempotent merge as server events.
func (s *Session) HandleDelta(ctx context.Context, d broadcast.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	switch e := d.(type) {
	case broadcast.MessageCreated:
		m := e.Message.Clone()
		m.ChannelID = e.ChannelID
		s.mutateLocked(ctx, e.ChannelID, insertCreated(m))
		s.stopTypingLocked(e.ChannelID, m.AuthorID)
		// 另一个标签页发送的消息同样是我的消息
		if m.AuthorID == s.me.ID && m.TS > s.cursors[e.ChannelID] {
			s.setCursorLocked(ctx, e.ChannelID, m.TS)
		}

	case broadcast.MessageUpdated:
		m := e.Message.Clone()
		m.ChannelID = e.ChannelID
		s.mutateLocked(ctx, e.ChannelID, mergeExisting(m))

	case broadcast.MessageDeleted:
		s.mutateLocked(ctx, e.ChannelID, removeMessage(e.MessageID, nil))

	case broadcast.MessageRestored:
		m := e.Message.Clone()
		m.ChannelID = e.ChannelID
		s.mutateLocked(ctx, e.ChannelID, func(list []model.Message) ([]model.Message, bool) {
			out, _ := sequencer.InsertOrMerge(list, m)
			return out, true
		})

	case broadcast.ReactionToggled:
		s.mutateLocked(ctx, e.ChannelID, setReaction(e.MessageID, e.Emoji, e.UserID, e.Added))

	case broadcast.Typing:
		s.noteTypingLocked(e.ChannelID, e.UserID, e.UserName)

	case broadcast.Seen:
		if e.UserID == s.me.ID {
			// 其他标签页的游标是权威值，可能是"从此处标为未读"的回退
			s.setCursorLocked(ctx, e.ChannelID, e.TS)
			return
		}
		s.mutateLocked(ctx, e.ChannelID, markSeen(e.UserID, e.TS))

	case broadcast.PinsChanged:
		s.pins[e.ChannelID] = normalizeIDs(e.MessageIDs)
		s.savePinsLocked(ctx)

	case broadcast.SavedChanged:
		if e.UserID != s.me.ID {
			return
		}
		s.saved = normalizeIDs(e.MessageIDs)
		s.saveSavedLocked(ctx)

	case broadcast.HuddleChanged:
		state := e.State
		state.Participants = slices.Clone(state.Participants)
		s.huddles[e.ChannelID] = state

	case broadcast.ChannelCreated:
		s.upsertChannelLocked(cloneChannel(e.Channel))
		s.saveChannelsLocked(ctx)

	case broadcast.ChannelInvited:
		if i := s.channelIndexLocked(e.ChannelID); i >= 0 {
			s.channels[i].Members = addMembers(s.channels[i].Members, e.UserIDs)
			s.saveChannelsLocked(ctx)
		}

	case broadcast.ChannelTopicChanged:
		if i := s.channelIndexLocked(e.ChannelID); i >= 0 {
			s.channels[i].Topic = e.Topic
			s.saveChannelsLocked(ctx)
		}

	case broadcast.ChannelMutedChanged:
		if i := s.channelIndexLocked(e.ChannelID); i >= 0 {
			s.channels[i].Muted = e.Muted
			s.saveChannelsLocked(ctx)
		}

	default:
		s.logger.Debug("ignoring broadcast delta", zap.String("type", d.Type()))
	}
}

// setReaction forces membership instead of toggling so replays are harmless.
func setReaction(messageID, emoji, userID string, added bool) func([]model.Message) ([]model.Message, bool) {
	return func(list []model.Message) ([]model.Message, bool) {
		return sequencer.Update(list, messageID, func(m *model.Message) {
			if added {
				m.Reactions = m.Reactions.Add(emoji, userID)
			} else {
				m.Reactions = m.Reactions.Remove(emoji, userID)
			}
		})
	}
}

// markSeen adds userID to seenBy of every message at or before ts.
func markSeen(userID string, ts int64) func([]model.Message) ([]model.Message, bool) {
	return func(list []model.Message) ([]model.Message, bool) {
		out := slices.Clone(list)
		changed := false
		for i := range out {
			if out[i].TS > ts || slices.Contains(out[i].SeenBy, userID) {
				continue
			}
			m := out[i].Clone()
			m.MarkSeenBy(userID)
			out[i] = m
			changed = true
		}
		return out, changed
	}
}
