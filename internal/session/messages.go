package session

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
	"github.com/Gopher0727/ChatSync/internal/sequencer"
)

// Messages returns a copy of the active channel's list.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.current)
}

// ChannelMessages returns the list of any channel, falling back to the cache
// for inactive ones.
func (s *Session) ChannelMessages(ctx context.Context, channelID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(s.listLocked(ctx, channelID))
}

// Thread returns the replies of rootID in the active channel.
func (s *Session) Thread(rootID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return model.CloneMessages(sequencer.Thread(s.current, rootID))
}

// Send posts text to channelID and merges the acknowledged message. Nothing
// is rendered before the server answers; a failed send leaves state untouched.
func (s *Session) Send(ctx context.Context, channelID, text string, opts model.SendOptions) (model.Message, error) {
	if channelID == "" {
		return model.Message{}, fmt.Errorf("%w: channel id is empty", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" && len(opts.FileIDs) == 0 {
		return model.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}

	var (
		wire model.WireMessage
		err  error
	)
	if model.IsDMKey(channelID) {
		var room string
		room, err = s.resolveRoom(ctx, channelID)
		if err == nil {
			wire, err = s.backend.SendDMMessage(ctx, room, text, opts)
		}
	} else {
		wire, err = s.backend.SendChannelMessage(ctx, channelID, text, opts)
	}
	if err != nil {
		s.logger.Warn("send failed", zap.String("channel_id", channelID), zap.Error(err))
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if wire.ParentID == "" {
		wire.ParentID = opts.ThreadParentID
	}
	return s.acceptSent(ctx, channelID, wire), nil
}

// SendThreadReply posts text as a reply to parentID in channelID.
func (s *Session) SendThreadReply(ctx context.Context, channelID, parentID, text string) (model.Message, error) {
	if channelID == "" || parentID == "" {
		return model.Message{}, fmt.Errorf("%w: channel and parent id are required", ErrInvalidArgument)
	}
	if strings.TrimSpace(text) == "" {
		return model.Message{}, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	wire, err := s.backend.SendThreadMessage(ctx, parentID, text)
	if err != nil {
		s.logger.Warn("thread reply failed", zap.String("parent_id", parentID), zap.Error(err))
		return model.Message{}, fmt.Errorf("send thread reply: %w", err)
	}
	if wire.ParentID == "" {
		wire.ParentID = parentID
	}
	return s.acceptSent(ctx, channelID, wire), nil
}

// acceptSent merges a message this client just sent and remembers its id so
// the server echo is not applied twice.
func (s *Session) acceptSent(ctx context.Context, channelID string, wire model.WireMessage) model.Message {
	m := s.norm.Normalize(wire)
	m.ChannelID = channelID
	if m.AuthorID == "" {
		m.AuthorID = s.me.ID
	}
	s.echo.Track(m.ID)

	s.mu.Lock()
	s.mutateLocked(ctx, channelID, insertCreated(m))
	// 自己发送的消息不计入未读
	if m.TS > s.cursors[channelID] {
		s.cursors[channelID] = m.TS
		s.saveCursorsLocked(ctx)
		s.recomputeLocked(channelID, s.listLocked(ctx, channelID))
	}
	s.mu.Unlock()

	s.publish(broadcast.MessageCreated{ChannelID: channelID, Message: m.Clone()})
	return m.Clone()
}

// insertCreated merges a newly created message. A reply that was not present
// before bumps its root's thread count.
func insertCreated(m model.Message) func([]model.Message) ([]model.Message, bool) {
	return func(list []model.Message) ([]model.Message, bool) {
		out, inserted := sequencer.InsertOrMerge(list, m)
		if inserted && m.ParentID != "" {
			out, _ = sequencer.ApplyThreadCountChange(out, sequencer.ThreadCountChange{ParentID: m.ParentID, Delta: 1})
		}
		return out, true
	}
}

// mergeExisting replaces a known message, keeping its original ts. Unknown
// ids are ignored: an update never inserts.
func mergeExisting(m model.Message) func([]model.Message) ([]model.Message, bool) {
	return func(list []model.Message) ([]model.Message, bool) {
		old, ok := sequencer.Find(list, m.ID)
		if !ok {
			return list, false
		}
		m.TS = old.TS
		if m.ThreadCount == nil {
			m.ThreadCount = old.ThreadCount
		}
		out, _ := sequencer.InsertOrMerge(list, m)
		return out, true
	}
}

// removeMessage deletes id and applies the parent adjustment in the same step.
func removeMessage(id string, removed **model.Message) func([]model.Message) ([]model.Message, bool) {
	return func(list []model.Message) ([]model.Message, bool) {
		out, m, change := sequencer.Remove(list, id)
		if m == nil {
			return list, false
		}
		if change != nil {
			out, _ = sequencer.ApplyThreadCountChange(out, *change)
		}
		if removed != nil {
			*removed = m
		}
		return out, true
	}
}

// ownedLocked finds a message and checks that the current user wrote it.
func (s *Session) ownedLocked(ctx context.Context, channelID, messageID string) (model.Message, error) {
	m, ok := sequencer.Find(s.listLocked(ctx, channelID), messageID)
	if !ok {
		return model.Message{}, ErrMessageNotFound
	}
	if m.AuthorID != s.me.ID {
		return model.Message{}, ErrNotMessageOwner
	}
	return m.Clone(), nil
}

// Edit changes the text of one of the current user's messages. Someone
// else's message yields (nil, ErrNotMessageOwner) without any network call.
func (s *Session) Edit(ctx context.Context, channelID, messageID, text string) (*model.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	s.mu.Lock()
	old, err := s.ownedLocked(ctx, channelID, messageID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	wire, err := s.backend.EditMessage(ctx, messageID, text)
	if err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	m := s.norm.Normalize(wire)
	m.ID = messageID
	m.ChannelID = channelID
	if m.EditedAt == nil {
		at := s.now().UnixMilli()
		m.EditedAt = &at
	}
	if m.AuthorID == "" {
		m.AuthorID = old.AuthorID
	}

	s.mu.Lock()
	s.mutateLocked(ctx, channelID, mergeExisting(m))
	edited, ok := sequencer.Find(s.listLocked(ctx, channelID), messageID)
	s.mu.Unlock()
	if !ok {
		edited = m
		edited.TS = old.TS
	}

	s.publish(broadcast.MessageUpdated{ChannelID: channelID, Message: edited.Clone()})
	out := edited.Clone()
	return &out, nil
}

// Delete removes one of the current user's messages and returns it so the
// caller can offer a restore. Someone else's message yields (nil, ErrNotMessageOwner).
func (s *Session) Delete(ctx context.Context, channelID, messageID string) (*model.Message, error) {
	s.mu.Lock()
	snapshot, err := s.ownedLocked(ctx, channelID, messageID)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.backend.DeleteMessage(ctx, messageID); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}

	var removed *model.Message
	s.mu.Lock()
	s.mutateLocked(ctx, channelID, removeMessage(messageID, &removed))
	s.mu.Unlock()
	if removed == nil {
		// 请求期间已被推送事件删除
		removed = &snapshot
	}

	s.publish(broadcast.MessageDeleted{ChannelID: channelID, MessageID: messageID})
	out := removed.Clone()
	return &out, nil
}

// Restore puts a previously deleted message back at its (ts, id) position.
// The parent's thread count is left as it is.
func (s *Session) Restore(ctx context.Context, m model.Message) error {
	if m.ID == "" || m.ChannelID == "" {
		return fmt.Errorf("%w: message id and channel id are required", ErrInvalidArgument)
	}
	m = m.Clone()

	s.mu.Lock()
	s.mutateLocked(ctx, m.ChannelID, func(list []model.Message) ([]model.Message, bool) {
		out, _ := sequencer.InsertOrMerge(list, m)
		return out, true
	})
	s.mu.Unlock()

	s.publish(broadcast.MessageRestored{ChannelID: m.ChannelID, Message: m.Clone()})
	return nil
}

// ToggleReaction flips the current user's emoji reaction and reports whether
// it is now present. The toggle is applied locally and sent without waiting.
func (s *Session) ToggleReaction(ctx context.Context, channelID, messageID, emoji string) (bool, error) {
	if emoji == "" {
		return false, fmt.Errorf("%w: emoji is empty", ErrInvalidArgument)
	}

	var added, found bool
	s.mu.Lock()
	s.mutateLocked(ctx, channelID, func(list []model.Message) ([]model.Message, bool) {
		out, ok := sequencer.Update(list, messageID, func(m *model.Message) {
			m.Reactions, added = m.Reactions.Toggle(emoji, s.me.ID)
		})
		found = ok
		return out, ok
	})
	room, routable := s.roomLocked(channelID)
	s.mu.Unlock()
	if !found {
		return false, ErrMessageNotFound
	}

	if routable {
		s.emit(push.EmitToggleReaction, func(ctx context.Context, r Realtime) error {
			return r.ToggleReaction(ctx, room, messageID, emoji)
		})
	}
	s.publish(broadcast.ReactionToggled{
		ChannelID: channelID,
		MessageID: messageID,
		Emoji:     emoji,
		UserID:    s.me.ID,
		Added:     added,
	})
	return added, nil
}
