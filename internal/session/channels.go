package session

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
	"github.com/Gopher0727/ChatSync/internal/sequencer"
)

// Channels returns the channel registry.
func (s *Session) Channels() []model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Channel, len(s.channels))
	for i, ch := range s.channels {
		out[i] = cloneChannel(ch)
	}
	return out
}

// Channel looks up one channel of the registry.
func (s *Session) Channel(channelID string) (model.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.channelIndexLocked(channelID)
	if i < 0 {
		return model.Channel{}, false
	}
	return cloneChannel(s.channels[i]), true
}

// Active returns the id of the channel currently shown, or "".
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LoadChannels refreshes the registry from the server. On failure the cached
// registry is returned together with the error.
func (s *Session) LoadChannels(ctx context.Context) ([]model.Channel, error) {
	channels, err := s.backend.ListChannels(ctx, s.projectID)
	if err != nil {
		s.logger.Warn("failed to list channels", zap.Error(err))
		return s.Channels(), fmt.Errorf("list channels: %w", err)
	}

	s.mu.Lock()
	// 保留本地的私聊频道，服务端列表不包含它们
	dms := slices.DeleteFunc(slices.Clone(s.channels), func(ch model.Channel) bool { return !ch.IsDM })
	s.channels = channels
	for _, dm := range dms {
		if s.channelIndexLocked(dm.ID) < 0 {
			s.channels = append(s.channels, dm)
		}
	}
	s.saveChannelsLocked(ctx)
	s.mu.Unlock()

	return s.Channels(), nil
}

// CreateChannel creates a team channel and announces it to other tabs.
func (s *Session) CreateChannel(ctx context.Context, name string, memberIDs []string) (model.Channel, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Channel{}, fmt.Errorf("%w: channel name is empty", ErrInvalidArgument)
	}
	ch, err := s.backend.CreateChannel(ctx, s.projectID, name, memberIDs)
	if err != nil {
		return model.Channel{}, fmt.Errorf("create channel: %w", err)
	}
	if ch.ProjectID == "" {
		ch.ProjectID = s.projectID
	}

	s.mu.Lock()
	s.upsertChannelLocked(ch)
	s.saveChannelsLocked(ctx)
	s.mu.Unlock()

	s.publish(broadcast.ChannelCreated{Channel: ch})
	return cloneChannel(ch), nil
}

// OpenDM resolves the direct-message channel with the given users and makes
// it active. The channel key is canonical, so every participant gets the same key.
func (s *Session) OpenDM(ctx context.Context, userIDs ...string) (model.Channel, []model.Message, error) {
	participants := append([]string{s.me.ID}, userIDs...)
	key := model.DMKey(participants...)
	if len(model.DMParticipants(key)) < 2 {
		return model.Channel{}, nil, fmt.Errorf("%w: a direct message needs another participant", ErrInvalidArgument)
	}

	if _, err := s.resolveRoom(ctx, key); err != nil {
		return model.Channel{}, nil, err
	}

	s.mu.Lock()
	i := s.channelIndexLocked(key)
	if i < 0 {
		s.channels = append(s.channels, model.Channel{
			ID:        key,
			Name:      strings.Join(model.DMParticipants(key), ", "),
			ProjectID: s.projectID,
			IsDM:      true,
			CreatedAt: s.now().UnixMilli(),
			Members:   model.DMParticipants(key),
		})
		s.saveChannelsLocked(ctx)
		i = len(s.channels) - 1
	}
	ch := cloneChannel(s.channels[i])
	s.mu.Unlock()

	msgs, err := s.SwitchChannel(ctx, key)
	return ch, msgs, err
}

// resolveRoom maps a channel id to the id the backend knows it by.
func (s *Session) resolveRoom(ctx context.Context, channelID string) (string, error) {
	if !model.IsDMKey(channelID) {
		return channelID, nil
	}
	s.mu.Lock()
	room, ok := s.dmRooms[channelID]
	s.mu.Unlock()
	if ok {
		return room, nil
	}

	r, err := s.backend.GetOrCreateDMRoom(ctx, model.DMParticipants(channelID))
	if err != nil {
		return "", fmt.Errorf("resolve dm room: %w", err)
	}
	if r.ID == "" {
		return "", fmt.Errorf("resolve dm room: empty room id for %s", channelID)
	}
	s.mu.Lock()
	if s.dmRooms[channelID] != r.ID {
		s.rememberRoomLocked(channelID, r.ID)
		s.saveDMRoomsLocked(ctx)
	}
	s.mu.Unlock()
	return r.ID, nil
}

func (s *Session) rememberRoomLocked(key, room string) {
	if key == "" || room == "" {
		return
	}
	if old, ok := s.dmRooms[key]; ok {
		delete(s.roomKeys, old)
	}
	s.dmRooms[key] = room
	s.roomKeys[room] = key
}

// roomLocked returns the backend room of channelID without a network call.
// ok is false for a DM whose room has not been resolved yet.
func (s *Session) roomLocked(channelID string) (string, bool) {
	if !model.IsDMKey(channelID) {
		return channelID, true
	}
	room, ok := s.dmRooms[channelID]
	return room, ok
}

// channelForRoomLocked maps a backend room id from the push channel back to the local channel key.
func (s *Session) channelForRoomLocked(room string) string {
	if key, ok := s.roomKeys[room]; ok {
		return key
	}
	return room
}

// rejoinActive re-subscribes the active channel's room; it runs after every
// (re)connect, since rooms joined on a dropped connection are gone.
func (s *Session) rejoinActive() {
	s.mu.Lock()
	if s.closed || s.active == "" {
		s.mu.Unlock()
		return
	}
	room, ok := s.roomLocked(s.active)
	s.mu.Unlock()
	if !ok {
		return
	}
	s.emit(push.EmitJoin, func(ctx context.Context, r Realtime) error {
		return r.JoinRoom(ctx, room)
	})
}

// SwitchChannel makes channelID active. The cached list is shown at once and
// then replaced by the server list. If the fetch fails the cached list (or an
// empty one) stays in place and the error is returned alongside it. A response
// arriving after the user moved on only updates the cache.
func (s *Session) SwitchChannel(ctx context.Context, channelID string) ([]model.Message, error) {
	if channelID == "" {
		return nil, fmt.Errorf("%w: channel id is empty", ErrInvalidArgument)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.active != channelID {
		cached, err := s.store.Messages(ctx, channelID)
		if err != nil {
			s.logger.Warn("failed to load cached messages", zap.String("channel_id", channelID), zap.Error(err))
		}
		s.active = channelID
		s.current = sequencer.Sort(cached)
		s.recomputeLocked(channelID, s.current)
	}
	s.mu.Unlock()

	room, err := s.resolveRoom(ctx, channelID)
	var wires []model.WireMessage
	if err == nil {
		s.emit(push.EmitJoin, func(ctx context.Context, r Realtime) error {
			return r.JoinRoom(ctx, room)
		})
		wires, err = s.backend.ListMessages(ctx, room)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("failed to load channel messages", zap.String("channel_id", channelID), zap.Error(err))
		if s.active == channelID {
			return model.CloneMessages(s.current), fmt.Errorf("list messages: %w", err)
		}
		return nil, fmt.Errorf("list messages: %w", err)
	}

	fetched := make([]model.Message, 0, len(wires))
	for _, w := range wires {
		m := s.norm.Normalize(w)
		m.ChannelID = channelID
		fetched = append(fetched, m)
	}
	fetched = sequencer.Sort(fetched)

	// 请求期间通过推送到达、比服务端列表更新的消息保留下来
	local := s.listLocked(ctx, channelID)
	var newest int64
	if n := len(fetched); n > 0 {
		newest = fetched[n-1].TS
	}
	var late []model.Message
	for _, m := range local {
		if m.TS > newest && sequencer.IndexOf(fetched, m.ID) < 0 {
			late = append(late, m)
		}
	}
	list := sequencer.Merge(fetched, late)

	if s.active == channelID {
		s.current = list
	} else {
		s.logger.Debug("stale channel response", zap.String("channel_id", channelID), zap.String("active", s.active))
	}
	s.commitLocked(ctx, channelID, list)
	if s.active != channelID {
		return model.CloneMessages(list), nil
	}
	return model.CloneMessages(s.current), nil
}

// SetChannelTopic updates the topic locally and on other tabs.
func (s *Session) SetChannelTopic(ctx context.Context, channelID, topic string) error {
	s.mu.Lock()
	i := s.channelIndexLocked(channelID)
	if i < 0 {
		s.mu.Unlock()
		return ErrChannelNotFound
	}
	s.channels[i].Topic = topic
	s.saveChannelsLocked(ctx)
	s.mu.Unlock()

	s.publish(broadcast.ChannelTopicChanged{ChannelID: channelID, Topic: topic})
	return nil
}

// SetChannelMuted mutes or unmutes a channel for this user.
func (s *Session) SetChannelMuted(ctx context.Context, channelID string, muted bool) error {
	s.mu.Lock()
	i := s.channelIndexLocked(channelID)
	if i < 0 {
		s.mu.Unlock()
		return ErrChannelNotFound
	}
	s.channels[i].Muted = muted
	s.saveChannelsLocked(ctx)
	s.mu.Unlock()

	s.publish(broadcast.ChannelMutedChanged{ChannelID: channelID, Muted: muted})
	return nil
}

// InviteToChannel adds members to a channel.
func (s *Session) InviteToChannel(ctx context.Context, channelID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: no users to invite", ErrInvalidArgument)
	}
	s.mu.Lock()
	i := s.channelIndexLocked(channelID)
	if i < 0 {
		s.mu.Unlock()
		return ErrChannelNotFound
	}
	s.channels[i].Members = addMembers(s.channels[i].Members, userIDs)
	s.saveChannelsLocked(ctx)
	s.mu.Unlock()

	s.publish(broadcast.ChannelInvited{ChannelID: channelID, UserIDs: slices.Clone(userIDs)})
	return nil
}

func (s *Session) channelIndexLocked(channelID string) int {
	return slices.IndexFunc(s.channels, func(ch model.Channel) bool { return ch.ID == channelID })
}

func (s *Session) upsertChannelLocked(ch model.Channel) {
	if i := s.channelIndexLocked(ch.ID); i >= 0 {
		s.channels[i] = ch
		return
	}
	s.channels = append(s.channels, ch)
}

func addMembers(members, userIDs []string) []string {
	out := slices.Clone(members)
	for _, id := range userIDs {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func cloneChannel(ch model.Channel) model.Channel {
	ch.Members = slices.Clone(ch.Members)
	return ch
}
