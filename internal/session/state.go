package session

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
	"github.com/Gopher0727/ChatSync/internal/sequencer"
)

// Activity returns the summary of channelID, computing it if needed.
func (s *Session) Activity(ctx context.Context, channelID string) model.ChannelActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.activity[channelID]; ok {
		return a
	}
	s.recomputeLocked(channelID, s.listLocked(ctx, channelID))
	return s.activity[channelID]
}

// Activities returns the summary of every channel in the registry.
func (s *Session) Activities(ctx context.Context) map[string]model.ChannelActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		if _, ok := s.activity[ch.ID]; !ok {
			s.recomputeLocked(ch.ID, s.listLocked(ctx, ch.ID))
		}
	}
	return maps.Clone(s.activity)
}

// ReadCursor returns the read-up-to timestamp of channelID.
func (s *Session) ReadCursor(channelID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[channelID]
}

// MarkRead moves the read cursor forward to ts. It never moves backwards.
func (s *Session) MarkRead(ctx context.Context, channelID string, ts int64) model.ChannelActivity {
	s.mu.Lock()
	cursor := max(s.cursors[channelID], ts)
	a := s.setCursorLocked(ctx, channelID, cursor)
	s.mu.Unlock()

	s.publish(broadcast.Seen{ChannelID: channelID, UserID: s.me.ID, TS: cursor})
	return a
}

// MarkChannelRead marks everything currently in channelID as read.
func (s *Session) MarkChannelRead(ctx context.Context, channelID string) model.ChannelActivity {
	s.mu.Lock()
	list := s.listLocked(ctx, channelID)
	var last int64
	for _, m := range list {
		last = max(last, m.TS)
	}
	s.mu.Unlock()
	return s.MarkRead(ctx, channelID, last)
}

// MarkUnreadFrom rewinds the cursor to just before messageID so that it and
// everything after it count as unread again.
func (s *Session) MarkUnreadFrom(ctx context.Context, channelID, messageID string) (model.ChannelActivity, error) {
	s.mu.Lock()
	m, ok := sequencer.Find(s.listLocked(ctx, channelID), messageID)
	if !ok {
		s.mu.Unlock()
		return model.ChannelActivity{}, ErrMessageNotFound
	}
	cursor := m.TS - 1
	a := s.setCursorLocked(ctx, channelID, cursor)
	s.mu.Unlock()

	s.publish(broadcast.Seen{ChannelID: channelID, UserID: s.me.ID, TS: cursor})
	return a, nil
}

func (s *Session) setCursorLocked(ctx context.Context, channelID string, cursor int64) model.ChannelActivity {
	s.cursors[channelID] = cursor
	s.saveCursorsLocked(ctx)
	s.recomputeLocked(channelID, s.listLocked(ctx, channelID))
	return s.activity[channelID]
}

// Pins returns the pinned message ids of channelID.
func (s *Session) Pins(channelID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pins[channelID])
}

// Saved returns the current user's saved message ids.
func (s *Session) Saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.saved)
}

// TogglePin flips the pin of messageID and reports whether it is now pinned.
func (s *Session) TogglePin(ctx context.Context, channelID, messageID string) (bool, error) {
	if channelID == "" || messageID == "" {
		return false, fmt.Errorf("%w: channel and message id are required", ErrInvalidArgument)
	}
	s.mu.Lock()
	set, pinned := toggleID(s.pins[channelID], messageID)
	s.pins[channelID] = set
	s.savePinsLocked(ctx)
	ids := slices.Clone(set)
	room, routable := s.roomLocked(channelID)
	s.mu.Unlock()

	switch {
	case !routable:
	case pinned:
		s.emit(push.EmitPin, func(ctx context.Context, r Realtime) error {
			return r.PinMessage(ctx, room, messageID)
		})
	default:
		s.emit(push.EmitUnpin, func(ctx context.Context, r Realtime) error {
			return r.UnpinMessage(ctx, room, messageID)
		})
	}
	s.publish(broadcast.PinsChanged{ChannelID: channelID, MessageIDs: ids})
	return pinned, nil
}

// ToggleSave flips the saved flag of messageID and reports whether it is now saved.
func (s *Session) ToggleSave(ctx context.Context, messageID string) (bool, error) {
	if messageID == "" {
		return false, fmt.Errorf("%w: message id is required", ErrInvalidArgument)
	}
	s.mu.Lock()
	set, saved := toggleID(s.saved, messageID)
	s.saved = set
	s.saveSavedLocked(ctx)
	ids := slices.Clone(set)
	s.mu.Unlock()

	s.emit(push.EmitToggleSave, func(ctx context.Context, r Realtime) error {
		return r.ToggleSave(ctx, messageID)
	})
	s.publish(broadcast.SavedChanged{UserID: s.me.ID, MessageIDs: ids})
	return saved, nil
}

// RefreshPins replaces the pin set of channelID with the server's. On failure the local set is kept.
func (s *Session) RefreshPins(ctx context.Context, channelID string) ([]string, error) {
	room, err := s.resolveRoom(ctx, channelID)
	var ids []string
	if err == nil {
		ids, err = s.backend.GetPinnedMessages(ctx, room)
	}
	if err != nil {
		return s.Pins(channelID), fmt.Errorf("get pinned messages: %w", err)
	}
	s.mu.Lock()
	s.pins[channelID] = normalizeIDs(ids)
	s.savePinsLocked(ctx)
	out := slices.Clone(s.pins[channelID])
	s.mu.Unlock()
	return out, nil
}

// RefreshSaved replaces the saved set with the server's. On failure the local set is kept.
func (s *Session) RefreshSaved(ctx context.Context) ([]string, error) {
	ids, err := s.backend.GetSavedMessages(ctx)
	if err != nil {
		return s.Saved(), fmt.Errorf("get saved messages: %w", err)
	}
	s.mu.Lock()
	s.saved = normalizeIDs(ids)
	s.saveSavedLocked(ctx)
	out := slices.Clone(s.saved)
	s.mu.Unlock()
	return out, nil
}

// SetTyping announces that the current user is typing in channelID.
func (s *Session) SetTyping(ctx context.Context, channelID string) {
	s.mu.Lock()
	room, routable := s.roomLocked(channelID)
	s.mu.Unlock()
	if routable {
		s.emit(push.EmitTyping, func(ctx context.Context, r Realtime) error {
			return r.Typing(ctx, room)
		})
	}
	s.publish(broadcast.Typing{ChannelID: channelID, UserID: s.me.ID, UserName: s.me.DisplayName})
}

// TypingUsers returns the other users seen typing in channelID within the typing window.
func (s *Session) TypingUsers(channelID string) []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireTypingLocked(channelID)

	var out []model.User
	for id, t := range s.typing[channelID] {
		out = append(out, model.User{ID: id, DisplayName: t.name})
	}
	slices.SortFunc(out, func(a, b model.User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *Session) noteTypingLocked(channelID, userID, name string) {
	if userID == "" || userID == s.me.ID {
		return
	}
	users := s.typing[channelID]
	if users == nil {
		users = make(map[string]typist)
		s.typing[channelID] = users
	}
	users[userID] = typist{name: name, at: s.now()}
}

func (s *Session) stopTypingLocked(channelID, userID string) {
	delete(s.typing[channelID], userID)
}

func (s *Session) expireTypingLocked(channelID string) {
	now := s.now()
	for id, t := range s.typing[channelID] {
		if now.Sub(t.at) >= s.typingTTL {
			delete(s.typing[channelID], id)
		}
	}
	if len(s.typing[channelID]) == 0 {
		delete(s.typing, channelID)
	}
}

// Huddle returns the voice-room state of channelID.
func (s *Session) Huddle(channelID string) model.HuddleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.huddles[channelID]
	h.Participants = slices.Clone(h.Participants)
	return h
}

// SetHuddle replaces the voice-room state of channelID and tells other tabs.
func (s *Session) SetHuddle(ctx context.Context, channelID string, state model.HuddleState) {
	state.Participants = slices.Clone(state.Participants)
	s.mu.Lock()
	s.huddles[channelID] = state
	s.mu.Unlock()
	s.publish(broadcast.HuddleChanged{ChannelID: channelID, State: state})
}

func toggleID(set []string, id string) ([]string, bool) {
	if i := slices.Index(set, id); i >= 0 {
		return slices.Delete(slices.Clone(set), i, i+1), false
	}
	return append(slices.Clone(set), id), true
}

func addID(set []string, id string) []string {
	if slices.Contains(set, id) {
		return set
	}
	return append(slices.Clone(set), id)
}

func removeID(set []string, id string) []string {
	return slices.DeleteFunc(slices.Clone(set), func(v string) bool { return v == id })
}

func normalizeIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
