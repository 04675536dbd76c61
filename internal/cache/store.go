package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gopher0727/ChatSync/internal/model"
)

// Cache keys.
const (
	keyMessages    = "messages:"
	keyPins        = "pins"
	keySaved       = "saved:"
	keyReadCursors = "readCursors"
	keyChannels    = "channels"
	keyDMRooms     = "dmRooms"
)

// Store maps session state onto KV keys. Missing keys read as empty values.
type Store struct {
	kv     KV
	prefix string
}

// NewStore wraps kv; prefix namespaces every key, e.g. per product.
func NewStore(kv KV, prefix string) *Store {
	return &Store{kv: kv, prefix: prefix}
}

func MessagesKey(channelID string) string { return keyMessages + channelID }
func SavedKey(userID string) string       { return keySaved + userID }

func (s *Store) Messages(ctx context.Context, channelID string) ([]model.Message, error) {
	var out []model.Message
	err := s.load(ctx, MessagesKey(channelID), &out)
	return out, err
}

func (s *Store) SaveMessages(ctx context.Context, channelID string, messages []model.Message) error {
	return s.store(ctx, MessagesKey(channelID), messages)
}

// Pins returns pinned message ids keyed by channel. The map is never nil,
// even when the stored entry is JSON null.
func (s *Store) Pins(ctx context.Context) (map[string][]string, error) {
	var out map[string][]string
	err := s.load(ctx, keyPins, &out)
	if out == nil {
		out = make(map[string][]string)
	}
	return out, err
}

func (s *Store) SavePins(ctx context.Context, pins map[string][]string) error {
	return s.store(ctx, keyPins, pins)
}

func (s *Store) Saved(ctx context.Context, userID string) ([]string, error) {
	var out []string
	err := s.load(ctx, SavedKey(userID), &out)
	return out, err
}

func (s *Store) SaveSaved(ctx context.Context, userID string, ids []string) error {
	return s.store(ctx, SavedKey(userID), ids)
}

// ReadCursors returns read-up-to timestamps keyed by channel. The map is never nil.
func (s *Store) ReadCursors(ctx context.Context) (map[string]int64, error) {
	var out map[string]int64
	err := s.load(ctx, keyReadCursors, &out)
	if out == nil {
		out = make(map[string]int64)
	}
	return out, err
}

func (s *Store) SaveReadCursors(ctx context.Context, cursors map[string]int64) error {
	return s.store(ctx, keyReadCursors, cursors)
}

func (s *Store) Channels(ctx context.Context) ([]model.Channel, error) {
	var out []model.Channel
	err := s.load(ctx, keyChannels, &out)
	return out, err
}

func (s *Store) SaveChannels(ctx context.Context, channels []model.Channel) error {
	return s.store(ctx, keyChannels, channels)
}

// DMRooms returns backend room ids keyed by canonical DM channel key. The map is never nil.
func (s *Store) DMRooms(ctx context.Context) (map[string]string, error) {
	var out map[string]string
	err := s.load(ctx, keyDMRooms, &out)
	if out == nil {
		out = make(map[string]string)
	}
	return out, err
}

func (s *Store) SaveDMRooms(ctx context.Context, rooms map[string]string) error {
	return s.store(ctx, keyDMRooms, rooms)
}

func (s *Store) load(ctx context.Context, key string, dst any) error {
	raw, err := s.kv.Get(ctx, s.prefix+key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return nil
}

func (s *Store) store(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}
	return s.kv.Set(ctx, s.prefix+key, raw)
}
