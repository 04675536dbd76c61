// Package session owns the chat state of one signed-in user: the active
// channel's message list, read cursors, pin and saved sets, typing and huddle
// presence, and the channel registry.
//
// All mutations run under one mutex, so user intents, push events, broadcast
// deltas and timers interleave but never overlap. Network calls happen
// outside the lock; their results are applied keyed by channel id, so a late
// response for a channel that is no longer active only reaches the cache.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/internal/activity"
	"github.com/Gopher0727/ChatSync/internal/api"
	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/cache"
	"github.com/Gopher0727/ChatSync/internal/echo"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/normalizer"
	"github.com/Gopher0727/ChatSync/internal/push"
)

var (
	// ErrNotMessageOwner is returned when editing or deleting someone else's message.
	ErrNotMessageOwner = errors.New("message not owned by current user")
	ErrMessageNotFound = errors.New("message not found")
	ErrChannelNotFound = errors.New("channel not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrClosed          = errors.New("session closed")
)

const defaultTypingTTL = 3 * time.Second

// Backend is the REST surface the session depends on; *api.Client implements it.
type Backend interface {
	ListChannels(ctx context.Context, projectID string) ([]model.Channel, error)
	CreateChannel(ctx context.Context, projectID, name string, memberIDs []string) (model.Channel, error)
	ListMessages(ctx context.Context, channelID string) ([]model.WireMessage, error)
	SendChannelMessage(ctx context.Context, channelID, text string, opts model.SendOptions) (model.WireMessage, error)
	SendThreadMessage(ctx context.Context, parentID, text string) (model.WireMessage, error)
	SendDMMessage(ctx context.Context, roomID, text string, opts model.SendOptions) (model.WireMessage, error)
	GetOrCreateDMRoom(ctx context.Context, participantIDs []string) (api.DMRoom, error)
	EditMessage(ctx context.Context, messageID, text string) (model.WireMessage, error)
	DeleteMessage(ctx context.Context, messageID string) error
	GetPinnedMessages(ctx context.Context, channelID string) ([]string, error)
	GetSavedMessages(ctx context.Context) ([]string, error)
}

// Realtime is the push channel; *push.Adapter implements it. Channel arguments
// are backend room ids, which differ from the local key for direct messages.
type Realtime interface {
	Subscribe(ctx context.Context, handler func(push.Event)) bool
	// OnConnect registers fn to run after every successful (re)connect.
	OnConnect(fn func())
	PinMessage(ctx context.Context, channelID, messageID string) error
	UnpinMessage(ctx context.Context, channelID, messageID string) error
	ToggleSave(ctx context.Context, messageID string) error
	ToggleReaction(ctx context.Context, channelID, messageID, emoji string) error
	Typing(ctx context.Context, channelID string) error
	JoinRoom(ctx context.Context, channelID string) error
}

// Bus is the cross-tab channel; *broadcast.Broadcaster implements it.
type Bus interface {
	Publish(ctx context.Context, d broadcast.Delta) error
	Listen(ctx context.Context, handler func(broadcast.Delta)) error
}

// Runner executes fire-and-forget jobs; *utils.WorkerPool implements it.
type Runner interface {
	TrySubmit(job func()) bool
}

type goRunner struct{}

func (goRunner) TrySubmit(job func()) bool {
	go job()
	return true
}

// Option configures a Session.
type Option func(*Session)

// WithRealtime binds the server push channel. Without it the session only
// sees what it fetches and what other tabs broadcast.
func WithRealtime(r Realtime) Option { return func(s *Session) { s.realtime = r } }

// WithBus binds the cross-tab channel.
func WithBus(b Bus) Option { return func(s *Session) { s.bus = b } }

// WithStore sets the durable cache. A nil store keeps the in-memory default.
func WithStore(st *cache.Store) Option {
	return func(s *Session) {
		if st != nil {
			s.store = st
		}
	}
}

// WithRunner sets where fire-and-forget publishes and emits run.
func WithRunner(r Runner) Option {
	return func(s *Session) {
		if r != nil {
			s.runner = r
		}
	}
}

// WithLogger sets the session logger; nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithEchoTracker replaces the default local-echo tracker, e.g. to share its TTL with config.
func WithEchoTracker(t *echo.Tracker) Option {
	return func(s *Session) {
		if t != nil {
			s.echo = t
		}
	}
}

// WithTypingTTL sets how long a typing indicator lasts without a refresh.
func WithTypingTTL(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.typingTTL = d
		}
	}
}

// Session is the explicit state container for one signed-in user.
type Session struct {
	me        model.User
	projectID string

	backend  Backend
	realtime Realtime
	bus      Bus
	store    *cache.Store
	runner   Runner
	norm     *normalizer.Normalizer
	echo     *echo.Tracker
	logger   *zap.Logger
	now      func() time.Time

	typingTTL time.Duration

	mu       sync.Mutex
	closed   bool
	cancel   context.CancelFunc
	active   string
	current  []model.Message
	channels []model.Channel
	dmRooms  map[string]string // DM key -> backend room id
	roomKeys map[string]string // backend room id -> DM key
	cursors  map[string]int64
	pins     map[string][]string
	saved    []string
	typing   map[string]map[string]typist
	huddles  map[string]model.HuddleState
	activity map[string]model.ChannelActivity
}

type typist struct {
	name string
	at   time.Time
}

// New creates a session for the signed-in user.
//
// Parameters:
//   - me: the current user; its ID and DisplayName drive ownership and mention checks
//   - projectID: workspace whose channels are listed and created
//   - backend: REST services for channels, messages, DMs, pins and saved items
//   - opts: optional collaborators; without WithStore state is cached in memory only
//
// Returns:
//   - *Session: an idle session; call Start to restore cached state and bind listeners
func New(me model.User, projectID string, backend Backend, opts ...Option) *Session {
	s := &Session{
		me:        me,
		projectID: projectID,
		backend:   backend,
		store:     cache.NewStore(cache.NewMemoryKV(), ""),
		runner:    goRunner{},
		norm:      normalizer.New(me.ID),
		echo:      echo.NewTracker(echo.DefaultTTL),
		logger:    zap.NewNop(),
		now:       time.Now,
		typingTTL: defaultTypingTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "session"), zap.String("user_id", me.ID))
	s.resetLocked()
	return s
}

func (s *Session) resetLocked() {
	s.active = ""
	s.current = nil
	s.channels = nil
	s.dmRooms = make(map[string]string)
	s.roomKeys = make(map[string]string)
	s.cursors = make(map[string]int64)
	s.pins = make(map[string][]string)
	s.saved = nil
	s.typing = make(map[string]map[string]typist)
	s.huddles = make(map[string]model.HuddleState)
	s.activity = make(map[string]model.ChannelActivity)
}

// Me returns the signed-in user.
func (s *Session) Me() model.User {
	return s.me
}

// Start restores cached state and binds the push and broadcast listeners.
// Listeners stay bound until Close or until ctx is cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.restoreLocked(ctx)
	listenCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	if s.realtime != nil {
		s.realtime.OnConnect(s.rejoinActive)
		s.realtime.Subscribe(listenCtx, func(ev push.Event) {
			s.HandlePush(listenCtx, ev)
		})
	}
	if s.bus != nil {
		if err := s.bus.Listen(listenCtx, func(d broadcast.Delta) {
			s.HandleDelta(listenCtx, d)
		}); err != nil {
			return fmt.Errorf("failed to listen for broadcast deltas: %w", err)
		}
	}
	s.logger.Info("session started", zap.Int("channels", len(s.Channels())))
	return nil
}

func (s *Session) restoreLocked(ctx context.Context) {
	// 缓存里的 null 不能把 map 置空，否则后续写入会 panic
	if cursors, err := s.store.ReadCursors(ctx); err != nil {
		s.logger.Warn("failed to restore read cursors", zap.Error(err))
	} else if cursors != nil {
		s.cursors = cursors
	}
	if pins, err := s.store.Pins(ctx); err != nil {
		s.logger.Warn("failed to restore pins", zap.Error(err))
	} else if pins != nil {
		s.pins = pins
	}
	if rooms, err := s.store.DMRooms(ctx); err != nil {
		s.logger.Warn("failed to restore dm rooms", zap.Error(err))
	} else {
		for key, room := range rooms {
			s.rememberRoomLocked(key, room)
		}
	}
	if saved, err := s.store.Saved(ctx, s.me.ID); err != nil {
		s.logger.Warn("failed to restore saved messages", zap.Error(err))
	} else {
		s.saved = saved
	}
	if channels, err := s.store.Channels(ctx); err != nil {
		s.logger.Warn("failed to restore channels", zap.Error(err))
	} else {
		s.channels = channels
	}
}

// Close ends the session: listeners stop, in-memory state and the echo
// tracker are cleared. The durable cache is left intact for the next start.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	s.echo.Reset()
	s.resetLocked()
	s.logger.Info("session closed")
	return nil
}

// mutateLocked applies fn to a channel's list. The active channel lives in
// memory; any other channel is read from and written back to the cache.
func (s *Session) mutateLocked(ctx context.Context, channelID string, fn func([]model.Message) ([]model.Message, bool)) bool {
	if channelID == "" {
		return false
	}
	if channelID == s.active {
		out, changed := fn(s.current)
		if !changed {
			return false
		}
		s.current = out
		s.commitLocked(ctx, channelID, out)
		return true
	}

	list, err := s.store.Messages(ctx, channelID)
	if err != nil {
		s.logger.Warn("failed to load cached messages", zap.String("channel_id", channelID), zap.Error(err))
		return false
	}
	out, changed := fn(list)
	if !changed {
		return false
	}
	s.commitLocked(ctx, channelID, out)
	return true
}

// listLocked returns the current list of a channel without copying.
func (s *Session) listLocked(ctx context.Context, channelID string) []model.Message {
	if channelID == s.active {
		return s.current
	}
	list, err := s.store.Messages(ctx, channelID)
	if err != nil {
		s.logger.Warn("failed to load cached messages", zap.String("channel_id", channelID), zap.Error(err))
	}
	return list
}

func (s *Session) commitLocked(ctx context.Context, channelID string, list []model.Message) {
	if err := s.store.SaveMessages(ctx, channelID, list); err != nil {
		s.logger.Warn("failed to cache messages", zap.String("channel_id", channelID), zap.Error(err))
	}
	s.recomputeLocked(channelID, list)
}

// recomputeLocked rebuilds the activity summary from scratch.
func (s *Session) recomputeLocked(channelID string, list []model.Message) {
	s.activity[channelID] = activity.Compute(list, s.cursors[channelID], s.me)
}

func (s *Session) saveCursorsLocked(ctx context.Context) {
	if err := s.store.SaveReadCursors(ctx, s.cursors); err != nil {
		s.logger.Warn("failed to cache read cursors", zap.Error(err))
	}
}

func (s *Session) savePinsLocked(ctx context.Context) {
	if err := s.store.SavePins(ctx, s.pins); err != nil {
		s.logger.Warn("failed to cache pins", zap.Error(err))
	}
}

func (s *Session) saveSavedLocked(ctx context.Context) {
	if err := s.store.SaveSaved(ctx, s.me.ID, s.saved); err != nil {
		s.logger.Warn("failed to cache saved messages", zap.Error(err))
	}
}

func (s *Session) saveDMRoomsLocked(ctx context.Context) {
	if err := s.store.SaveDMRooms(ctx, s.dmRooms); err != nil {
		s.logger.Warn("failed to cache dm rooms", zap.Error(err))
	}
}

func (s *Session) saveChannelsLocked(ctx context.Context) {
	if err := s.store.SaveChannels(ctx, s.channels); err != nil {
		s.logger.Warn("failed to cache channels", zap.Error(err))
	}
}

// publish announces d to other tabs in the background.
func (s *Session) publish(d broadcast.Delta) {
	if s.bus == nil {
		return
	}
	s.async(d.Type(), func(ctx context.Context) error {
		return s.bus.Publish(ctx, d)
	})
}

// emit sends a fire-and-forget frame on the real-time channel.
func (s *Session) emit(name string, fn func(ctx context.Context, r Realtime) error) {
	if s.realtime == nil {
		return
	}
	s.async(name, func(ctx context.Context) error {
		return fn(ctx, s.realtime)
	})
}

func (s *Session) async(name string, job func(ctx context.Context) error) {
	ok := s.runner.TrySubmit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := job(ctx); err != nil {
			s.logger.Debug("background job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if !ok {
		s.logger.Warn("background job dropped", zap.String("job", name))
	}
}
