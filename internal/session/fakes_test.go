package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Gopher0727/ChatSync/internal/api"
	"github.com/Gopher0727/ChatSync/internal/broadcast"
	"github.com/Gopher0727/ChatSync/internal/echo"
	"github.com/Gopher0727/ChatSync/internal/model"
	"github.com/Gopher0727/ChatSync/internal/push"
)

type sendCall struct {
	kind   string
	target string
	text   string
	opts   model.SendOptions
}

type fakeBackend struct {
	mu sync.Mutex

	channels   []model.Channel
	channelErr error
	lists      map[string][]model.WireMessage
	listErr    map[string]error
	listGate   map[string]chan struct{}
	listed     chan string
	sendResult model.WireMessage
	sendErr    error
	sent       []sendCall
	editErr    error
	deleteErr  error
	deleted    []string
	dmRoom     string
	dmCalls    [][]string
	pins       map[string][]string
	saved      []string
	fetchErr   error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		lists:    make(map[string][]model.WireMessage),
		listErr:  make(map[string]error),
		listGate: make(map[string]chan struct{}),
		pins:     make(map[string][]string),
		dmRoom:   "room-1",
	}
}

func (f *fakeBackend) ListChannels(_ context.Context, projectID string) ([]model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	return slices.Clone(f.channels), nil
}

func (f *fakeBackend) CreateChannel(_ context.Context, projectID, name string, memberIDs []string) (model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.channelErr != nil {
		return model.Channel{}, f.channelErr
	}
	ch := model.Channel{ID: "ch-" + name, Name: name, Members: memberIDs}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeBackend) ListMessages(_ context.Context, channelID string) ([]model.WireMessage, error) {
	f.mu.Lock()
	gate := f.listGate[channelID]
	listed := f.listed
	f.mu.Unlock()

	if listed != nil {
		listed <- channelID
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[channelID]; err != nil {
		return nil, err
	}
	return slices.Clone(f.lists[channelID]), nil
}

func (f *fakeBackend) record(call sendCall) (model.WireMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, call)
	if f.sendErr != nil {
		return model.WireMessage{}, f.sendErr
	}
	return f.sendResult, nil
}

func (f *fakeBackend) SendChannelMessage(_ context.Context, channelID, text string, opts model.SendOptions) (model.WireMessage, error) {
	return f.record(sendCall{kind: "channel", target: channelID, text: text, opts: opts})
}

func (f *fakeBackend) SendThreadMessage(_ context.Context, parentID, text string) (model.WireMessage, error) {
	return f.record(sendCall{kind: "thread", target: parentID, text: text})
}

func (f *fakeBackend) SendDMMessage(_ context.Context, roomID, text string, opts model.SendOptions) (model.WireMessage, error) {
	return f.record(sendCall{kind: "dm", target: roomID, text: text, opts: opts})
}

func (f *fakeBackend) GetOrCreateDMRoom(_ context.Context, participantIDs []string) (api.DMRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dmCalls = append(f.dmCalls, participantIDs)
	return api.DMRoom{ID: f.dmRoom}, nil
}

func (f *fakeBackend) EditMessage(_ context.Context, messageID, text string) (model.WireMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return model.WireMessage{}, f.editErr
	}
	edited := int64(5000)
	return model.WireMessage{ID: messageID, AuthorID: "u1", Text: &text, TS: 1, EditedAt: &edited}, nil
}

func (f *fakeBackend) DeleteMessage(_ context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeBackend) GetPinnedMessages(_ context.Context, channelID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return slices.Clone(f.pins[channelID]), nil
}

func (f *fakeBackend) GetSavedMessages(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return slices.Clone(f.saved), nil
}

type fakeRealtime struct {
	mu         sync.Mutex
	emits      []string
	handler    func(push.Event)
	subscribed int
	onConnect  []func()
}

func (r *fakeRealtime) OnConnect(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, fn)
}

// connect 模拟一次（重新）连接成功
func (r *fakeRealtime) connect() {
	r.mu.Lock()
	hooks := slices.Clone(r.onConnect)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (r *fakeRealtime) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = nil
}

func (r *fakeRealtime) Subscribe(_ context.Context, handler func(push.Event)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribed++
	if r.handler != nil {
		return false
	}
	r.handler = handler
	return true
}

func (r *fakeRealtime) add(format string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emits = append(r.emits, fmt.Sprintf(format, args...))
	return nil
}

func (r *fakeRealtime) PinMessage(_ context.Context, channelID, messageID string) error {
	return r.add("pin %s %s", channelID, messageID)
}
func (r *fakeRealtime) UnpinMessage(_ context.Context, channelID, messageID string) error {
	return r.add("unpin %s %s", channelID, messageID)
}
func (r *fakeRealtime) ToggleSave(_ context.Context, messageID string) error {
	return r.add("save %s", messageID)
}
func (r *fakeRealtime) ToggleReaction(_ context.Context, channelID, messageID, emoji string) error {
	return r.add("react %s %s %s", channelID, messageID, emoji)
}
func (r *fakeRealtime) Typing(_ context.Context, channelID string) error {
	return r.add("typing %s", channelID)
}
func (r *fakeRealtime) JoinRoom(_ context.Context, channelID string) error {
	return r.add("join %s", channelID)
}

func (r *fakeRealtime) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.emits)
}

type fakeBus struct {
	mu        sync.Mutex
	published []broadcast.Delta
	handler   func(broadcast.Delta)
}

func (b *fakeBus) Publish(_ context.Context, d broadcast.Delta) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, d)
	return nil
}

func (b *fakeBus) Listen(_ context.Context, handler func(broadcast.Delta)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = handler
	return nil
}

func (b *fakeBus) snapshot() []broadcast.Delta {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.published)
}

func (b *fakeBus) last() broadcast.Delta {
	p := b.snapshot()
	if len(p) == 0 {
		return nil
	}
	return p[len(p)-1]
}

type inlineRunner struct{}

func (inlineRunner) TrySubmit(job func()) bool {
	job()
	return true
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	s        *Session
	backend  *fakeBackend
	realtime *fakeRealtime
	bus      *fakeBus
	clock    *fakeClock
}

var alice = model.User{ID: "u1", Name: "alice", DisplayName: "Alice"}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		backend:  newFakeBackend(),
		realtime: &fakeRealtime{},
		bus:      &fakeBus{},
		clock:    newFakeClock(),
	}
	base := []Option{
		WithRealtime(h.realtime),
		WithBus(h.bus),
		WithRunner(inlineRunner{}),
		WithClock(h.clock.Now),
		WithEchoTracker(echo.NewTracker(echo.DefaultTTL, echo.WithClock(h.clock.Now))),
	}
	h.s = New(alice, "p1", h.backend, append(base, opts...)...)
	t.Cleanup(func() { h.s.Close() })
	return h
}

func wire(id, author string, ts int64, text string) model.WireMessage {
	return model.WireMessage{ID: id, AuthorID: author, TS: ts, Text: model.StringPtr(text)}
}

func ids(list []model.Message) []string {
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.ID
	}
	return out
}
