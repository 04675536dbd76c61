package push

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Gopher0727/ChatSync/internal/model"
)

// ErrMalformedEvent is returned for envelopes that are unparseable, unroutable, or missing a payload.
var ErrMalformedEvent = errors.New("malformed push event")

// RoomPrefix prefixes channel ids in real-time room identifiers.
const RoomPrefix = "channel:"

// Inbound event types.
const (
	TypeCreated       = "created"
	TypeUpdated       = "updated"
	TypeDeleted       = "deleted"
	TypeReaction      = "reaction"
	TypeThreadCreated = "thread_created"
	TypeThreadMeta    = "thread_meta"
	TypePinned        = "message.pinned"
	TypeUnpinned      = "message.unpinned"
	TypeSaved         = "message.saved"
	TypeUnsaved       = "message.unsaved"
	TypeTyping        = "typing"
)

// Outbound event types.
const (
	EmitPin            = "pin-message"
	EmitUnpin          = "unpin-message"
	EmitToggleSave     = "toggle-save-message"
	EmitToggleReaction = "toggle-reaction"
	EmitTyping         = "typing"
	EmitJoin           = "join-room"
)

// Envelope is the frame shape on the real-time channel in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RoomID returns the room identifier for a channel.
func RoomID(channelID string) string {
	return RoomPrefix + channelID
}

// Event is the closed set of inbound events the session understands.
type Event interface {
	Type() string
	// Channel returns the affected channel id, empty for user-scoped events.
	Channel() string
}

// MessageCreated is a new top-level message or thread reply.
type MessageCreated struct {
	ChannelID string
	Message   model.WireMessage
	// Thread is true for thread_created frames.
	Thread bool
}

type MessageUpdated struct {
	ChannelID string
	Message   model.WireMessage
}

type MessageDeleted struct {
	ChannelID string
	MessageID string
}

// ReactionChanged adds or removes one reactor from one emoji set.
type ReactionChanged struct {
	ChannelID string
	MessageID string
	Emoji     string
	UserID    string
	Added     bool
}

// ThreadMeta carries the authoritative reply count of a thread root.
type ThreadMeta struct {
	ChannelID string
	ParentID  string
	Count     int
}

type PinChanged struct {
	ChannelID string
	MessageID string
	Pinned    bool
}

type SaveChanged struct {
	MessageID string
	Saved     bool
}

type TypingStarted struct {
	ChannelID string
	UserID    string
	UserName  string
}

func (e MessageCreated) Type() string {
	if e.Thread {
		return TypeThreadCreated
	}
	return TypeCreated
}
func (MessageUpdated) Type() string  { return TypeUpdated }
func (MessageDeleted) Type() string  { return TypeDeleted }
func (ReactionChanged) Type() string { return TypeReaction }
func (ThreadMeta) Type() string      { return TypeThreadMeta }
func (e PinChanged) Type() string {
	if e.Pinned {
		return TypePinned
	}
	return TypeUnpinned
}
func (e SaveChanged) Type() string {
	if e.Saved {
		return TypeSaved
	}
	return TypeUnsaved
}
func (TypingStarted) Type() string { return TypeTyping }

func (e MessageCreated) Channel() string  { return e.ChannelID }
func (e MessageUpdated) Channel() string  { return e.ChannelID }
func (e MessageDeleted) Channel() string  { return e.ChannelID }
func (e ReactionChanged) Channel() string { return e.ChannelID }
func (e ThreadMeta) Channel() string      { return e.ChannelID }
func (e PinChanged) Channel() string      { return e.ChannelID }
func (SaveChanged) Channel() string       { return "" }
func (e TypingStarted) Channel() string   { return e.ChannelID }

type refPayload struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
}

type reactionPayload struct {
	MessageID string `json:"messageId"`
	ChannelID string `json:"channelId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Action    string `json:"action"`
}

type threadMetaPayload struct {
	ParentID  string `json:"parentId"`
	ChannelID string `json:"channelId"`
	Count     *int   `json:"count"`
}

type typingPayload struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}

// Parse decodes one inbound frame into a typed event.
func Parse(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed("%v", err)
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil, malformed("%s without payload", env.Type)
	}
	room, err := channelFromRoom(env.RoomID)
	if err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeCreated, TypeThreadCreated, TypeUpdated:
		var msg model.WireMessage
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		channelID := firstNonEmpty(room, msg.ChannelID)
		if msg.ID == "" || channelID == "" {
			return nil, malformed("%s missing message or channel id", env.Type)
		}
		if msg.ChannelID == "" {
			msg.ChannelID = channelID
		}
		if env.Type == TypeThreadCreated && msg.ParentID == "" {
			return nil, malformed("thread_created without parentId")
		}
		if env.Type == TypeUpdated {
			return MessageUpdated{ChannelID: channelID, Message: msg}, nil
		}
		return MessageCreated{ChannelID: channelID, Message: msg, Thread: env.Type == TypeThreadCreated}, nil

	case TypeDeleted, TypePinned, TypeUnpinned:
		var p refPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		channelID := firstNonEmpty(room, p.ChannelID)
		if p.MessageID == "" || channelID == "" {
			return nil, malformed("%s missing message or channel id", env.Type)
		}
		if env.Type == TypeDeleted {
			return MessageDeleted{ChannelID: channelID, MessageID: p.MessageID}, nil
		}
		return PinChanged{ChannelID: channelID, MessageID: p.MessageID, Pinned: env.Type == TypePinned}, nil

	case TypeSaved, TypeUnsaved:
		var p refPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed("%s: %v", env.Type, err)
		}
		if p.MessageID == "" {
			return nil, malformed("%s missing message id", env.Type)
		}
		return SaveChanged{MessageID: p.MessageID, Saved: env.Type == TypeSaved}, nil

	case TypeReaction:
		var p reactionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed("reaction: %v", err)
		}
		channelID := firstNonEmpty(room, p.ChannelID)
		if p.MessageID == "" || channelID == "" || p.Emoji == "" || p.UserID == "" {
			return nil, malformed("reaction missing fields")
		}
		var added bool
		switch p.Action {
		case "added":
			added = true
		case "removed":
		default:
			return nil, malformed("reaction action %q", p.Action)
		}
		return ReactionChanged{ChannelID: channelID, MessageID: p.MessageID, Emoji: p.Emoji, UserID: p.UserID, Added: added}, nil

	case TypeThreadMeta:
		var p threadMetaPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed("thread_meta: %v", err)
		}
		channelID := firstNonEmpty(room, p.ChannelID)
		if p.ParentID == "" || channelID == "" || p.Count == nil || *p.Count < 0 {
			return nil, malformed("thread_meta missing fields")
		}
		return ThreadMeta{ChannelID: channelID, ParentID: p.ParentID, Count: *p.Count}, nil

	case TypeTyping:
		var p typingPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed("typing: %v", err)
		}
		channelID := firstNonEmpty(room, p.ChannelID)
		if p.UserID == "" || channelID == "" {
			return nil, malformed("typing missing fields")
		}
		return TypingStarted{ChannelID: channelID, UserID: p.UserID, UserName: p.UserName}, nil
	}

	return nil, malformed("unknown type %q", env.Type)
}

func channelFromRoom(roomID string) (string, error) {
	if roomID == "" {
		return "", nil
	}
	id, ok := strings.CutPrefix(roomID, RoomPrefix)
	if !ok || id == "" {
		return "", malformed("unroutable room %q", roomID)
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
