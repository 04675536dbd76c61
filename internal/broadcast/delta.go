package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Gopher0727/ChatSync/internal/model"
)

// ErrMalformedDelta is returned for envelopes that do not decode into a known, complete delta.
var ErrMalformedDelta = errors.New("malformed broadcast delta")

// Delta types carried between tabs.
const (
	TypeMessageCreated  = "message.created"
	TypeMessageUpdated  = "message.updated"
	TypeMessageDeleted  = "message.deleted"
	TypeMessageRestored = "message.restored"
	TypeReaction        = "reaction.toggled"
	TypeTyping          = "typing"
	TypeSeen            = "seen"
	TypePins            = "pins.changed"
	TypeSaved           = "saved.changed"
	TypeHuddle          = "huddle.changed"
	TypeChannelCreated  = "channel.created"
	TypeChannelInvited  = "channel.invited"
	TypeChannelTopic    = "channel.topic"
	TypeChannelMuted    = "channel.muted"
)

// Delta is the closed set of state changes a tab can announce.
type Delta interface {
	Type() string
	validate() error
}

type MessageCreated struct {
	ChannelID string        `json:"channelId"`
	Message   model.Message `json:"message"`
}

type MessageUpdated struct {
	ChannelID string        `json:"channelId"`
	Message   model.Message `json:"message"`
}

type MessageDeleted struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
}

type MessageRestored struct {
	ChannelID string        `json:"channelId"`
	Message   model.Message `json:"message"`
}

type ReactionToggled struct {
	ChannelID string `json:"channelId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Added     bool   `json:"added"`
}

type Typing struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName,omitempty"`
}

// Seen moves UserID's read cursor in ChannelID to TS.
type Seen struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	TS        int64  `json:"ts"`
}

// PinsChanged carries the full pin set of a channel.
type PinsChanged struct {
	ChannelID  string   `json:"channelId"`
	MessageIDs []string `json:"messageIds"`
}

// SavedChanged carries the full saved set of a user.
type SavedChanged struct {
	UserID     string   `json:"userId"`
	MessageIDs []string `json:"messageIds"`
}

type HuddleChanged struct {
	ChannelID string            `json:"channelId"`
	State     model.HuddleState `json:"state"`
}

type ChannelCreated struct {
	Channel model.Channel `json:"channel"`
}

type ChannelInvited struct {
	ChannelID string   `json:"channelId"`
	UserIDs   []string `json:"userIds"`
}

type ChannelTopicChanged struct {
	ChannelID string `json:"channelId"`
	Topic     string `json:"topic"`
}

type ChannelMutedChanged struct {
	ChannelID string `json:"channelId"`
	Muted     bool   `json:"muted"`
}

func (MessageCreated) Type() string      { return TypeMessageCreated }
func (MessageUpdated) Type() string      { return TypeMessageUpdated }
func (MessageDeleted) Type() string      { return TypeMessageDeleted }
func (MessageRestored) Type() string     { return TypeMessageRestored }
func (ReactionToggled) Type() string     { return TypeReaction }
func (Typing) Type() string              { return TypeTyping }
func (Seen) Type() string                { return TypeSeen }
func (PinsChanged) Type() string         { return TypePins }
func (SavedChanged) Type() string        { return TypeSaved }
func (HuddleChanged) Type() string       { return TypeHuddle }
func (ChannelCreated) Type() string      { return TypeChannelCreated }
func (ChannelInvited) Type() string      { return TypeChannelInvited }
func (ChannelTopicChanged) Type() string { return TypeChannelTopic }
func (ChannelMutedChanged) Type() string { return TypeChannelMuted }

func requireFields(fields ...string) error {
	for i := 0; i+1 < len(fields); i += 2 {
		if fields[i+1] == "" {
			return fmt.Errorf("%w: missing %s", ErrMalformedDelta, fields[i])
		}
	}
	return nil
}

func validMessage(channelID string, m model.Message) error {
	return requireFields("channelId", channelID, "message.id", m.ID)
}

func (d MessageCreated) validate() error  { return validMessage(d.ChannelID, d.Message) }
func (d MessageUpdated) validate() error  { return validMessage(d.ChannelID, d.Message) }
func (d MessageRestored) validate() error { return validMessage(d.ChannelID, d.Message) }
func (d MessageDeleted) validate() error {
	return requireFields("channelId", d.ChannelID, "messageId", d.MessageID)
}
func (d ReactionToggled) validate() error {
	return requireFields("channelId", d.ChannelID, "messageId", d.MessageID, "emoji", d.Emoji, "userId", d.UserID)
}
func (d Typing) validate() error       { return requireFields("channelId", d.ChannelID, "userId", d.UserID) }
func (d Seen) validate() error         { return requireFields("channelId", d.ChannelID, "userId", d.UserID) }
func (d PinsChanged) validate() error  { return requireFields("channelId", d.ChannelID) }
func (d SavedChanged) validate() error { return requireFields("userId", d.UserID) }
func (d HuddleChanged) validate() error {
	return requireFields("channelId", d.ChannelID)
}
func (d ChannelCreated) validate() error      { return requireFields("channel.id", d.Channel.ID) }
func (d ChannelInvited) validate() error      { return requireFields("channelId", d.ChannelID) }
func (d ChannelTopicChanged) validate() error { return requireFields("channelId", d.ChannelID) }
func (d ChannelMutedChanged) validate() error { return requireFields("channelId", d.ChannelID) }

type header struct {
	Type   string `json:"type"`
	Origin string `json:"origin"`
}

// Encode renders d as a flat JSON envelope {"type", "origin", ...fields}.
func Encode(origin string, d Delta) ([]byte, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s delta: %w", d.Type(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s delta: %w", d.Type(), err)
	}
	fields["type"], _ = json.Marshal(d.Type())
	fields["origin"], _ = json.Marshal(origin)
	return json.Marshal(fields)
}

// Decode parses an envelope and validates the payload shape.
func Decode(data []byte) (origin string, d Delta, err error) {
	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}

	switch h.Type {
	case TypeMessageCreated:
		d, err = decodeInto[MessageCreated](data)
	case TypeMessageUpdated:
		d, err = decodeInto[MessageUpdated](data)
	case TypeMessageDeleted:
		d, err = decodeInto[MessageDeleted](data)
	case TypeMessageRestored:
		d, err = decodeInto[MessageRestored](data)
	case TypeReaction:
		d, err = decodeInto[ReactionToggled](data)
	case TypeTyping:
		d, err = decodeInto[Typing](data)
	case TypeSeen:
		d, err = decodeInto[Seen](data)
	case TypePins:
		d, err = decodeInto[PinsChanged](data)
	case TypeSaved:
		d, err = decodeInto[SavedChanged](data)
	case TypeHuddle:
		d, err = decodeInto[HuddleChanged](data)
	case TypeChannelCreated:
		d, err = decodeInto[ChannelCreated](data)
	case TypeChannelInvited:
		d, err = decodeInto[ChannelInvited](data)
	case TypeChannelTopic:
		d, err = decodeInto[ChannelTopicChanged](data)
	case TypeChannelMuted:
		d, err = decodeInto[ChannelMutedChanged](data)
	default:
		return h.Origin, nil, fmt.Errorf("%w: unknown type %q", ErrMalformedDelta, h.Type)
	}
	if err != nil {
		return h.Origin, nil, err
	}
	return h.Origin, d, nil
}

func decodeInto[T Delta](data []byte) (Delta, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDelta, err)
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}
