// Package api is the REST client for the channel, message, pin and save services.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatSync/config"
	"github.com/Gopher0727/ChatSync/internal/model"
)

// ErrUnexpectedStatus wraps every non-2xx response.
var ErrUnexpectedStatus = errors.New("unexpected response status")

const maxErrorBody = 512

// Client talks to the chat backend over HTTP with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg *config.APIConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "api")),
	}
}

type createChannelRequest struct {
	Name      string   `json:"name"`
	MemberIDs []string `json:"memberIds,omitempty"`
}

type sendRequest struct {
	Text             string   `json:"text"`
	ReplyToMessageID string   `json:"replyToMessageId,omitempty"`
	ThreadParentID   string   `json:"threadParentId,omitempty"`
	FileIDs          []string `json:"fileIds,omitempty"`
}

type editRequest struct {
	Text string `json:"text"`
}

type dmRoomRequest struct {
	ParticipantIDs []string `json:"participantIds"`
}

// DMRoom is the server-side room backing a direct-message conversation.
type DMRoom struct {
	ID string `json:"id"`
}

func (c *Client) ListChannels(ctx context.Context, projectID string) ([]model.Channel, error) {
	var out []model.Channel
	err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID)+"/channels", nil, &out)
	return out, err
}

func (c *Client) CreateChannel(ctx context.Context, projectID, name string, memberIDs []string) (model.Channel, error) {
	var out model.Channel
	err := c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(projectID)+"/channels",
		createChannelRequest{Name: name, MemberIDs: memberIDs}, &out)
	return out, err
}

func (c *Client) ListMessages(ctx context.Context, channelID string) ([]model.WireMessage, error) {
	var out []model.WireMessage
	err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/messages", nil, &out)
	return out, err
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID, text string, opts model.SendOptions) (model.WireMessage, error) {
	var out model.WireMessage
	err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", sendRequest{
		Text:             text,
		ReplyToMessageID: opts.ReplyToMessageID,
		ThreadParentID:   opts.ThreadParentID,
	}, &out)
	return out, err
}

func (c *Client) SendThreadMessage(ctx context.Context, parentID, text string) (model.WireMessage, error) {
	var out model.WireMessage
	err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(parentID)+"/thread", sendRequest{Text: text}, &out)
	return out, err
}

func (c *Client) SendDMMessage(ctx context.Context, roomID, text string, opts model.SendOptions) (model.WireMessage, error) {
	var out model.WireMessage
	err := c.do(ctx, http.MethodPost, "/dm/"+url.PathEscape(roomID)+"/messages", sendRequest{
		Text:             text,
		ReplyToMessageID: opts.ReplyToMessageID,
		FileIDs:          opts.FileIDs,
	}, &out)
	return out, err
}

func (c *Client) GetOrCreateDMRoom(ctx context.Context, participantIDs []string) (DMRoom, error) {
	var out DMRoom
	err := c.do(ctx, http.MethodPost, "/dm", dmRoomRequest{ParticipantIDs: participantIDs}, &out)
	return out, err
}

func (c *Client) EditMessage(ctx context.Context, messageID, text string) (model.WireMessage, error) {
	var out model.WireMessage
	err := c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(messageID), editRequest{Text: text}, &out)
	return out, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, nil)
}

func (c *Client) GetPinnedMessages(ctx context.Context, channelID string) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID)+"/pins", nil, &out)
	return out, err
}

func (c *Client) GetSavedMessages(ctx context.Context) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/saved", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: %w %d: %s", method, path, ErrUnexpectedStatus, resp.StatusCode,
			strings.TrimSpace(string(snippet)))
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: failed to decode response: %w", method, path, err)
	}
	return nil
}
