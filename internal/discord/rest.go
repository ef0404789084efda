// Package discord talks to the chat platform: a REST client for message
// edits and replies, and a gateway client for presence and inbound messages.
package discord

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

	"github.com/ernie/craftwatch/internal/domain"
)

// DefaultAPIBase is the REST API root
const DefaultAPIBase = "https://discord.com/api/v10"

const userAgent = "DiscordBot (https://github.com/ernie/craftwatch, 1.0)"

// APIError is a non-2xx REST response
type APIError struct {
	Status     int
	Code       int    // platform error code, 0 if absent
	Message    string
	RetryAfter time.Duration // set on 429
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("discord api: %d %s (code %d)", e.Status, e.Message, e.Code)
	}
	return fmt.Sprintf("discord api: status %d", e.Status)
}

// Client is a minimal REST client authenticated as a bot
type Client struct {
	base  string
	token string
	http  *http.Client
}

// NewClient creates a REST client; an empty base uses DefaultAPIBase
func NewClient(base, token string, timeout time.Duration) *Client {
	if base == "" {
		base = DefaultAPIBase
	}
	return &Client{
		base:  strings.TrimRight(base, "/"),
		token: token,
		http:  &http.Client{Timeout: timeout},
	}
}

type messageReference struct {
	MessageID       string `json:"message_id"`
	FailIfNotExists bool   `json:"fail_if_not_exists"`
}

type allowedMentions struct {
	Parse       []string `json:"parse"`
	RepliedUser bool     `json:"replied_user"`
}

type messagePayload struct {
	Content          *string           `json:"content,omitempty"`
	Embeds           []domain.Embed    `json:"embeds,omitempty"`
	MessageReference *messageReference `json:"message_reference,omitempty"`
	AllowedMentions  *allowedMentions  `json:"allowed_mentions,omitempty"`
}

type messageResponse struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
}

// EditMessage replaces a message's content with a single embed.
// It returns domain.ErrMessageNotFound when the channel or message is gone.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, view domain.Embed) error {
	empty := ""
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	err := c.do(ctx, http.MethodPatch, path, messagePayload{Content: &empty, Embeds: []domain.Embed{view}}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s/%s", domain.ErrMessageNotFound, channelID, messageID)
	}
	return err
}

// CreateMessage posts a new embed message and returns its reference
func (c *Client) CreateMessage(ctx context.Context, channelID string, view domain.Embed) (domain.MessageRef, error) {
	var resp messageResponse
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, messagePayload{Embeds: []domain.Embed{view}}, &resp); err != nil {
		return domain.MessageRef{}, err
	}
	return domain.MessageRef{ChannelID: resp.ChannelID, MessageID: resp.ID}, nil
}

// SendText replies to a message with plain text. replyTo may be empty.
func (c *Client) SendText(ctx context.Context, channelID, replyTo, text string) error {
	return c.send(ctx, channelID, replyTo, messagePayload{Content: &text})
}

// SendEmbed replies to a message with an embed. replyTo may be empty.
func (c *Client) SendEmbed(ctx context.Context, channelID, replyTo string, view domain.Embed) error {
	return c.send(ctx, channelID, replyTo, messagePayload{Embeds: []domain.Embed{view}})
}

// TriggerTyping shows the typing indicator in a channel for a few seconds
func (c *Client) TriggerTyping(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/typing", nil, nil)
}

func (c *Client) send(ctx context.Context, channelID, replyTo string, payload messagePayload) error {
	if replyTo != "" {
		payload.MessageReference = &messageReference{MessageID: replyTo}
	}
	payload.AllowedMentions = &allowedMentions{Parse: []string{}}
	return c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(channelID)+"/messages", payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

func parseAPIError(resp *http.Response, data []byte) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Code       int     `json:"code"`
		Message    string  `json:"message"`
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Message
		if body.RetryAfter > 0 {
			apiErr.RetryAfter = time.Duration(body.RetryAfter * float64(time.Second))
		}
	}
	return apiErr
}
