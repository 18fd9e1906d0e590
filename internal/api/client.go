// Package api implements the HTTP transport to the chat service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/MegaGrindStone/chatstream/internal/models"
)

// ErrUnexpectedStatus is wrapped by every *Error.
var ErrUnexpectedStatus = errors.New("unexpected status code")

// Error is returned when the service answers with a non-success status. Message holds the service's
// {"error": ...} text verbatim, if the body carried one.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %d", ErrUnexpectedStatus, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return ErrUnexpectedStatus
}

// Client talks to the chat service rooted at a base URL.
type Client struct {
	baseURL string
	client  *http.Client

	logger *slog.Logger
}

type chatsResponse struct {
	Chats []models.Chat `json:"chats"`
}

type chatResponse struct {
	Chat     models.Chat      `json:"chat"`
	Messages []models.Message `json:"messages"`
}

type createChatRequest struct {
	Title string `json:"title,omitempty"`
}

type sendMessageRequest struct {
	Message models.Message `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

const errorBodyLimit = 64 * 1024

// NewHTTPClient returns an HTTP client with a cookie jar, so session cookies set by the service are sent
// back on every request.
func NewHTTPClient() *http.Client {
	// cookiejar.New only fails on a non-nil Options with a broken public suffix list.
	jar, _ := cookiejar.New(nil)
	return &http.Client{Jar: jar}
}

// NewClient creates a client for the service at baseURL. A nil httpClient is replaced with NewHTTPClient.
// The http.Client must not have a Timeout: it would cut long replies short. Deadlines are the caller's
// business, through the context.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  httpClient,
		logger:  logger.With(slog.String("module", "api")),
	}
}

// Chats returns every conversation of the user.
func (c *Client) Chats(ctx context.Context) ([]models.Chat, error) {
	var res chatsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/chats", nil, &res); err != nil {
		return nil, err
	}
	return res.Chats, nil
}

// Chat returns the conversation with the given id and its canonical transcript.
func (c *Client) Chat(ctx context.Context, chatID string) (models.Chat, []models.Message, error) {
	var res chatResponse
	if err := c.doJSON(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &res); err != nil {
		return models.Chat{}, nil, err
	}
	return res.Chat, res.Messages, nil
}

// CreateChat creates a conversation. An empty title lets the service pick one.
func (c *Client) CreateChat(ctx context.Context, title string) (models.Chat, error) {
	var res chatResponse
	if err := c.doJSON(ctx, http.MethodPost, "/chats", createChatRequest{Title: title}, &res); err != nil {
		return models.Chat{}, err
	}
	return res.Chat, nil
}

// DeleteChat deletes the conversation with the given id.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil)
}

// SendMessage posts msg to the conversation and returns the body of the streamed reply once the service
// answered with a success status. The caller must close the body. Cancelling ctx aborts the stream.
func (c *Client) SendMessage(ctx context.Context, chatID string, msg models.Message) (io.ReadCloser, error) {
	body, err := json.Marshal(sendMessageRequest{Message: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	path := "/conversation/" + url.PathEscape(chatID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("Sending message", slog.String("chatID", chatID), slog.Int("length", len(msg.Content)))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, responseError(resp)
	}
	return resp.Body, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Response", slog.String("method", method), slog.String("path", path),
		slog.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response of %s %s: %w", method, path, err)
	}
	return nil
}

func responseError(resp *http.Response) error {
	apiErr := &Error{StatusCode: resp.StatusCode}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
	var res errorResponse
	if err := json.Unmarshal(body, &res); err == nil {
		apiErr.Message = res.Error
	}
	return apiErr
}

// Message returns the text to show to a user for err: the service's own message for an *Error, the
// error text otherwise.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
