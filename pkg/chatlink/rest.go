package chatlink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RESTClient talks to the chat HTTP API the reconciler seeds its initial
// state from: conversation list, history, the HTTP send fallback,
// mark-as-read and the unread counter. Transient failures (network errors,
// 5xx) are retried with exponential backoff; 4xx are not.
type RESTClient struct {
	base       string
	token      string
	http       *http.Client
	maxElapsed time.Duration
}

func NewRESTClient(baseURL, token string) *RESTClient {
	return &RESTClient{
		base:       baseURL,
		token:      token,
		http:       &http.Client{Timeout: 15 * time.Second},
		maxElapsed: 30 * time.Second,
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("chat api: status %d: %s", e.status, e.body)
}

func (c *RESTClient) do(ctx context.Context, method, path string, body any, out any) error {
	operation := func() error {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return backoff.Permanent(err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &httpStatusError{status: resp.StatusCode, body: string(data)}
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(&httpStatusError{status: resp.StatusCode, body: string(data)})
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}

// Conversations fetches the conversation list.
func (c *RESTClient) Conversations(ctx context.Context) ([]ConversationSummary, error) {
	var out []ConversationSummary
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// History fetches the message history with one other participant.
func (c *RESTClient) History(ctx context.Context, otherUserID int64) ([]Message, error) {
	var out struct {
		Messages []Message `json:"messages"`
	}
	path := "/api/chat/conversation/" + strconv.FormatInt(otherUserID, 10)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// Send posts a message over HTTP. Used as the fallback path when the
// realtime session is down; the response carries the authoritative message.
func (c *RESTClient) Send(ctx context.Context, content string, receiverID int64) (Message, error) {
	payload := map[string]any{
		"content":    content,
		"receiverId": receiverID,
	}
	var out Message
	if err := c.do(ctx, http.MethodPost, "/api/chat/send", payload, &out); err != nil {
		return Message{}, err
	}
	return out, nil
}

// MarkRead marks every message in the conversation as read.
func (c *RESTClient) MarkRead(ctx context.Context, conversationID int64) error {
	path := "/api/chat/conversation/" + strconv.FormatInt(conversationID, 10) + "/read"
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// UnreadCount fetches the total number of unread messages.
func (c *RESTClient) UnreadCount(ctx context.Context) (int, error) {
	var out int
	if err := c.do(ctx, http.MethodGet, "/api/chat/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out, nil
}
