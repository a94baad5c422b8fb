// Package httpcore implements the backend client over HTTP and SSE.
package httpcore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
)

// DefaultTimeout is the request timeout for non-streaming calls.
const DefaultTimeout = 10 * time.Second

// maxResponseSize bounds response body reads.
const maxResponseSize = 10 * 1024 * 1024

// Error is a non-2xx response from the backend.
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Body)
}

// Client talks to the backend over HTTP. It satisfies core.Client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	sseClient  *http.Client
}

// New creates a client. apiKey may be empty for unauthenticated backends.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		// No timeout: the SSE connection is long-lived.
		sseClient: &http.Client{},
	}
}

// FetchProjects returns all projects visible to the user.
func (c *Client) FetchProjects(ctx context.Context) ([]project.Project, error) {
	var out []project.Project
	if err := c.get(ctx, "/v1/projects", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchConversations returns conversations matching the filter.
func (c *Client) FetchConversations(ctx context.Context, filter core.ConversationFilter) ([]conversation.Conversation, error) {
	q := url.Values{}
	for _, id := range filter.ProjectIDs {
		q.Add("project_id", id)
	}
	if filter.IncludeArchived {
		q.Set("include_archived", "true")
	}
	if filter.IncludeScheduled {
		q.Set("include_scheduled", "true")
	}
	if filter.Since > 0 {
		q.Set("since", strconv.FormatInt(filter.Since, 10))
	}
	var out []conversation.Conversation
	if err := c.get(ctx, "/v1/conversations", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchMessages returns all messages for one conversation.
func (c *Client) FetchMessages(ctx context.Context, conversationID string) ([]conversation.Message, error) {
	var out []conversation.Message
	path := "/v1/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchProjectOnline returns the online flag for one project.
func (c *Client) FetchProjectOnline(ctx context.Context, projectID string) (bool, error) {
	var out struct {
		Online bool `json:"online"`
	}
	path := "/v1/projects/" + url.PathEscape(projectID) + "/status"
	if err := c.get(ctx, path, nil, &out); err != nil {
		return false, err
	}
	return out.Online, nil
}

// FetchOnlineAgents returns the online-agent roster for one project.
func (c *Client) FetchOnlineAgents(ctx context.Context, projectID string) ([]project.Agent, error) {
	var out []project.Agent
	path := "/v1/projects/" + url.PathEscape(projectID) + "/agents"
	if err := c.get(ctx, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
