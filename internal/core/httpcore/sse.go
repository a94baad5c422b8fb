package httpcore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/loomworks/loom/internal/core"
)

const (
	// maxSSELineSize is the largest single SSE line accepted; longer lines
	// close the connection.
	maxSSELineSize = 64 * 1024

	// maxSSEEventSize is the largest accepted event payload; larger events
	// are discarded.
	maxSSEEventSize = 1024 * 1024
)

// Subscribe opens the push stream and returns decoded events. The channel is
// closed when the stream ends or ctx is canceled.
func (c *Client) Subscribe(ctx context.Context) (<-chan core.Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("X-Subscription-ID", uuid.NewString())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.sseClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer func() { _ = resp.Body.Close() }()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &Error{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	events := make(chan core.Event, 100)
	go c.readEvents(ctx, resp.Body, events)
	return events, nil
}

func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, events chan<- core.Event) {
	defer close(events)
	defer func() { _ = body.Close() }()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, maxSSELineSize), maxSSELineSize)

	var eventType string
	var dataLines []string
	var oversized bool

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" {
			if len(dataLines) > 0 && !oversized {
				if ev, err := decodeEvent(eventType, strings.Join(dataLines, "\n")); err == nil {
					select {
					case events <- ev:
					case <-ctx.Done():
						return
					}
				}
			}
			eventType = ""
			dataLines = nil
			oversized = false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			if oversized {
				continue
			}
			total := len(value)
			for _, l := range dataLines {
				total += len(l) + 1
			}
			if total > maxSSEEventSize {
				oversized = true
				dataLines = nil
				continue
			}
			dataLines = append(dataLines, value)
		}
	}
}

// decodeEvent maps an SSE event type plus JSON payload to a push event.
// Unknown event types are dropped; the backend may be newer than the client.
func decodeEvent(eventType, data string) (core.Event, error) {
	raw := []byte(data)
	var ev core.Event
	var err error
	switch eventType {
	case "message_appended":
		var e core.MessageAppended
		err = json.Unmarshal(raw, &e)
		ev = e
	case "conversation_upserted":
		var e core.ConversationUpserted
		err = json.Unmarshal(raw, &e)
		ev = e
	case "project_upserted":
		var e core.ProjectUpserted
		err = json.Unmarshal(raw, &e)
		ev = e
	case "inbox_item_upserted":
		var e core.InboxItemUpserted
		err = json.Unmarshal(raw, &e)
		ev = e
	case "project_status_changed":
		var e core.ProjectStatusChanged
		err = json.Unmarshal(raw, &e)
		ev = e
	case "active_conversations_changed":
		var e core.ActiveConversationsChanged
		err = json.Unmarshal(raw, &e)
		ev = e
	case "profile_updated":
		var e core.ProfileUpdated
		err = json.Unmarshal(raw, &e)
		ev = e
	case "stream_delta":
		var e core.StreamDelta
		err = json.Unmarshal(raw, &e)
		ev = e
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	if err != nil {
		return nil, err
	}
	return ev, nil
}
