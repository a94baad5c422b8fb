package httpcore_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/core/httpcore"
)

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/stream", r.URL.Path)
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NotEmpty(t, r.Header.Get("X-Subscription-ID"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(body))
	}))
}

func collect(t *testing.T, events <-chan core.Event) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining events")
		}
	}
}

func TestSubscribe_DecodesEvents(t *testing.T) {
	body := "event: message_appended\n" +
		`data: {"message":{"id":"m1","conversation_id":"c1","author":"alice","content":"hi","created_at":100}}` + "\n" +
		"\n" +
		"event: project_status_changed\n" +
		`data: {"project_id":"p1","online":true}` + "\n" +
		"\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	out := collect(t, events)
	require.Len(t, out, 2)

	appended, ok := out[0].(core.MessageAppended)
	require.True(t, ok)
	require.Equal(t, "m1", appended.Message.ID)
	require.Equal(t, "message_appended", appended.Kind())

	status, ok := out[1].(core.ProjectStatusChanged)
	require.True(t, ok)
	require.True(t, status.Online)
}

func TestSubscribe_MultilineDataJoined(t *testing.T) {
	body := "event: profile_updated\n" +
		`data: {"agent_id":"a1",` + "\n" +
		`data: "name":"Planner"}` + "\n" +
		"\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	out := collect(t, events)
	require.Len(t, out, 1)
	profile, ok := out[0].(core.ProfileUpdated)
	require.True(t, ok)
	require.Equal(t, "Planner", profile.Name)
}

func TestSubscribe_UnknownEventTypeDropped(t *testing.T) {
	body := "event: something_new\n" +
		`data: {}` + "\n" +
		"\n" +
		"event: profile_updated\n" +
		`data: {"agent_id":"a1","name":"n"}` + "\n" +
		"\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	out := collect(t, events)
	require.Len(t, out, 1)
	_, ok := out[0].(core.ProfileUpdated)
	require.True(t, ok)
}

func TestSubscribe_CommentsAndMalformedLinesIgnored(t *testing.T) {
	body := ": keepalive\n" +
		"not-a-field\n" +
		"event: profile_updated\n" +
		`data: {"agent_id":"a1","name":"n"}` + "\n" +
		"\n"
	srv := sseServer(t, body)
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	require.Len(t, collect(t, events), 1)
}

func TestSubscribe_OversizedEventDiscarded(t *testing.T) {
	huge := strings.Repeat("x", 40*1024)
	var b strings.Builder
	b.WriteString("event: profile_updated\n")
	// 40 data lines of 40KB exceed the 1MB event limit.
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "data: %s\n", huge)
	}
	b.WriteString("\n")
	b.WriteString("event: profile_updated\n")
	b.WriteString(`data: {"agent_id":"a1","name":"n"}` + "\n")
	b.WriteString("\n")

	srv := sseServer(t, b.String())
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	events, err := c.Subscribe(context.Background())
	require.NoError(t, err)

	out := collect(t, events)
	require.Len(t, out, 1, "only the small event survives")
}

func TestSubscribe_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	_, err := c.Subscribe(context.Background())
	require.Error(t, err)

	var herr *httpcore.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, http.StatusUnauthorized, herr.StatusCode)
}
