package httpcore_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/core"
	"github.com/loomworks/loom/internal/core/httpcore"
	"github.com/loomworks/loom/internal/domain/conversation"
	"github.com/loomworks/loom/internal/domain/project"
)

func TestClient_FetchProjects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/projects", r.URL.Path)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode([]project.Project{{ID: "p1", Title: "alpha"}})
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "secret")
	projects, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
	require.Len(t, projects, 1)
	require.Equal(t, "alpha", projects[0].Title)
}

func TestClient_FetchConversations_QueryParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/conversations", r.URL.Path)
		q := r.URL.Query()
		require.Equal(t, []string{"p1", "p2"}, q["project_id"])
		require.Equal(t, "true", q.Get("include_archived"))
		require.Equal(t, "12345", q.Get("since"))
		_ = json.NewEncoder(w).Encode([]conversation.Conversation{{ID: "c1", ProjectID: "p1"}})
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	convs, err := c.FetchConversations(context.Background(), core.ConversationFilter{
		ProjectIDs:      []string{"p1", "p2"},
		IncludeArchived: true,
		Since:           12345,
	})
	require.NoError(t, err)
	require.Len(t, convs, 1)
}

func TestClient_FetchMessages_EscapesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/conversations/c%2F1/messages", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode([]conversation.Message{{ID: "m1"}})
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	msgs, err := c.FetchMessages(context.Background(), "c/1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestClient_FetchProjectOnline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/projects/p1/status", r.URL.Path)
		_, _ = w.Write([]byte(`{"online": true}`))
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	online, err := c.FetchProjectOnline(context.Background(), "p1")
	require.NoError(t, err)
	require.True(t, online)
}

func TestClient_NonSuccessStatusReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL, "")
	_, err := c.FetchProjects(context.Background())
	require.Error(t, err)

	var herr *httpcore.Error
	require.ErrorAs(t, err, &herr)
	require.Equal(t, http.StatusForbidden, herr.StatusCode)
	require.Equal(t, "nope", herr.Body)
}

func TestClient_TrailingSlashBaseURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/projects", r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := httpcore.New(srv.URL+"/", "")
	_, err := c.FetchProjects(context.Background())
	require.NoError(t, err)
}
