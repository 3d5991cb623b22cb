package engage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.NoError(json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, nil)
	err := n.Notify(context.Background(), Event{
		Kind:     "comment",
		Mode:     "intake",
		ThreadID: "p1",
		Title:    "Sensor networks",
		Submolt:  "general",
		Content:  "We route reports.",
		DryRun:   true,
	})
	require.NoError(err)
	assert.Contains(got.Text, "Moltbook comment (dry-run)")
	assert.Contains(got.Text, "Mode: `intake`")
	assert.Contains(got.Text, "Submolt: `m/general`")
	assert.Contains(got.Text, "```We route reports.```")
}

func TestSlackNotifierRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("no_service"))
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL, nil)
	assert.Error(t, n.Notify(context.Background(), Event{Kind: "post"}))
}
