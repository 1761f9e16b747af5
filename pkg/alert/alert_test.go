package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/YK8349/X-favo-manager/pkg/importer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBatch() *importer.BatchResult {
	return &importer.BatchResult{
		RunID:   "run-1",
		Summary: importer.Summary{Added: 1, Skipped: 1, Failed: 1},
		Details: []importer.ItemResult{
			{Name: "a.mhtml", Status: importer.StatusAdded, SourceURL: "https://x.com/a/status/1", PostID: 1},
			{Name: "b.mhtml", Status: importer.StatusSkipped, Reason: importer.SkipReason},
			{Name: "c.mhtml", Status: importer.StatusFailed, Stage: importer.StageDecode, Error: "no HTML content found"},
		},
	}
}

func TestFromBatch(t *testing.T) {
	n := FromBatch("Inbox import", sampleBatch())

	assert.Equal(t, "Inbox import", n.Title)
	assert.Equal(t, "run-1", n.RunID)
	assert.Equal(t, "added 1, skipped 1, failed 1", n.Body)
	require.Len(t, n.Added, 1)
	assert.Equal(t, "a.mhtml", n.Added[0].Name)
	require.Len(t, n.Failed, 1)
	assert.Equal(t, "c.mhtml", n.Failed[0].Name)
}

func TestWebhookSignsPayload(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotTS   string
		gotEvt  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature-256")
		gotTS = r.Header.Get("X-Xfavo-Timestamp")
		gotEvt = r.Header.Get("X-Xfavo-Event")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, "s3cret")
	wh.now = func() time.Time { return time.Unix(1700000000, 0) }

	require.NoError(t, wh.Send(context.Background(), FromBatch("t", sampleBatch())))

	assert.Equal(t, "import.finished", gotEvt)
	assert.Equal(t, "1700000000", gotTS)
	assert.Equal(t, "sha256="+Sign("s3cret", gotTS, gotBody), gotSig)

	var decoded Notification
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, 1, decoded.Summary.Added)
}

func TestWebhookWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("X-Signature-256"))
	}))
	defer srv.Close()

	assert.NoError(t, NewWebhook(srv.URL, "").Send(context.Background(), FromBatch("t", sampleBatch())))
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, "").Send(context.Background(), FromBatch("t", sampleBatch()))
	assert.ErrorContains(t, err, "502")
}

func TestSign(t *testing.T) {
	a := Sign("k", "1", []byte("body"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, Sign("k", "1", []byte("body")))
	assert.NotEqual(t, a, Sign("k", "2", []byte("body")))
	assert.NotEqual(t, a, Sign("other", "1", []byte("body")))
}

func TestSlackBlocks(t *testing.T) {
	var payload struct {
		Blocks []map[string]any `json:"blocks"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	require.NoError(t, NewSlack(srv.URL).Send(context.Background(), FromBatch("Inbox import", sampleBatch())))

	require.Len(t, payload.Blocks, 4)
	assert.Equal(t, "header", payload.Blocks[0]["type"])
	raw, _ := json.Marshal(payload.Blocks)
	assert.Contains(t, string(raw), "https://x.com/a/status/1")
	assert.True(t, strings.Contains(string(raw), "c.mhtml"))
}

type recorder struct {
	name string
	err  error
	got  []*Notification
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) Send(_ context.Context, n *Notification) error {
	r.got = append(r.got, n)
	return r.err
}

func TestManagerBroadcast(t *testing.T) {
	ok := &recorder{name: "ok"}
	bad := &recorder{name: "bad", err: errors.New("down")}
	m := NewManager([]Notifier{bad, ok})
	require.True(t, m.HasNotifiers())

	err := m.Broadcast(context.Background(), FromBatch("t", sampleBatch()))
	assert.ErrorContains(t, err, "bad: down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)

	assert.False(t, NewManager(nil).HasNotifiers())
}
