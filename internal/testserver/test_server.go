package testserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rpggio/dutylog/internal/app"
	"github.com/rpggio/dutylog/internal/auth"
	"github.com/rpggio/dutylog/internal/config"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/ingest"
	"github.com/stretchr/testify/require"
)

const (
	ChannelID  = "channel-1"
	ProducerID = "bot-1"
)

// TestServer runs the full stack on an in-memory SQLite store.
type TestServer struct {
	Server     *httptest.Server
	App        *app.App
	Source     *FakeSource
	AdminToken string
	StaffToken string
}

type settings struct {
	mutate func(*config.Config)
	clock  protocol.Clock
}

// Option customizes New.
type Option func(*settings)

// WithConfig edits the configuration before the stack is built.
func WithConfig(fn func(*config.Config)) Option {
	return func(s *settings) { s.mutate = fn }
}

// WithClock pins the clock of every service.
func WithClock(c protocol.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// New starts a server with auth, ingestion from a FakeSource and MCP enabled.
func New(t *testing.T, opts ...Option) *TestServer {
	t.Helper()

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	cfg := config.Default()
	cfg.DB = config.DBConfig{Driver: "sqlite", DSN: ":memory:"}
	cfg.Auth.Secret = "test-secret"
	cfg.Protocols.Timezone = "UTC"
	cfg.Discord.ChannelID = ChannelID
	cfg.Discord.ProducerID = ProducerID
	if s.mutate != nil {
		s.mutate(&cfg)
	}

	source := &FakeSource{}
	appOpts := []app.Option{app.WithSource(source)}
	if s.clock != nil {
		appOpts = append(appOpts, app.WithClock(s.clock))
	}

	a, err := app.New(context.Background(), cfg, nil, appOpts...)
	require.NoError(t, err)

	server := httptest.NewServer(a.Handler())
	ts := &TestServer{Server: server, App: a, Source: source}

	if a.Issuer != nil {
		ts.AdminToken, err = a.Issuer.Issue("admin-1", "Chefe", auth.RoleAdmin)
		require.NoError(t, err)
		ts.StaffToken, err = a.Issuer.Issue("staff-1", "Ana", auth.RoleStaff)
		require.NoError(t, err)
	}

	t.Cleanup(func() {
		server.Close()
		_ = a.Close()
	})
	return ts
}

// Do sends a JSON request and returns the response. The body is closed at
// test cleanup.
func (ts *TestServer) Do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.Server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// Decode reads a JSON response body into T.
func Decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// FakeSource serves queued messages newest first, like a channel history.
type FakeSource struct {
	mu       sync.Mutex
	messages []ingest.Message
	err      error
	calls    int
}

// Post appends a message to the channel.
func (f *FakeSource) Post(msg ingest.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
}

// Fail makes every fetch return err. Nil clears it.
func (f *FakeSource) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Calls returns the number of fetches so far.
func (f *FakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeSource) FetchRecent(ctx context.Context, channelID string, limit int) ([]ingest.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if channelID != ChannelID {
		return nil, nil
	}

	out := make([]ingest.Message, 0, limit)
	for i := len(f.messages) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.messages[i])
	}
	return out, nil
}

// FixedClock is a settable clock.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixedClock returns a clock stopped at now.
func NewFixedClock(now time.Time) *FixedClock { return &FixedClock{now: now} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
