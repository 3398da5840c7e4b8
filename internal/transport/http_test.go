package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rpggio/dutylog/internal/auth"
	"github.com/rpggio/dutylog/internal/domain/audit"
	"github.com/rpggio/dutylog/internal/domain/protocol"
	"github.com/rpggio/dutylog/internal/ingest"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProtocols struct {
	mock.Mock
}

func (m *mockProtocols) Create(ctx context.Context, req protocol.CreateRequest) (*protocol.Protocol, error) {
	args := m.Called(ctx, req)
	if p, ok := args.Get(0).(*protocol.Protocol); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) Get(ctx context.Context, id string) (*protocol.Protocol, error) {
	args := m.Called(ctx, id)
	if p, ok := args.Get(0).(*protocol.Protocol); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) Update(ctx context.Context, req protocol.UpdateRequest) (*protocol.Protocol, error) {
	args := m.Called(ctx, req)
	if p, ok := args.Get(0).(*protocol.Protocol); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) Finalize(ctx context.Context, req protocol.FinalizeRequest) (*protocol.Protocol, error) {
	args := m.Called(ctx, req)
	if p, ok := args.Get(0).(*protocol.Protocol); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) Delete(ctx context.Context, req protocol.DeleteRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockProtocols) List(ctx context.Context, opts protocol.ListOptions) ([]protocol.Protocol, error) {
	args := m.Called(ctx, opts)
	if items, ok := args.Get(0).([]protocol.Protocol); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) ListOpenOlderThan(ctx context.Context, threshold time.Duration) ([]protocol.Protocol, error) {
	args := m.Called(ctx, threshold)
	if items, ok := args.Get(0).([]protocol.Protocol); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockProtocols) Summary(ctx context.Context) (protocol.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(protocol.Summary), args.Error(1)
}

func (m *mockProtocols) Ranking(ctx context.Context, filter string) ([]protocol.PilotTotal, error) {
	args := m.Called(ctx, filter)
	if items, ok := args.Get(0).([]protocol.PilotTotal); ok {
		return items, args.Error(1)
	}
	return nil, args.Error(1)
}

type stubAudit struct {
	entries []audit.Entry
}

func (s *stubAudit) History(_ context.Context, protocolID string, _ int) ([]audit.Entry, error) {
	if protocolID == "" {
		return nil, audit.ErrInvalidInput
	}
	return s.entries, nil
}

type stubSync struct {
	report ingest.CycleReport
	err    error
	seen   map[string]bool
}

func (s *stubSync) RunOnce(context.Context) (ingest.CycleReport, error) {
	return s.report, s.err
}

func (s *stubSync) IsIngested(id string) bool { return s.seen[id] }

func (s *stubSync) LastReport() (ingest.CycleReport, bool) {
	return s.report, !s.report.StartedAt.IsZero()
}

var testVerifierTokens = map[string]auth.Principal{
	"admin": {Subject: "a1", Name: "Chefe", Role: auth.RoleAdmin},
	"staff": {Subject: "s1", Name: "Ana", Role: auth.RoleStaff},
}

func newTestServer(t *testing.T, protocols *mockProtocols, sync SyncService) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewServer(Config{
		Protocols:      protocols,
		Audit:          &stubAudit{entries: []audit.Entry{{ID: 1, ProtocolID: "p1", Action: audit.ActionCreate}}},
		Sync:           sync,
		AuthMiddleware: AuthMiddleware(&testVerifier{principals: testVerifierTokens}),
	}))
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, server *httptest.Server, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, server.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHTTPServer_Health(t *testing.T) {
	server := httptest.NewServer(NewServer(Config{}))
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPServer_RequiresToken(t *testing.T) {
	server := newTestServer(t, &mockProtocols{}, nil)

	resp := do(t, server, http.MethodGet, "/api/v1/protocols", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTPServer_CreateProtocol(t *testing.T) {
	protocols := &mockProtocols{}
	server := newTestServer(t, protocols, nil)

	start := civil.Time{Hour: 23, Minute: 30}
	end := civil.Time{Minute: 15}
	created := &protocol.Protocol{ID: "p1", Pilot: "Ana", Status: protocol.StatusFinalized, Duration: 2700}

	protocols.On("Create", mock.Anything, mock.MatchedBy(func(req protocol.CreateRequest) bool {
		return req.Pilot == "Ana" &&
			req.Date == civil.Date{Year: 2024, Month: time.January, Day: 10} &&
			*req.Start == start && *req.End == end &&
			req.Status == "" && req.Actor == "Ana"
	})).Return(created, nil)

	resp := do(t, server, http.MethodPost, "/api/v1/protocols", "staff", map[string]any{
		"pilot":   "Ana",
		"vehicle": "Yamara Tenere",
		"date":    "2024-01-10",
		"start":   "23:30",
		"end":     "00:15",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	got := decode[protocol.Protocol](t, resp)
	require.Equal(t, int64(2700), got.Duration)
	protocols.AssertExpectations(t)
}

func TestHTTPServer_CreateProtocol_BadInput(t *testing.T) {
	server := newTestServer(t, &mockProtocols{}, nil)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad date", map[string]any{"pilot": "Ana", "vehicle": "V", "date": "10/01/2024", "start": "10:00"}},
		{"bad start", map[string]any{"pilot": "Ana", "vehicle": "V", "date": "2024-01-10", "start": "25:00"}},
		{"bad status", map[string]any{"pilot": "Ana", "vehicle": "V", "date": "2024-01-10", "start": "10:00", "status": "DONE"}},
		{"unknown field", map[string]any{"pilot": "Ana", "nickname": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, server, http.MethodPost, "/api/v1/protocols", "staff", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decode[ErrorBody](t, resp)
			require.Equal(t, "validation", body.Error.Code)
		})
	}
}

func TestHTTPServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", protocol.ErrEndRequired, http.StatusBadRequest},
		{"not found", protocol.ErrNotFound, http.StatusNotFound},
		{"not open", protocol.ErrNotOpen, http.StatusConflict},
		{"concurrent", protocol.ErrConcurrentWrite, http.StatusConflict},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			protocols := &mockProtocols{}
			protocols.On("Finalize", mock.Anything, mock.Anything).Return(nil, tt.err)
			server := newTestServer(t, protocols, nil)

			resp := do(t, server, http.MethodPost, "/api/v1/protocols/p1/finalize", "staff", map[string]any{"end": "12:00"})
			require.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHTTPServer_Finalize(t *testing.T) {
	protocols := &mockProtocols{}
	end := civil.Time{Hour: 12}
	protocols.On("Finalize", mock.Anything, protocol.FinalizeRequest{
		ID: "p1", End: &end, Status: protocol.StatusWarning, Actor: "Ana",
	}).Return(&protocol.Protocol{ID: "p1", Status: protocol.StatusWarning}, nil)
	server := newTestServer(t, protocols, nil)

	resp := do(t, server, http.MethodPost, "/api/v1/protocols/p1/finalize", "staff", map[string]any{
		"end": "12:00", "status": "warning",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	protocols.AssertExpectations(t)
}

func TestHTTPServer_DeleteRequiresAdmin(t *testing.T) {
	protocols := &mockProtocols{}
	protocols.On("Delete", mock.Anything, protocol.DeleteRequest{
		ID: "p1", Actor: "Chefe", ActorRole: "admin",
	}).Return(nil)
	server := newTestServer(t, protocols, nil)

	resp := do(t, server, http.MethodDelete, "/api/v1/protocols/p1", "staff", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = do(t, server, http.MethodDelete, "/api/v1/protocols/p1", "admin", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	protocols.AssertNumberOfCalls(t, "Delete", 1)
}

func TestHTTPServer_ListProtocols(t *testing.T) {
	protocols := &mockProtocols{}
	from := civil.Date{Year: 2024, Month: time.January, Day: 1}
	protocols.On("List", mock.Anything, protocol.ListOptions{
		Statuses: []protocol.Status{protocol.StatusOpen, protocol.StatusFinalized},
		Pilot:    "Ana",
		From:     &from,
		Limit:    5,
	}).Return([]protocol.Protocol{{ID: "p1"}}, nil)
	server := newTestServer(t, protocols, nil)

	resp := do(t, server, http.MethodGet, "/api/v1/protocols?status=open,finalized&pilot=Ana&from=2024-01-01&limit=5", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := decode[[]protocol.Protocol](t, resp)
	require.Len(t, items, 1)

	resp = do(t, server, http.MethodGet, "/api/v1/protocols?limit=-1", "staff", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPServer_Stale(t *testing.T) {
	protocols := &mockProtocols{}
	protocols.On("ListOpenOlderThan", mock.Anything, 90*time.Minute).Return([]protocol.Protocol{{ID: "p1"}}, nil)
	protocols.On("ListOpenOlderThan", mock.Anything, 12*time.Hour).Return([]protocol.Protocol{}, nil)
	server := newTestServer(t, protocols, nil)

	resp := do(t, server, http.MethodGet, "/api/v1/protocols/stale?older_than=90m", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]protocol.Protocol](t, resp), 1)

	resp = do(t, server, http.MethodGet, "/api/v1/protocols/stale", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, server, http.MethodGet, "/api/v1/protocols/stale?older_than=soon", "staff", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTPServer_StatsAndAudit(t *testing.T) {
	protocols := &mockProtocols{}
	protocols.On("Summary", mock.Anything).Return(protocol.Summary{Total: 3, Finalized: 2}, nil)
	protocols.On("Ranking", mock.Anything, "an").Return([]protocol.PilotTotal{{Pilot: "Ana", Seconds: 60}}, nil)
	server := newTestServer(t, protocols, nil)

	resp := do(t, server, http.MethodGet, "/api/v1/stats/summary", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, decode[protocol.Summary](t, resp).Total)

	resp = do(t, server, http.MethodGet, "/api/v1/stats/ranking?search=an", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Ana", decode[[]protocol.PilotTotal](t, resp)[0].Pilot)

	resp = do(t, server, http.MethodGet, "/api/v1/protocols/p1/audit?limit=10", "staff", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decode[[]audit.Entry](t, resp), 1)
}

func TestHTTPServer_Sync(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		server := newTestServer(t, &mockProtocols{}, nil)
		resp := do(t, server, http.MethodPost, "/api/v1/sync/run", "admin", nil)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("run", func(t *testing.T) {
		sync := &stubSync{
			report: ingest.CycleReport{StartedAt: time.Now(), Fetched: 2, Created: 1},
			seen:   map[string]bool{"m1": true},
		}
		server := newTestServer(t, &mockProtocols{}, sync)

		resp := do(t, server, http.MethodPost, "/api/v1/sync/run", "staff", nil)
		require.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = do(t, server, http.MethodPost, "/api/v1/sync/run", "admin", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, decode[ingest.CycleReport](t, resp).Created)

		resp = do(t, server, http.MethodGet, "/api/v1/sync/messages/m1", "staff", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, true, decode[map[string]any](t, resp)["ingested"])

		resp = do(t, server, http.MethodGet, "/api/v1/sync/last", "staff", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("busy", func(t *testing.T) {
		server := newTestServer(t, &mockProtocols{}, &stubSync{err: ingest.ErrCycleInProgress})
		resp := do(t, server, http.MethodPost, "/api/v1/sync/run", "admin", nil)
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("fetch failure", func(t *testing.T) {
		server := newTestServer(t, &mockProtocols{}, &stubSync{
			report: ingest.CycleReport{StartedAt: time.Now(), Error: "boom"},
			err:    ingest.ErrFetch,
		})
		resp := do(t, server, http.MethodPost, "/api/v1/sync/run", "admin", nil)
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}
