package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ohmage/streamwriter/internal/delivery"
	"github.com/ohmage/streamwriter/internal/infrastructure/config"
	"github.com/ohmage/streamwriter/internal/infrastructure/database"
	"github.com/ohmage/streamwriter/internal/infrastructure/logging"
	"github.com/ohmage/streamwriter/internal/store"
	"github.com/ohmage/streamwriter/internal/stream"
	"github.com/ohmage/streamwriter/internal/writer"
	_ "github.com/ohmage/streamwriter/migrations" // Registers the stream_points schema
)

type checkFunc func(ctx context.Context) error

func (f checkFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// testEnv is a server over a migrated store in a temp directory.
type testEnv struct {
	srv   *Server
	store *store.Store
	db    *database.DB
}

func newTestEnv(t *testing.T, mode string, mutate func(*Deps)) *testEnv {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "streams.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	s := store.New(db, store.WithUsername("tester"))

	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "discard"}, "test")

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1", Port: 0, Timeouts: config.APITimeoutConfig{Read: 5, Write: 5, Idle: 5}},
		WS: config.WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 65536,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		Logger:  log,
		Store:   s,
		DB:      db,
		Version: "test",
	}

	switch mode {
	case config.DeliveryDirect:
		deps.Submitter, _ = delivery.New(mode, delivery.Deps{Store: s})
	case config.DeliveryConnection:
		reg := prometheus.NewRegistry()
		w, err := writer.New(store.NewLocalBinder(s), writer.WithMetrics(reg, "test"))
		if err != nil {
			t.Fatalf("writer.New() error = %v", err)
		}
		t.Cleanup(func() { w.Close() }) //nolint:errcheck // Test cleanup
		deps.Writer = w
		deps.Gatherer = reg
		deps.Submitter, _ = delivery.New(mode, delivery.Deps{Writer: w, Store: s})
	default:
		t.Fatalf("unsupported test mode %q", mode)
	}

	if mutate != nil {
		mutate(&deps)
	}
	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &testEnv{srv: srv, store: s, db: db}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.srv.buildRouter().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
}

// ============================================================
// Construction
// ============================================================

func TestNew_RequiresDeps(t *testing.T) {
	log := logging.Default()
	if _, err := New(Deps{Logger: log}); err == nil {
		t.Error("New() without submitter should fail")
	}
	if _, err := New(Deps{}); err == nil {
		t.Error("New() without logger should fail")
	}
}

// ============================================================
// Health
// ============================================================

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]HealthChecker
		wantStatus int
		wantBody   string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"healthy", map[string]HealthChecker{"store": checkFunc(func(context.Context) error { return nil })}, http.StatusOK, "ok"},
		{"degraded", map[string]HealthChecker{"mqtt": checkFunc(func(context.Context) error { return errors.New("not connected") })}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, config.DeliveryDirect, func(d *Deps) { d.Checks = tt.checks })
			w := env.do(t, http.MethodGet, "/api/v1/health", "")

			if w.Code != tt.wantStatus {
				t.Errorf("health status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp map[string]any
			decodeBody(t, w, &resp)
			if resp["status"] != tt.wantBody {
				t.Errorf("status = %v, want %s", resp["status"], tt.wantBody)
			}
			if resp["mode"] != config.DeliveryDirect {
				t.Errorf("mode = %v, want %s", resp["mode"], config.DeliveryDirect)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	w := env.do(t, http.MethodGet, "/api/v1/health", "")
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

// ============================================================
// Points
// ============================================================

func TestSubmitPoints_Single(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	w := env.do(t, http.MethodPost, "/api/v1/points",
		`{"stream_id":"mobility","stream_version":1,"stream_metadata":{"id":"a"},"stream_data":{"mode":"walk"}}`)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp SubmitResponse
	decodeBody(t, w, &resp)
	if resp.Accepted != 1 || resp.Mode != config.DeliveryDirect {
		t.Errorf("response = %+v, want accepted=1 mode=direct", resp)
	}

	recs, err := env.store.Recent(context.Background(), "mobility", 5)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(recs) != 1 || recs[0].Username != "tester" {
		t.Errorf("Recent() = %+v, want one record by tester", recs)
	}
}

func TestSubmitPoints_ArrayStopsAtFirstInvalid(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	body := `[
		{"stream_id":"s","stream_version":1,"stream_data":{"n":1}},
		{"stream_id":"s","stream_version":1,"stream_data":{"n":2}},
		{"stream_id":"","stream_version":1,"stream_data":{"n":3}},
		{"stream_id":"s","stream_version":1,"stream_data":{"n":4}}
	]`
	w := env.do(t, http.MethodPost, "/api/v1/points", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var resp SubmitFailure
	decodeBody(t, w, &resp)
	if resp.Accepted != 2 || resp.Index != 2 || resp.Code != ErrCodeValidation {
		t.Errorf("failure = %+v, want accepted=2 index=2 code=%s", resp, ErrCodeValidation)
	}

	counts, _ := env.store.Counts(context.Background())
	if len(counts) != 1 || counts[0].Count != 2 {
		t.Errorf("Counts() = %+v, want 2 stored points", counts)
	}
}

func TestSubmitPoints_BadBodies(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"empty", "", ErrCodeBadRequest},
		{"broken array", `[{"stream_id":`, ErrCodeBadRequest},
		{"not json", `hello`, ErrCodeValidation},
		{"missing data", `{"stream_id":"s","stream_version":1}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/v1/points", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
			var resp Error
			decodeBody(t, w, &resp)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
		})
	}
}

func TestSubmitData_GeneratesMetadata(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	w := env.do(t, http.MethodPost, "/api/v1/streams/mobility/2", `{"mode":"run"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp SubmitResponse
	decodeBody(t, w, &resp)
	if resp.ID == "" {
		t.Error("response id is empty")
	}

	recs, _ := env.store.Recent(context.Background(), "mobility", 1)
	if len(recs) != 1 {
		t.Fatalf("Recent() returned %d records, want 1", len(recs))
	}
	if !strings.Contains(recs[0].Point.Metadata, resp.ID) || !strings.Contains(recs[0].Point.Metadata, `"timestamp"`) {
		t.Errorf("metadata = %s, want generated id and timestamp", recs[0].Point.Metadata)
	}
	if recs[0].Point.StreamVersion != 2 {
		t.Errorf("StreamVersion = %d, want 2", recs[0].Point.StreamVersion)
	}
}

func TestSubmitData_BadVersion(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)

	w := env.do(t, http.MethodPost, "/api/v1/streams/mobility/latest", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSubmit_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, func(d *Deps) {
		d.Submitter, _ = delivery.New(config.DeliveryDirect, delivery.Deps{Store: store.New(nil)})
	})

	w := env.do(t, http.MethodPost, "/api/v1/streams/s/1", `{}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// ============================================================
// Streams
// ============================================================

func TestStreamCountsAndRecent(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)
	for i := 0; i < 3; i++ {
		env.do(t, http.MethodPost, "/api/v1/streams/a/1", `{"i":1}`)
	}
	env.do(t, http.MethodPost, "/api/v1/streams/b/1", `{"i":2}`)

	w := env.do(t, http.MethodGet, "/api/v1/streams/counts", "")
	if w.Code != http.StatusOK {
		t.Fatalf("counts status = %d, want %d", w.Code, http.StatusOK)
	}
	var counts struct {
		URI    string              `json:"uri"`
		Counts []store.StreamCount `json:"counts"`
	}
	decodeBody(t, w, &counts)
	if counts.URI != stream.CountsURI() {
		t.Errorf("uri = %q, want %q", counts.URI, stream.CountsURI())
	}
	if len(counts.Counts) != 2 || counts.Counts[0].Count != 3 {
		t.Errorf("counts = %+v, want a=3 b=1", counts.Counts)
	}

	w = env.do(t, http.MethodGet, "/api/v1/streams/a/points?limit=2", "")
	var recent struct {
		Points []PointRecord `json:"points"`
	}
	decodeBody(t, w, &recent)
	if len(recent.Points) != 2 {
		t.Errorf("points = %d, want 2", len(recent.Points))
	}

	w = env.do(t, http.MethodGet, "/api/v1/streams/a/points?limit=0", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStreams_NoStore(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, func(d *Deps) { d.Store = nil })

	if w := env.do(t, http.MethodGet, "/api/v1/streams/counts", ""); w.Code != http.StatusNotFound {
		t.Errorf("counts status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// ============================================================
// Writer and metrics
// ============================================================

func TestWriterStats(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)
	if w := env.do(t, http.MethodGet, "/api/v1/writer", ""); w.Code != http.StatusNotFound {
		t.Errorf("writer status without writer = %d, want %d", w.Code, http.StatusNotFound)
	}

	env = newTestEnv(t, config.DeliveryConnection, nil)
	w := env.do(t, http.MethodGet, "/api/v1/writer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("writer status = %d, want %d", w.Code, http.StatusOK)
	}
	var stats map[string]any
	decodeBody(t, w, &stats)
	if stats["state"] != writer.StateUnconnected.String() {
		t.Errorf("state = %v, want %s", stats["state"], writer.StateUnconnected)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	env := newTestEnv(t, config.DeliveryConnection, nil)
	env.do(t, http.MethodPost, "/api/v1/streams/s/1", `{}`)

	w := env.do(t, http.MethodGet, "/api/v1/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	var m SystemMetrics
	decodeBody(t, w, &m)
	if m.Writer == nil || m.Database == nil {
		t.Errorf("metrics = %+v, want writer and database sections", m)
	}

	w = env.do(t, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "ohmage_stream_writer_points_sent_total") {
		t.Errorf("/metrics missing writer counters:\n%s", w.Body.String())
	}
}

func TestClassifySubmitError(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{stream.ErrMalformedPayload, http.StatusBadRequest, ErrCodeValidation},
		{writer.ErrBufferFull, http.StatusServiceUnavailable, ErrCodeBufferFull},
		{writer.ErrTransportFailure, http.StatusBadGateway, ErrCodeTransport},
		{store.ErrStoreUnavailable, http.StatusServiceUnavailable, ErrCodeUnavailable},
		{errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tt := range tests {
		status, code := classifySubmitError(tt.err)
		if status != tt.wantStatus || code != tt.wantCode {
			t.Errorf("classifySubmitError(%v) = %d/%s, want %d/%s", tt.err, status, code, tt.wantStatus, tt.wantCode)
		}
	}
}

// ============================================================
// WebSocket
// ============================================================

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(env.srv.buildRouter())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	//nolint:errcheck // Test deadline
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	var msg map[string]any
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	return msg
}

func TestWebSocket_SubmitPoint(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)
	ws := dialWS(t, env)

	if err := ws.WriteJSON(map[string]any{
		"type":    WSTypePoint,
		"id":      "p1",
		"payload": map[string]any{"stream_id": "ws", "stream_version": 1, "stream_data": map[string]int{"n": 1}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}

	msg := readWS(t, ws)
	if msg["type"] != WSTypeResponse || msg["id"] != "p1" {
		t.Fatalf("reply = %v, want response for p1", msg)
	}

	counts, _ := env.store.Counts(context.Background())
	if len(counts) != 1 || counts[0].StreamID != "ws" {
		t.Errorf("Counts() = %+v, want one point on ws", counts)
	}
}

func TestWebSocket_Errors(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)
	ws := dialWS(t, env)

	tests := []struct {
		name     string
		send     string
		wantCode string
	}{
		{"invalid json", `not json`, ErrCodeBadRequest},
		{"unknown type", `{"type":"launch","id":"x"}`, ErrCodeBadRequest},
		{"invalid point", `{"type":"point","id":"x","payload":{"stream_id":"","stream_version":1,"stream_data":{}}}`, ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
				t.Fatalf("WriteMessage() error = %v", err)
			}
			msg := readWS(t, ws)
			if msg["type"] != WSTypeError {
				t.Fatalf("reply type = %v, want error", msg["type"])
			}
			payload, _ := msg["payload"].(map[string]any)
			if payload["code"] != tt.wantCode {
				t.Errorf("code = %v, want %s", payload["code"], tt.wantCode)
			}
		})
	}
}

func TestWebSocket_WriterStateBroadcast(t *testing.T) {
	env := newTestEnv(t, config.DeliveryDirect, nil)
	ws := dialWS(t, env)

	if err := ws.WriteJSON(map[string]any{
		"type":    WSTypeSubscribe,
		"id":      "s1",
		"payload": WSSubscribePayload{Channels: []string{ChannelWriterState}},
	}); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
	if msg := readWS(t, ws); msg["type"] != WSTypeResponse {
		t.Fatalf("subscribe reply = %v", msg)
	}

	w, err := writer.New(store.NewLocalBinder(env.store), writer.WithListener(env.srv.Hub().WriterListener()))
	if err != nil {
		t.Fatalf("writer.New() error = %v", err)
	}
	t.Cleanup(func() { w.Close() }) //nolint:errcheck // Test cleanup
	if err := w.Connect(); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	msg := readWS(t, ws)
	if msg["type"] != WSTypeEvent || msg["event_type"] != ChannelWriterState {
		t.Fatalf("event = %v, want writer.state event", msg)
	}
	payload, _ := msg["payload"].(map[string]any)
	if payload["event"] != writer.EventConnected.String() {
		t.Errorf("event = %v, want %s", payload["event"], writer.EventConnected)
	}
}
