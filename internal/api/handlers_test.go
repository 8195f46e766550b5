package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"realtime-dashboard/internal/config"
	"realtime-dashboard/internal/pricing"
	"realtime-dashboard/internal/realtime"
	"realtime-dashboard/internal/session"
	"realtime-dashboard/internal/store"
	"realtime-dashboard/internal/telemetry"
)

type stubConnection struct {
	done chan struct{}
	once sync.Once
}

func (c *stubConnection) Done() <-chan struct{} { return c.done }

func (c *stubConnection) Err() error { return nil }

func (c *stubConnection) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

type stubConnector struct {
	mu      sync.Mutex
	params  session.ConnectParams
	onEvent func(telemetry.Event)
}

func (c *stubConnector) Connect(ctx context.Context, audio session.AudioSource, params session.ConnectParams, onEvent func(telemetry.Event)) (session.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = params
	c.onEvent = onEvent
	return &stubConnection{done: make(chan struct{})}, nil
}

func (c *stubConnector) emit(ev telemetry.Event) {
	c.mu.Lock()
	fn := c.onEvent
	c.mu.Unlock()
	fn(ev)
}

type testEnv struct {
	srv       *Server
	router    http.Handler
	connector *stubConnector
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{SessionsDBPath: filepath.Join(t.TempDir(), "sessions.db")}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}

	snapshots, err := store.NewStore(cfg.SessionsDBPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { snapshots.Close() })

	book, err := pricing.NewBook("")
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	relay := realtime.NewRelay()
	connector := &stubConnector{}
	ctrl := session.NewController(relay, connector, book, session.Options{})
	t.Cleanup(ctrl.Stop)

	srv := NewServer(cfg, ctrl, relay, book, snapshots)
	return &testEnv{srv: srv, router: NewRouter(srv), connector: connector}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to parse response: %v; body = %s", err, rec.Body.String())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthAndOptions(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, "GET", "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var health HealthResponse
	decodeBody(t, rec, &health)
	if health.Status != "ok" || health.State != session.StateDisconnected || health.DroppedFrames != 0 {
		t.Errorf("unexpected health: %+v", health)
	}

	rec = env.do(t, "GET", "/api/session/options", "")
	var opts SessionOptionsResponse
	decodeBody(t, rec, &opts)
	if len(opts.Voices) != 5 || opts.DefaultVoice != "ash" || opts.HasCredential || len(opts.PricedModels) != 0 {
		t.Errorf("unexpected options: %+v", opts)
	}
}

func TestStartSessionValidation(t *testing.T) {
	env := setupTestServer(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantDetail string
	}{
		{name: "invalid json", body: "{", wantStatus: http.StatusBadRequest, wantDetail: "Invalid request body"},
		{name: "missing credential", body: `{}`, wantStatus: http.StatusBadRequest, wantDetail: "Credential is required"},
		{name: "unknown voice", body: `{"credential":"sk","voice":"robot"}`, wantStatus: http.StatusBadRequest, wantDetail: "Unknown voice"},
		{name: "no microphone client", body: `{"credential":"sk"}`, wantStatus: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "POST", "/api/session/start", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d; body = %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantDetail != "" {
				var errResp ErrorResponse
				decodeBody(t, rec, &errResp)
				if errResp.Detail != tt.wantDetail {
					t.Errorf("detail = %q, want %q", errResp.Detail, tt.wantDetail)
				}
			}
		})
	}
	if env.srv.session.State() != session.StateDisconnected {
		t.Fatal("failed starts must leave the session disconnected")
	}
}

func TestSessionLifecycleAndSnapshots(t *testing.T) {
	env := setupTestServer(t)
	defer env.srv.relay.Attach()()

	rec := env.do(t, "POST", "/api/session/start", `{"credential":" sk-test ","prompt":"\n\nBe brief."}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var view session.View
	decodeBody(t, rec, &view)
	if view.State != session.StateConnected || view.SessionStart == nil {
		t.Fatalf("unexpected view after start: %+v", view.Status)
	}
	if env.connector.params.Credential != "sk-test" || env.connector.params.Voice != "ash" {
		t.Errorf("unexpected connect params: %+v", env.connector.params)
	}
	if env.connector.params.Prompt != "Be brief." {
		t.Errorf("prompt = %q", env.connector.params.Prompt)
	}

	if rec := env.do(t, "POST", "/api/session/start", `{"credential":"sk"}`); rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want %d", rec.Code, http.StatusConflict)
	}

	cached := 0
	env.connector.emit(telemetry.NewEvent(telemetry.TagSpeechStarted))
	env.connector.emit(telemetry.NewEvent(telemetry.TagSpeechStopped))
	env.connector.emit(telemetry.NewResponseDone(&telemetry.Usage{
		Input:  telemetry.InputTokenDetails{AudioTokens: 40, CachedTokens: &cached},
		Output: telemetry.OutputTokenDetails{AudioTokens: 60},
	}))
	waitFor(t, func() bool { return len(env.srv.session.View().Events) == 3 })

	rec = env.do(t, "GET", "/api/session/state", "")
	decodeBody(t, rec, &view)
	if view.Session.AudioInputTokens != 40 || view.TotalOutputTokens != 60 || len(view.TimelineSegments) != 1 {
		t.Errorf("unexpected state: %+v", view.Session)
	}

	if rec := env.do(t, "POST", "/api/session/reset", ""); rec.Code != http.StatusConflict {
		t.Errorf("reset while connected status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if rec := env.do(t, "POST", "/api/snapshots", `{"name":"busy"}`); rec.Code != http.StatusConflict {
		t.Errorf("save while connected status = %d, want %d", rec.Code, http.StatusConflict)
	}

	rec = env.do(t, "POST", "/api/session/stop", "")
	decodeBody(t, rec, &view)
	if view.State != session.StateDisconnected || view.SessionStart != nil {
		t.Errorf("unexpected view after stop: %+v", view.Status)
	}
	if view.Session.AudioInputTokens != 40 {
		t.Errorf("session totals lost on stop: %+v", view.Session)
	}

	rec = env.do(t, "POST", "/api/snapshots", `{"name":"first call"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("save status = %d; body = %s", rec.Code, rec.Body.String())
	}
	var saved store.Record
	decodeBody(t, rec, &saved)
	if saved.Name != "first call" || saved.InputTokens != 40 || saved.Voice != "ash" {
		t.Errorf("unexpected saved record: %+v", saved.Summary)
	}

	rec = env.do(t, "POST", "/api/session/reset", "")
	decodeBody(t, rec, &view)
	if view.Session.AudioInputTokens != 0 || len(view.TimelineSegments) != 0 {
		t.Errorf("reset did not clear totals: %+v", view.Session)
	}

	rec = env.do(t, "GET", "/api/snapshots", "")
	var list SnapshotListResponse
	decodeBody(t, rec, &list)
	if len(list.Snapshots) != 1 || list.Snapshots[0].ID != saved.ID {
		t.Fatalf("unexpected list: %+v", list)
	}

	rec = env.do(t, "POST", "/api/snapshots/"+saved.ID+"/load", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d; body = %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &view)
	if view.Session.AudioInputTokens != 40 || len(view.TimelineSegments) != 1 || len(view.Events) != 3 {
		t.Errorf("load did not restore state: %+v", view.Session)
	}

	if rec := env.do(t, "DELETE", "/api/session/events", ""); rec.Code != http.StatusOK {
		t.Errorf("clear events status = %d", rec.Code)
	}
	if n := len(env.srv.session.View().Events); n != 0 {
		t.Errorf("events after clear = %d", n)
	}

	if rec := env.do(t, "DELETE", "/api/snapshots/"+saved.ID, ""); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d", rec.Code)
	}
	for _, tc := range []struct{ method, path string }{
		{"DELETE", "/api/snapshots/" + saved.ID},
		{"GET", "/api/snapshots/" + saved.ID},
		{"POST", "/api/snapshots/" + saved.ID + "/load"},
	} {
		if rec := env.do(t, tc.method, tc.path, ""); rec.Code != http.StatusNotFound {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, rec.Code, http.StatusNotFound)
		}
	}
}

func TestListSnapshotsRejectsBadLimit(t *testing.T) {
	env := setupTestServer(t)
	if rec := env.do(t, "GET", "/api/snapshots?limit=abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetPricing(t *testing.T) {
	env := setupTestServer(t)

	rec := env.do(t, "GET", "/api/pricing", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp PricingResponse
	decodeBody(t, rec, &resp)
	if resp.Default != telemetry.DefaultPricing || resp.Current != telemetry.DefaultPricing {
		t.Errorf("unexpected pricing: %+v", resp)
	}
}

func TestSessionStreamAndAudioSocket(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type = %q", ct)
	}
	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 1<<20), 1<<20)

	var first session.Update
	if !lines.Scan() {
		t.Fatalf("no initial update: %v", lines.Err())
	}
	if err := json.Unmarshal(lines.Bytes(), &first); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if first.View.State != session.StateDisconnected {
		t.Fatalf("initial state = %q", first.View.State)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/session/audio"
	mic, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial audio socket: %v", err)
	}
	waitFor(t, func() bool { return env.srv.relay.Clients() == 1 })

	src, err := env.srv.relay.Acquire(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := mic.WriteMessage(websocket.TextMessage, []byte("ignored")); err != nil {
		t.Fatalf("write text: %v", err)
	}
	if err := mic.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	select {
	case frame := <-src.Frames():
		if len(frame) != 2 || frame[0] != 0x01 {
			t.Fatalf("unexpected frame: %v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relayed frame")
	}
	src.Stop()

	env.do(t, "DELETE", "/api/session/events", "")
	if !lines.Scan() {
		t.Fatalf("no update after change: %v", lines.Err())
	}
	var next session.Update
	if err := json.Unmarshal(lines.Bytes(), &next); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if next.Seq <= first.Seq {
		t.Errorf("seq did not advance: %d then %d", first.Seq, next.Seq)
	}

	mic.Close()
	waitFor(t, func() bool { return env.srv.relay.Clients() == 0 })
}

func TestShutdownEndsOpenStream(t *testing.T) {
	env := setupTestServer(t)
	ts := httptest.NewUnstartedServer(env.router)
	ts.Config.RegisterOnShutdown(env.srv.session.Close)
	ts.Start()
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/session/stream")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()
	lines := bufio.NewScanner(resp.Body)
	lines.Buffer(make([]byte, 1<<20), 1<<20)
	if !lines.Scan() {
		t.Fatalf("no initial update: %v", lines.Err())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := ts.Config.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown with an open stream: %v after %v", err, time.Since(start))
	}
	for lines.Scan() {
	}
}
