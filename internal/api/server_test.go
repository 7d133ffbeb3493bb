package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"meshbench/internal/control"
	"meshbench/internal/events"
	"meshbench/internal/node"
	"meshbench/internal/scenario"
	"meshbench/internal/server"
	"meshbench/internal/stats"
	"meshbench/internal/store"

	"golang.org/x/net/websocket"
)

func newTestServer(t *testing.T, opts Options) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer("127.0.0.1:0", opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func startNode(t *testing.T, s *Server, config node.Config) *node.Node {
	t.Helper()
	n := node.New(config, nil)
	if err := n.Start(context.Background()); err != nil {
		t.Fatalf("failed to start %s: %v", n.Name(), err)
	}
	t.Cleanup(func() { _ = n.Stop() })
	s.AddNode(n)
	return n
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandleStatus(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	startNode(t, s, node.Config{Role: node.RoleSink})
	s.AddNode(node.New(node.Config{ID: 1, Role: node.RoleClient}, nil))

	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var status StatusResponse
	decode(t, resp, &status)

	if status.Running {
		t.Error("no scenario should be running")
	}
	if status.NodeCount != 2 || status.RunningNodes != 1 {
		t.Errorf("expected 2 nodes with 1 running, got %d/%d", status.NodeCount, status.RunningNodes)
	}
	if status.Nodes[0].Name != "sink" || status.Nodes[1].Name != "client-1" {
		t.Errorf("unexpected node order: %s, %s", status.Nodes[0].Name, status.Nodes[1].Name)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/stats"},
		{http.MethodDelete, "/api/senders"},
		{http.MethodGet, "/api/control"},
		{http.MethodPut, "/api/presets"},
		{http.MethodGet, "/api/scenario/start"},
		{http.MethodPost, "/api/runs"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, _ := http.NewRequest(tt.method, ts.URL+tt.path, nil)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusMethodNotAllowed {
				t.Errorf("expected 405, got %d", resp.StatusCode)
			}
		})
	}
}

func TestControlRequestCommand(t *testing.T) {
	tests := []struct {
		name    string
		req     ControlRequest
		want    control.Command
		wantErr bool
	}{
		{
			name: "hex",
			req:  ControlRequest{Hex: "450A320768"},
			want: control.Command{
				Flags:    control.FlagStart | control.FlagStats | control.FlagSet,
				Settings: control.Settings{NodeCount: 10, PacketCount: 50, Interval: 1000},
			},
		},
		{
			name: "flags",
			req:  ControlRequest{Flags: "START|STATS"},
			want: control.Command{Flags: control.FlagStart | control.FlagStats},
		},
		{
			name: "settings imply SET",
			req:  ControlRequest{Flags: "STATS", Settings: &control.Settings{NodeCount: 2, PacketCount: 5, Interval: 100}},
			want: control.Command{
				Flags:    control.FlagStats | control.FlagSet,
				Settings: control.Settings{NodeCount: 2, PacketCount: 5, Interval: 100},
			},
		},
		{name: "empty", req: ControlRequest{}, wantErr: true},
		{name: "bad hex", req: ControlRequest{Hex: "zz"}, wantErr: true},
		{name: "short SET", req: ControlRequest{Hex: "40"}, wantErr: true},
		{name: "unknown flag", req: ControlRequest{Flags: "JUMP"}, wantErr: true},
		{
			name:    "interval out of range",
			req:     ControlRequest{Flags: "SET", Settings: &control.Settings{Interval: control.MaxInterval + 1}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.Command()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Command() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Command() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandleControlAndStats(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	sink := startNode(t, s, node.Config{Role: node.RoleSink})

	body := `{"flags":"STATS","settings":{"node_count":4,"packet_count":20,"interval_ms":250}}`
	var applied ControlResponse
	decode(t, postJSON(t, ts.URL+"/api/control", body), &applied)

	if applied.Command != "440414017A" {
		t.Errorf("unexpected command hex %s", applied.Command)
	}
	if len(applied.Applied) != 1 || applied.Applied[0] != "sink" {
		t.Errorf("unexpected applied nodes %v", applied.Applied)
	}

	eventually(t, "settings applied", func() bool {
		return sink.Snapshot().Settings.NodeCount == 4
	})

	resp, err := http.Get(ts.URL + "/api/stats?node=sink")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var got []StatsResponse
	decode(t, resp, &got)
	if len(got) != 1 || !got[0].Enabled {
		t.Errorf("expected enabled stats for sink, got %+v", got)
	}

	resp, err = http.Get(ts.URL + "/api/stats?node=client-9")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown node, got %d", resp.StatusCode)
	}
}

func TestResetSingleCounter(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	sink := startNode(t, s, node.Config{Role: node.RoleSink})
	sink.Stats().Add(stats.AppRxed, 7)
	sink.Stats().Add(stats.Corrupted, 2)

	del := func(query string) *http.Response {
		t.Helper()
		req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/stats?"+query, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("DELETE failed: %v", err)
		}
		return resp
	}

	var reset CounterResetResponse
	decode(t, del("counter=corrupted"), &reset)
	if reset.Counter != "corrupted" || len(reset.Nodes) != 1 || reset.Nodes[0] != "sink" {
		t.Errorf("unexpected reset response %+v", reset)
	}
	if sink.Stats().Get(stats.Corrupted) != 0 {
		t.Error("expected corrupted counter cleared")
	}
	if sink.Stats().Get(stats.AppRxed) != 7 {
		t.Errorf("other counters must be kept, app_rxed = %d", sink.Stats().Get(stats.AppRxed))
	}

	tests := []struct {
		query string
		want  int
	}{
		{"counter=bogus", http.StatusBadRequest},
		{"", http.StatusBadRequest},
		{"counter=app_rxed&node=client-4", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp := del(tt.query)
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("DELETE ?%s: expected %d, got %d", tt.query, tt.want, resp.StatusCode)
		}
	}
}

func TestStatsReportOverflowResets(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	sink := startNode(t, s, node.Config{Role: node.RoleSink})
	sink.Stats().Add(stats.AppRxed, stats.Max)
	sink.Stats().Inc(stats.AppRxed)

	resp, err := http.Get(ts.URL + "/api/stats?node=sink")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var got []StatsResponse
	decode(t, resp, &got)
	if len(got) != 1 || got[0].OverflowResets != 1 || got[0].Counters["app_rxed"] != 0 {
		t.Errorf("expected one overflow reset with a cleared block, got %+v", got)
	}
}

func TestHandleControlErrors(t *testing.T) {
	s, ts := newTestServer(t, Options{})
	s.AddNode(node.New(node.Config{ID: 1, Role: node.RoleClient}, nil))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid body", `{`, http.StatusBadRequest},
		{"short command", `{"hex":"40"}`, http.StatusBadRequest},
		{"no such node", `{"flags":"START","node":"client-7"}`, http.StatusNotFound},
		{"stopped node", `{"flags":"START"}`, http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, ts.URL+"/api/control", tt.body)
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestHandleSenders(t *testing.T) {
	s, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/senders")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 without a sink, got %d", resp.StatusCode)
	}

	startNode(t, s, node.Config{Role: node.RoleSink})
	resp, err = http.Get(ts.URL + "/api/senders")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var reports []server.SenderReport
	decode(t, resp, &reports)
	if len(reports) != 0 {
		t.Errorf("expected no senders yet, got %d", len(reports))
	}
}

func TestHandlePresets(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	resp, err := http.Get(ts.URL + "/api/presets")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var presets []PresetInfo
	decode(t, resp, &presets)

	if len(presets) != len(scenario.ListPresets()) {
		t.Errorf("expected %d presets, got %d", len(scenario.ListPresets()), len(presets))
	}
	for _, p := range presets {
		if p.Name == "" || p.Clients == 0 || p.Packets == 0 {
			t.Errorf("incomplete preset %+v", p)
		}
	}
}

func TestScenarioRequestConfig(t *testing.T) {
	tests := []struct {
		name     string
		req      ScenarioRequest
		wantName string
		wantErr  bool
	}{
		{name: "preset", req: ScenarioRequest{Preset: "lossy"}, wantName: "lossy"},
		{name: "unknown falls back to quick", req: ScenarioRequest{Preset: "nope"}, wantName: "quick"},
		{name: "overrides", req: ScenarioRequest{Preset: "basic", Clients: 2, Packets: 3, Interval: "50ms"}, wantName: "basic"},
		{name: "too many packets", req: ScenarioRequest{Packets: 300}, wantErr: true},
		{name: "bad interval", req: ScenarioRequest{Interval: "soon"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := tt.req.Config()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Config() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && config.Name != tt.wantName {
				t.Errorf("expected scenario %s, got %s", tt.wantName, config.Name)
			}
		})
	}
}

func TestRunsWithoutStore(t *testing.T) {
	_, ts := newTestServer(t, Options{})

	for _, path := range []string{"/api/runs", "/api/runs/1"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, resp.StatusCode)
		}
	}
}

func TestScenarioStartStoresRun(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	s, ts := newTestServer(t, Options{Store: st})

	body := `{"preset":"quick","clients":2,"packets":2,"interval":"50ms"}`
	resp := postJSON(t, ts.URL+"/api/scenario/start", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	eventually(t, "scenario to finish", func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return !s.running
	})

	resp, err = http.Get(ts.URL + "/api/runs")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var runs []store.Run
	decode(t, resp, &runs)
	if len(runs) != 1 {
		t.Fatalf("expected 1 stored run, got %d", len(runs))
	}
	if runs[0].Scenario != "quick" || runs[0].Clients != 2 {
		t.Errorf("unexpected run %+v", runs[0])
	}

	resp, err = http.Get(ts.URL + "/api/runs/" + strconv.FormatInt(runs[0].ID, 10))
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	var run store.Run
	decode(t, resp, &run)
	if len(run.Senders) != 2 {
		t.Errorf("expected 2 sender rows, got %d", len(run.Senders))
	}

	resp, err = http.Get(ts.URL + "/api/runs/999")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for missing run, got %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/runs/abc")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", resp.StatusCode)
	}
}

func TestScenarioStopsWithServerContext(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	s, ts := newTestServer(t, Options{Store: st})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	// 完走には数分かかる設定
	body := `{"preset":"quick","clients":2,"packets":100,"interval":"5s"}`
	resp := postJSON(t, ts.URL+"/api/scenario/start", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	eventually(t, "scenario to stop", func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return !s.running
	})

	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("expected no stored run for an aborted scenario, got %d", len(runs))
	}
}

func TestWebSocketForwardsEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	s, ts := newTestServer(t, Options{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.broadcastLoop(ctx)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, err := websocket.Dial(url, "", ts.URL)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer ws.Close()

	eventually(t, "subscriber and client", func() bool {
		return bus.SubscriberCount() == 1 && s.wsCount() == 1
	})

	bus.Publish(events.NewClientDoneEvent("client-2", 5))

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var raw string
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			t.Fatalf("failed to receive: %v", err)
		}
		var msg struct {
			Type  string       `json:"type"`
			Event events.Event `json:"event"`
		}
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			t.Fatalf("invalid message %q: %v", raw, err)
		}
		if msg.Type != "event" {
			continue
		}
		if msg.Event.Type != events.EventClientDone || msg.Event.Node != "client-2" {
			t.Errorf("unexpected event %+v", msg.Event)
		}
		return
	}
}
