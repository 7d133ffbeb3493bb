package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"meshbench/internal/control"
	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/node"
	"meshbench/internal/scenario"
	"meshbench/internal/server"
	"meshbench/internal/stats"
	"meshbench/internal/store"

	"golang.org/x/net/websocket"
)

// Options は API サーバーの依存先
type Options struct {
	Bus   *events.Bus  // WebSocket へ流すイベント（nil で無効）
	Store *store.Store // 実行結果の保存先（nil で無効）
}

// Server は API サーバー
type Server struct {
	addr  string
	bus   *events.Bus
	store *store.Store

	mu        sync.RWMutex
	nodes     []*node.Node
	engine    *scenario.Engine
	running   bool
	wsClients map[*websocket.Conn]bool
	ctx       context.Context // バックグラウンドのシナリオ実行に渡す

	server *http.Server
}

// NewServer は新しい API サーバーを作成する
func NewServer(addr string, opts Options) *Server {
	return &Server{
		addr:      addr,
		bus:       opts.Bus,
		store:     opts.Store,
		wsClients: make(map[*websocket.Conn]bool),
		ctx:       context.Background(),
	}
}

// AddNode は単体で動くノードを公開対象に加える
func (s *Server) AddNode(n *node.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = append(s.nodes, n)
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/senders", s.handleSenders)
	mux.HandleFunc("/api/control", s.handleControl)
	mux.HandleFunc("/api/presets", s.handlePresets)
	mux.HandleFunc("/api/scenario/start", s.handleScenarioStart)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.HandleFunc("/api/runs/{id}", s.handleRun)

	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx が終わるまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	go s.broadcastLoop(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// currentNodes はシナリオ実行中ならそのクラスタ、そうでなければ登録済みノードを返す
func (s *Server) currentNodes() []*node.Node {
	s.mu.RLock()
	engine := s.engine
	nodes := append([]*node.Node(nil), s.nodes...)
	s.mu.RUnlock()

	if engine != nil {
		if c := engine.Cluster(); c != nil {
			return c.Nodes()
		}
	}
	return nodes
}

func (s *Server) sink() *node.Node {
	for _, n := range s.currentNodes() {
		if n.Role() == node.RoleSink {
			return n
		}
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Running      bool            `json:"running"`
	ScenarioName string          `json:"scenario_name,omitempty"`
	NodeCount    int             `json:"node_count"`
	RunningNodes int             `json:"running_nodes"`
	ReadyNodes   int             `json:"ready_nodes"`
	Nodes        []node.Snapshot `json:"nodes"`
}

func (s *Server) status() StatusResponse {
	s.mu.RLock()
	resp := StatusResponse{Running: s.running}
	if s.engine != nil {
		resp.ScenarioName = s.engine.Config().Name
	}
	s.mu.RUnlock()

	resp.Nodes = []node.Snapshot{}
	for _, n := range s.currentNodes() {
		snap := n.Snapshot()
		resp.NodeCount++
		if n.Status() == node.StatusRunning {
			resp.RunningNodes++
		}
		if snap.Ready {
			resp.ReadyNodes++
		}
		resp.Nodes = append(resp.Nodes, snap)
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.status())
}

// StatsResponse はノードごとの統計
type StatsResponse struct {
	Node           string            `json:"node"`
	Enabled        bool              `json:"enabled"`
	OverflowResets uint64            `json:"overflow_resets"`
	Counters       map[string]uint16 `json:"counters"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
	case http.MethodDelete:
		s.resetCounter(w, r)
		return
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := r.URL.Query().Get("node")
	resp := []StatsResponse{}
	for _, n := range s.currentNodes() {
		if filter != "" && n.Name() != filter {
			continue
		}
		snap := n.Stats().Snapshot()
		resp = append(resp, StatsResponse{
			Node:           n.Name(),
			Enabled:        snap.Enabled,
			OverflowResets: snap.OverflowResets,
			Counters:       snap.Map(),
		})
	}
	if filter != "" && len(resp) == 0 {
		http.Error(w, fmt.Sprintf("node %s not found", filter), http.StatusNotFound)
		return
	}
	s.writeJSON(w, resp)
}

// CounterResetResponse は単一カウンタのリセット結果
type CounterResetResponse struct {
	Counter string   `json:"counter"`
	Nodes   []string `json:"nodes"`
}

// resetCounter は ?counter=name のカウンタだけを 0 にする（?node=name で絞り込み）
func (s *Server) resetCounter(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("counter")
	c, ok := stats.ParseCounter(name)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown counter %q", name), http.StatusBadRequest)
		return
	}

	filter := r.URL.Query().Get("node")
	resp := CounterResetResponse{Counter: c.String(), Nodes: []string{}}
	for _, n := range s.currentNodes() {
		if filter != "" && n.Name() != filter {
			continue
		}
		n.Stats().ResetCounter(c)
		resp.Nodes = append(resp.Nodes, n.Name())
	}
	if len(resp.Nodes) == 0 {
		http.Error(w, "No matching node", http.StatusNotFound)
		return
	}
	logger.Info("", "Counter %s reset on %d nodes", resp.Counter, len(resp.Nodes))
	s.writeJSON(w, resp)
}

func (s *Server) handleSenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sink := s.sink()
	if sink == nil {
		http.Error(w, "No sink node", http.StatusNotFound)
		return
	}
	reports := sink.Tracker().Senders()
	if reports == nil {
		reports = []server.SenderReport{}
	}
	s.writeJSON(w, reports)
}

// ControlRequest は制御コマンドのリクエスト
type ControlRequest struct {
	Hex      string            `json:"hex,omitempty"`
	Flags    string            `json:"flags,omitempty"`
	Settings *control.Settings `json:"settings,omitempty"`
	Node     string            `json:"node,omitempty"` // 空なら全ノード
}

// Command はリクエストを制御コマンドに変換する
func (req ControlRequest) Command() (control.Command, error) {
	if req.Hex != "" {
		return control.ParseHex(req.Hex)
	}
	if req.Flags == "" {
		return control.Command{}, errors.New("either hex or flags is required")
	}

	flags, err := control.ParseFlags(req.Flags)
	if err != nil {
		return control.Command{}, err
	}
	cmd := control.Command{Flags: flags}
	if req.Settings != nil {
		cmd.Flags |= control.FlagSet
		cmd.Settings = *req.Settings
	}
	if cmd.Flags.Has(control.FlagSet) {
		if _, _, err := control.EncodeInterval(cmd.Settings.Interval); err != nil {
			return control.Command{}, err
		}
	}
	return cmd, nil
}

// ControlResponse は制御コマンドの適用結果
type ControlResponse struct {
	Command string   `json:"command"`
	Flags   string   `json:"flags"`
	Applied []string `json:"applied"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	cmd, err := req.Command()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := ControlResponse{Flags: cmd.Flags.String(), Applied: []string{}}
	resp.Command, _ = cmd.Hex()

	var failed []error
	for _, n := range s.currentNodes() {
		if req.Node != "" && n.Name() != req.Node {
			continue
		}
		if err := n.Control(cmd); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", n.Name(), err))
			continue
		}
		resp.Applied = append(resp.Applied, n.Name())
	}

	if len(failed) > 0 {
		http.Error(w, errors.Join(failed...).Error(), http.StatusConflict)
		return
	}
	if len(resp.Applied) == 0 {
		http.Error(w, "No matching node", http.StatusNotFound)
		return
	}
	logger.Info("", "Control %s applied to %d nodes", resp.Flags, len(resp.Applied))
	s.writeJSON(w, resp)
}

// PresetInfo はプリセット情報
type PresetInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Clients     int    `json:"clients"`
	Packets     uint8  `json:"packets"`
	Interval    string `json:"interval"`
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var presets []PresetInfo
	for _, name := range scenario.ListPresets() {
		c, _ := scenario.GetPreset(name)
		presets = append(presets, PresetInfo{
			Name:        c.Name,
			Description: c.Description,
			Clients:     c.Clients,
			Packets:     c.Packets,
			Interval:    c.Interval.String(),
		})
	}
	s.writeJSON(w, presets)
}

// ScenarioRequest はシナリオ開始リクエスト
type ScenarioRequest struct {
	Preset   string `json:"preset"`
	Clients  int    `json:"clients,omitempty"`
	Packets  int    `json:"packets,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// Config はリクエストからシナリオ設定を作る
func (req ScenarioRequest) Config() (scenario.Config, error) {
	config, ok := scenario.GetPreset(req.Preset)
	if !ok {
		config = scenario.QuickScenario()
	}
	if req.Clients > 0 {
		config.Clients = req.Clients
	}
	if req.Packets > 0 {
		if req.Packets > 255 {
			return config, fmt.Errorf("packets must be at most 255")
		}
		config.Packets = uint8(req.Packets)
	}
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil {
			return config, fmt.Errorf("invalid interval: %w", err)
		}
		config.Interval = d
	}
	return config, config.Validate()
}

func (s *Server) handleScenarioStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	config, err := req.Config()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		http.Error(w, "Scenario already running", http.StatusConflict)
		return
	}
	engine := scenario.New(config)
	engine.SetEventBus(s.bus)
	s.engine = engine
	s.running = true
	ctx := s.ctx
	s.mu.Unlock()

	go s.runScenario(ctx, engine)

	s.writeJSON(w, map[string]string{"status": "started", "scenario": config.Name})
}

// runScenario はバックグラウンドでシナリオを実行し、結果を保存する
// サーバーの停止で ctx が終わるとシナリオも中断する
func (s *Server) runScenario(ctx context.Context, engine *scenario.Engine) {
	result, err := engine.Run(ctx)

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	msg := map[string]any{"type": "scenario_complete"}
	if err != nil {
		logger.Error("", "Scenario failed: %v", err)
		msg["error"] = err.Error()
		s.broadcast(msg)
		return
	}

	logger.Info("", "Scenario completed: %d/%d delivered", result.Delivered, result.Sent)
	msg["result"] = result
	if s.store != nil {
		// 完了した結果は停止処理中でも保存する
		id, err := s.store.SaveRun(context.WithoutCancel(ctx), result)
		if err != nil {
			logger.Error("", "Failed to store result: %v", err)
		} else {
			msg["run_id"] = id
		}
	}
	s.broadcast(msg)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "No result store configured", http.StatusNotFound)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	s.writeJSON(w, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "No result store configured", http.StatusNotFound)
		return
	}

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid run id", http.StatusBadRequest)
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, run)
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// 切断まで読み捨てる
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) wsCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はノードイベントと 1 秒ごとのステータスを配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	var eventsCh <-chan events.Event
	if s.bus != nil {
		sub := s.bus.Subscribe()
		defer s.bus.Unsubscribe(sub)
		eventsCh = sub
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eventsCh:
			if !ok {
				eventsCh = nil
				continue
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": ev,
			})
		case <-ticker.C:
			if s.wsCount() == 0 {
				continue
			}
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
