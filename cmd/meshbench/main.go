// Package main is the entry point for meshbench.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"meshbench/internal/api"
	"meshbench/internal/config"
	"meshbench/internal/events"
	"meshbench/internal/logger"
	"meshbench/internal/node"
	"meshbench/internal/scenario"
	"meshbench/internal/stats"
	"meshbench/internal/store"
	"meshbench/internal/transport"
)

var (
	version = "dev"
)

// デフォルトのシンク待ち受けアドレス
const defaultSinkAddr = ":5678"

// options はコマンドラインフラグ
type options struct {
	configFile string
	role       string
	id         int
	preset     string
	sinkAddr   string
	listenAddr string
	apiAddr    string
	apiMode    bool
	storePath  string
	framing    string
	logLevel   string
	nodes      int
	packets    int
	interval   time.Duration
}

func main() {
	var opts options

	// フラグ定義
	flag.StringVar(&opts.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&opts.role, "role", "scenario", "動作モード (scenario, client, sink)")
	flag.IntVar(&opts.id, "id", -1, "ノード ID (client のみ, 1-255)")
	flag.StringVar(&opts.preset, "preset", "", "プリセットシナリオ名")
	flag.StringVar(&opts.sinkAddr, "server", "", "シンクのアドレス (client のみ, 例: 10.0.0.1:5678)")
	flag.StringVar(&opts.listenAddr, "listen", "", "シンクの待ち受けアドレス (デフォルト :5678)")
	flag.StringVar(&opts.apiAddr, "addr", ":8080", "API サーバーアドレス")
	flag.BoolVar(&opts.apiMode, "api", false, "API サーバーを起動")
	flag.StringVar(&opts.storePath, "store", "", "結果を保存する SQLite ファイル")
	flag.StringVar(&opts.framing, "framing", "", "制御チャネルのフレーミング (hex, raw)")
	flag.StringVar(&opts.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.IntVar(&opts.nodes, "nodes", 0, "クライアント数")
	flag.IntVar(&opts.packets, "packets", 0, "クライアントごとの送信パケット数")
	flag.DurationVar(&opts.interval, "interval", 0, "送信間隔 (例: 500ms)")
	listPresets := flag.Bool("list-presets", false, "利用可能なプリセットを表示")
	showVersion := flag.Bool("version", false, "バージョンを表示")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `meshbench - Mesh Network Benchmark Harness

Usage:
  meshbench [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # インメモリ媒体でプリセットシナリオを実行
  meshbench --preset lossy

  # 結果を保存しつつ設定ファイルから実行
  meshbench --config bench.yaml --store runs.db

  # API サーバーを起動（シナリオは POST /api/scenario/start で開始）
  meshbench --api --addr :3000 --store runs.db

  # 実ネットワークのシンクとクライアント（制御コマンドは標準入力から）
  meshbench --role sink --listen :5678
  echo 450A320768 | meshbench --role client --id 3 --server 10.0.0.1:5678
`)
	}

	flag.Parse()

	// バージョン表示
	if *showVersion {
		fmt.Printf("meshbench version %s\n", version)
		return
	}

	// プリセット一覧表示
	if *listPresets {
		printPresets()
		return
	}

	fileConfig, err := loadConfig(opts)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	switch opts.role {
	case "scenario":
		if opts.apiMode {
			err = runServer(ctx, fileConfig, opts)
		} else {
			err = runScenario(ctx, fileConfig, opts)
		}
	default:
		err = runNode(ctx, fileConfig, opts)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("", "実行エラー: %v", err)
		os.Exit(1)
	}
}

// loadConfig は設定ファイルを読み込み、ログレベルを反映する
// ファイルがなければ空の設定を返す
func loadConfig(opts options) (*config.FileConfig, error) {
	fileConfig := &config.FileConfig{}
	if opts.configFile != "" {
		fc, err := config.LoadFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		fileConfig = fc
	}

	// フラグでオーバーライド
	if opts.logLevel != "" {
		fileConfig.Log.Level = opts.logLevel
	}
	if opts.framing != "" {
		fileConfig.Control.Framing = opts.framing
	}
	if opts.preset != "" {
		fileConfig.Scenario.Preset = opts.preset
	}
	if opts.storePath != "" {
		fileConfig.Store.Path = opts.storePath
	}
	if opts.nodes > 0 {
		fileConfig.Session.Nodes = opts.nodes
	}
	if opts.packets > 0 {
		fileConfig.Session.Packets = opts.packets
	}
	if opts.interval > 0 {
		fileConfig.Session.Interval = opts.interval.String()
	}
	if opts.role != "scenario" {
		fileConfig.Node.Role = opts.role
	}
	if opts.id >= 0 {
		fileConfig.Node.ID = opts.id
	}
	if opts.sinkAddr != "" {
		fileConfig.Transport.Sink = opts.sinkAddr
	}
	if opts.listenAddr != "" {
		fileConfig.Transport.Listen = opts.listenAddr
	}
	if fileConfig.API.Addr == "" || isFlagSet("addr") {
		fileConfig.API.Addr = opts.apiAddr
	}

	if err := fileConfig.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}

	level, err := fileConfig.LogLevel()
	if err != nil {
		return nil, err
	}
	logger.Default.SetLevel(level)
	return fileConfig, nil
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// signalContext は SIGINT/SIGTERM でキャンセルされるコンテキストを返す
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\n中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// openStore は保存先が設定されていれば開く
func openStore(fc *config.FileConfig) (*store.Store, error) {
	if fc.Store.Path == "" {
		return nil, nil
	}
	return store.Open(fc.Store.Path)
}

// runScenario はインメモリ媒体でシナリオを 1 回実行する
func runScenario(ctx context.Context, fc *config.FileConfig, opts options) error {
	// 設定ファイルもプリセットもなければ quick シナリオ
	if fc.Scenario.Preset == "" && opts.configFile == "" {
		fc.Scenario.Preset = "quick"
	}
	cfg, err := fc.ToScenarioConfig()
	if err != nil {
		return fmt.Errorf("設定変換エラー: %w", err)
	}

	st, err := openStore(fc)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	fmt.Println("meshbench - Mesh Network Benchmark Harness")
	fmt.Println("==========================================")
	fmt.Printf("Scenario: %s\n", cfg.Name)
	fmt.Printf("Clients: %d, Packets: %d, Interval: %v\n", cfg.Clients, cfg.Packets, cfg.Interval)
	fmt.Printf("Medium: %+v\n", cfg.Impairments)
	fmt.Println("==========================================")
	fmt.Println()

	engine := scenario.New(cfg)
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	// レポート出力
	fmt.Println(result.Report())

	if st != nil {
		id, err := st.SaveRun(ctx, result)
		if err != nil {
			return fmt.Errorf("結果の保存に失敗: %w", err)
		}
		fmt.Printf("Saved as run #%d in %s\n", id, fc.Store.Path)
	}
	return nil
}

// printPresets は利用可能なプリセットを表示する
func printPresets() {
	fmt.Println("利用可能なプリセットシナリオ:")
	fmt.Println()

	for _, name := range scenario.ListPresets() {
		p, _ := scenario.GetPreset(name)
		fmt.Printf("  %-10s %s (%d clients, %d packets, %v)\n",
			p.Name, p.Description, p.Clients, p.Packets, p.Interval)
	}

	fmt.Println()
	fmt.Println("使用例: meshbench --preset quick")
}

// runServer は API サーバーを起動する
func runServer(ctx context.Context, fc *config.FileConfig, opts options) error {
	st, err := openStore(fc)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	bus := events.NewBus()
	defer bus.Close()

	fmt.Println("meshbench - API Server")
	fmt.Println("======================")
	fmt.Printf("Starting server on http://%s\n", fc.API.Addr)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	server := api.NewServer(fc.API.Addr, api.Options{Bus: bus, Store: st})
	return server.Start(ctx)
}

// runNode は UDP 上で単体のクライアントまたはシンクを動かす
// 制御コマンドは標準入力から読み、ステータス行は標準出力へ書く
func runNode(ctx context.Context, fc *config.FileConfig, opts options) error {
	nodeConfig, err := fc.ToNodeConfig()
	if err != nil {
		return fmt.Errorf("設定変換エラー: %w", err)
	}
	framing, err := fc.Framing()
	if err != nil {
		return err
	}

	reg := stats.New()
	nodeConfig.Stats = reg
	nodeConfig.Status = os.Stdout

	var bus *events.Bus
	if opts.apiMode {
		bus = events.NewBus()
		defer bus.Close()
		nodeConfig.Bus = bus
	}

	var n *node.Node
	switch nodeConfig.Role {
	case node.RoleClient:
		if nodeConfig.ID == 0 {
			return fmt.Errorf("client requires --id between 1 and 255")
		}
		if fc.Transport.Sink == "" {
			return fmt.Errorf("client requires --server")
		}
		sender, err := transport.DialUDP(fc.Transport.Sink, reg)
		if err != nil {
			return err
		}
		defer sender.Close()
		nodeConfig.Route = sender
		n = node.New(nodeConfig, sender)

	case node.RoleSink:
		addr := fc.Transport.Listen
		if addr == "" {
			addr = defaultSinkAddr
		}
		listener, err := transport.ListenUDP(addr, reg)
		if err != nil {
			return err
		}
		defer listener.Close()
		n = node.New(nodeConfig, nil)

		go func() {
			if err := listener.Serve(ctx, n.Deliver); err != nil && !errors.Is(err, transport.ErrClosed) {
				logger.Error(n.Name(), "listener stopped: %v", err)
			}
		}()
		logger.Info(n.Name(), "listening on %s", listener.Addr())
	}

	if err := n.Start(ctx); err != nil {
		return err
	}
	defer n.Stop()

	if opts.apiMode {
		server := api.NewServer(fc.API.Addr, api.Options{Bus: bus})
		server.AddNode(n)
		go func() {
			if err := server.Start(ctx); err != nil {
				logger.Error("", "API server error: %v", err)
			}
		}()
	}

	logger.Info(n.Name(), "reading %s control commands from stdin", framing)
	if err := n.ServeControl(ctx, os.Stdin, framing); err != nil {
		return err
	}

	// 入力が尽きてもシグナルまで動き続ける
	<-ctx.Done()
	return nil
}
