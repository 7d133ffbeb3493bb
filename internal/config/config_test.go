package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/control"
	"meshbench/internal/logger"
	"meshbench/internal/node"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	return path
}

func TestLoadFileYAML(t *testing.T) {
	content := `
node:
  id: 3
  role: client
  poll_interval: 250ms
control:
  framing: raw
transport:
  sink: "[fd00::1]:5678"
session:
  nodes: 10
  packets: 50
  interval: 1s
  stats: true
scenario:
  preset: lossy
  timeout: 30s
  medium:
    loss: 0.3
    delay: 20ms
api:
  addr: ":8080"
store:
  path: runs.db
log:
  level: debug
`
	cfg, err := LoadFile(writeFile(t, "config.yaml", content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Node.ID != 3 || cfg.Node.Role != "client" {
		t.Errorf("unexpected node section %+v", cfg.Node)
	}
	if cfg.Session.Nodes != 10 || cfg.Session.Interval != "1s" {
		t.Errorf("unexpected session section %+v", cfg.Session)
	}
	if cfg.Session.Stats == nil || !*cfg.Session.Stats {
		t.Error("expected session stats to be set")
	}
	if cfg.Scenario.Medium.Loss != 0.3 {
		t.Errorf("expected loss 0.3, got %v", cfg.Scenario.Medium.Loss)
	}
	if cfg.Transport.Sink != "[fd00::1]:5678" {
		t.Errorf("unexpected sink %q", cfg.Transport.Sink)
	}
	if cfg.Store.Path != "runs.db" || cfg.API.Addr != ":8080" {
		t.Errorf("unexpected store/api sections %+v %+v", cfg.Store, cfg.API)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadFileJSON(t *testing.T) {
	content := `{
  "node": {"id": 0, "role": "sink", "max_senders": 64},
  "transport": {"listen": ":5678"},
  "log": {"level": "warn"}
}`
	cfg, err := LoadFile(writeFile(t, "config.json", content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Node.Role != "sink" || cfg.Node.MaxSenders != 64 {
		t.Errorf("unexpected node section %+v", cfg.Node)
	}
	if cfg.Transport.Listen != ":5678" {
		t.Errorf("unexpected listen %q", cfg.Transport.Listen)
	}
	level, err := cfg.LogLevel()
	if err != nil || level != logger.LevelWarn {
		t.Errorf("expected warn level, got %v, %v", level, err)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	if _, err := LoadFile("/nonexistent/config.yaml"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadFileUnsupportedFormat(t *testing.T) {
	if _, err := LoadFile(writeFile(t, "config.txt", "test")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestLoadFileInvalidYAML(t *testing.T) {
	if _, err := LoadFile(writeFile(t, "config.yaml", "node: [unclosed")); err == nil {
		t.Error("expected parse error")
	}
}

func TestToScenarioConfig(t *testing.T) {
	stats := false
	cfg := &FileConfig{
		Node: NodeConfig{PollInterval: "10ms"},
		Session: SessionConfig{
			Nodes:    4,
			Packets:  30,
			Interval: "250ms",
			Stats:    &stats,
		},
		Scenario: ScenarioConfig{
			Preset:  "latency",
			Name:    "custom",
			Timeout: "20s",
			Seed:    7,
			Medium:  MediumConfig{Loss: 0.1, Jitter: "5ms"},
		},
	}

	sc, err := cfg.ToScenarioConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}

	if sc.Name != "custom" {
		t.Errorf("expected name 'custom', got '%s'", sc.Name)
	}
	if sc.Clients != 4 || sc.Packets != 30 || sc.Interval != 250*time.Millisecond {
		t.Errorf("unexpected session values %+v", sc)
	}
	if sc.StatsEnabled {
		t.Error("expected stats disabled")
	}
	if sc.Timeout != 20*time.Second || sc.PollInterval != 10*time.Millisecond || sc.Seed != 7 {
		t.Errorf("unexpected timing values %+v", sc)
	}
	// preset の遅延は残り、指定した項目だけ上書きされる
	if sc.Impairments.Delay != 30*time.Millisecond {
		t.Errorf("expected preset delay 30ms, got %v", sc.Impairments.Delay)
	}
	if sc.Impairments.Jitter != 5*time.Millisecond || sc.Impairments.Loss != 0.1 {
		t.Errorf("unexpected impairments %+v", sc.Impairments)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("expected converted config to be valid: %v", err)
	}
}

func TestToScenarioConfigDefaults(t *testing.T) {
	sc, err := (&FileConfig{}).ToScenarioConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}
	if sc.Name != "default" || !sc.StatsEnabled {
		t.Errorf("expected default scenario, got %+v", sc)
	}
}

func TestToScenarioConfigChaos(t *testing.T) {
	content := `
scenario:
  preset: basic
  seed: 9
  chaos:
    interval: 4s
    duration: 1s
    attacks: [blackout, delay]
    delay: 50ms
`
	cfg, err := LoadFile(writeFile(t, "chaos.yaml", content))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	sc, err := cfg.ToScenarioConfig()
	if err != nil {
		t.Fatalf("failed to convert config: %v", err)
	}

	if sc.Chaos == nil {
		t.Fatal("expected chaos config")
	}
	if sc.Chaos.Interval != 4*time.Second || sc.Chaos.Duration != time.Second {
		t.Errorf("unexpected chaos timing %+v", sc.Chaos)
	}
	if len(sc.Chaos.AttackTypes) != 2 || sc.Chaos.AttackTypes[1] != chaos.AttackDelay {
		t.Errorf("unexpected attacks %v", sc.Chaos.AttackTypes)
	}
	if sc.Chaos.DelayDuration != 50*time.Millisecond || sc.Chaos.Seed != 9 {
		t.Errorf("unexpected chaos values %+v", sc.Chaos)
	}
	// 省略した値はデフォルト
	if sc.Chaos.BurstLoss != chaos.DefaultConfig().BurstLoss {
		t.Errorf("expected default burst loss, got %v", sc.Chaos.BurstLoss)
	}
}

func TestToScenarioConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  FileConfig
	}{
		{"unknown preset", FileConfig{Scenario: ScenarioConfig{Preset: "nope"}}},
		{"bad interval", FileConfig{Session: SessionConfig{Interval: "fast"}}},
		{"bad timeout", FileConfig{Scenario: ScenarioConfig{Timeout: "soon"}}},
		{"bad delay", FileConfig{Scenario: ScenarioConfig{Medium: MediumConfig{Delay: "x"}}}},
		{"unknown attack", FileConfig{Scenario: ScenarioConfig{Chaos: &ChaosConfig{Attacks: []string{"kill"}}}}},
		{"chaos duration too long", FileConfig{Scenario: ScenarioConfig{Chaos: &ChaosConfig{Interval: "1s", Duration: "2s"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.ToScenarioConfig(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestToNodeConfig(t *testing.T) {
	cfg := &FileConfig{Node: NodeConfig{ID: 7, Role: "sink", MaxSenders: 32, PollInterval: "1s"}}

	nc, err := cfg.ToNodeConfig()
	if err != nil {
		t.Fatalf("failed to convert: %v", err)
	}
	if nc.ID != 7 || nc.Role != node.RoleSink || nc.MaxSenders != 32 || nc.PollInterval != time.Second {
		t.Errorf("unexpected node config %+v", nc)
	}

	nc, err = (&FileConfig{}).ToNodeConfig()
	if err != nil || nc.Role != node.RoleClient {
		t.Errorf("expected client by default, got %v, %v", nc.Role, err)
	}
}

func TestFraming(t *testing.T) {
	f, err := (&FileConfig{}).Framing()
	if err != nil || f != control.FramingHex {
		t.Errorf("expected hex by default, got %v, %v", f, err)
	}

	f, err = (&FileConfig{Control: ControlConfig{Framing: "raw"}}).Framing()
	if err != nil || f != control.FramingRaw {
		t.Errorf("expected raw, got %v, %v", f, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     FileConfig
		wantErr bool
	}{
		{"empty", FileConfig{}, false},
		{"bad id", FileConfig{Node: NodeConfig{ID: 300}}, true},
		{"bad role", FileConfig{Node: NodeConfig{Role: "router"}}, true},
		{"bad framing", FileConfig{Control: ControlConfig{Framing: "base64"}}, true},
		{"too many packets", FileConfig{Session: SessionConfig{Packets: 256}}, true},
		{"interval overflow", FileConfig{Session: SessionConfig{Interval: "17s"}}, true},
		{"sub millisecond interval", FileConfig{Session: SessionConfig{Interval: "100us"}}, true},
		{"bad loss", FileConfig{Scenario: ScenarioConfig{Medium: MediumConfig{Loss: 1.5}}}, true},
		{"bad level", FileConfig{Log: LogConfig{Level: "verbose"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
