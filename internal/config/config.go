package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/control"
	"meshbench/internal/logger"
	"meshbench/internal/node"
	"meshbench/internal/scenario"
	"meshbench/internal/transport"

	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Node      NodeConfig      `yaml:"node" json:"node"`
	Control   ControlConfig   `yaml:"control" json:"control"`
	Transport TransportConfig `yaml:"transport" json:"transport"`
	Session   SessionConfig   `yaml:"session" json:"session"`
	Scenario  ScenarioConfig  `yaml:"scenario" json:"scenario"`
	API       APIConfig       `yaml:"api" json:"api"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Log       LogConfig       `yaml:"log" json:"log"`
}

// NodeConfig は単体ノードとして動かす場合の設定
type NodeConfig struct {
	ID           int    `yaml:"id" json:"id"`
	Role         string `yaml:"role" json:"role"`
	PollInterval string `yaml:"poll_interval" json:"poll_interval"`
	MaxSenders   int    `yaml:"max_senders" json:"max_senders"`
}

// ControlConfig は制御チャネルの設定
type ControlConfig struct {
	Framing string `yaml:"framing" json:"framing"`
}

// TransportConfig は UDP の設定
type TransportConfig struct {
	Listen string `yaml:"listen" json:"listen"` // シンクの待ち受けアドレス
	Sink   string `yaml:"sink" json:"sink"`     // クライアントの送信先
}

// SessionConfig はコントローラが SET で送る値
type SessionConfig struct {
	Nodes    int    `yaml:"nodes" json:"nodes"`
	Packets  int    `yaml:"packets" json:"packets"`
	Interval string `yaml:"interval" json:"interval"`
	Stats    *bool  `yaml:"stats" json:"stats"`
}

// ScenarioConfig はプロセス内ベンチマークの設定
type ScenarioConfig struct {
	Preset       string       `yaml:"preset" json:"preset"`
	Name         string       `yaml:"name" json:"name"`
	Description  string       `yaml:"description" json:"description"`
	Timeout      string       `yaml:"timeout" json:"timeout"`
	ReadyTimeout string       `yaml:"ready_timeout" json:"ready_timeout"`
	Workers      int          `yaml:"workers" json:"workers"`
	Seed         int64        `yaml:"seed" json:"seed"`
	Medium       MediumConfig `yaml:"medium" json:"medium"`
	Chaos        *ChaosConfig `yaml:"chaos" json:"chaos"`
}

// MediumConfig はインメモリ媒体の障害設定
type MediumConfig struct {
	Loss      float64 `yaml:"loss" json:"loss"`
	Duplicate float64 `yaml:"duplicate" json:"duplicate"`
	Corrupt   float64 `yaml:"corrupt" json:"corrupt"`
	Delay     string  `yaml:"delay" json:"delay"`
	Jitter    string  `yaml:"jitter" json:"jitter"`
}

// ChaosConfig は送信中の媒体障害の設定。省略した値は chaos.DefaultConfig を使う
type ChaosConfig struct {
	Interval    string   `yaml:"interval" json:"interval"`
	Duration    string   `yaml:"duration" json:"duration"`
	Attacks     []string `yaml:"attacks" json:"attacks"`
	BurstLoss   float64  `yaml:"burst_loss" json:"burst_loss"`
	Delay       string   `yaml:"delay" json:"delay"`
	CorruptRate float64  `yaml:"corrupt_rate" json:"corrupt_rate"`
}

// toChaos は chaos.Config に変換する
func (c ChaosConfig) toChaos(seed int64) (chaos.Config, error) {
	config := chaos.DefaultConfig()
	config.Seed = seed

	if d, ok, err := parseDuration("scenario.chaos.interval", c.Interval); err != nil {
		return config, err
	} else if ok {
		config.Interval = d
	}
	if d, ok, err := parseDuration("scenario.chaos.duration", c.Duration); err != nil {
		return config, err
	} else if ok {
		config.Duration = d
	}
	if d, ok, err := parseDuration("scenario.chaos.delay", c.Delay); err != nil {
		return config, err
	} else if ok {
		config.DelayDuration = d
	}
	if c.BurstLoss > 0 {
		config.BurstLoss = c.BurstLoss
	}
	if c.CorruptRate > 0 {
		config.CorruptRate = c.CorruptRate
	}
	if len(c.Attacks) > 0 {
		config.AttackTypes = nil
		for _, name := range c.Attacks {
			a, err := chaos.ParseAttackType(name)
			if err != nil {
				return config, fmt.Errorf("scenario.chaos.attacks: %w", err)
			}
			config.AttackTypes = append(config.AttackTypes, a)
		}
	}
	return config, config.Validate()
}

// APIConfig は HTTP API の設定
type APIConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// StoreConfig は結果保存先の設定
type StoreConfig struct {
	Path string `yaml:"path" json:"path"`
}

// LogConfig はログ設定
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// parseDuration は空文字列なら ok=false を返す
func parseDuration(field, s string) (time.Duration, bool, error) {
	if s == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("invalid %s: %w", field, err)
	}
	return d, true, nil
}

// ToScenarioConfig は FileConfig を scenario.Config に変換する
// preset があればそれを基にし、session と scenario の値で上書きする
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	sc := f.Scenario

	config := scenario.DefaultConfig()
	if sc.Preset != "" {
		preset, ok := scenario.GetPreset(sc.Preset)
		if !ok {
			return config, fmt.Errorf("unknown preset: %s", sc.Preset)
		}
		config = preset
	}

	if sc.Name != "" {
		config.Name = sc.Name
	}
	if sc.Description != "" {
		config.Description = sc.Description
	}

	// Session設定
	if f.Session.Nodes > 0 {
		config.Clients = f.Session.Nodes
	}
	if f.Session.Packets > 0 {
		config.Packets = uint8(f.Session.Packets)
	}
	if d, ok, err := parseDuration("session.interval", f.Session.Interval); err != nil {
		return config, err
	} else if ok {
		config.Interval = d
	}
	if f.Session.Stats != nil {
		config.StatsEnabled = *f.Session.Stats
	}

	// 待ち時間
	if d, ok, err := parseDuration("scenario.timeout", sc.Timeout); err != nil {
		return config, err
	} else if ok {
		config.Timeout = d
	}
	if d, ok, err := parseDuration("scenario.ready_timeout", sc.ReadyTimeout); err != nil {
		return config, err
	} else if ok {
		config.ReadyTimeout = d
	}
	if d, ok, err := parseDuration("node.poll_interval", f.Node.PollInterval); err != nil {
		return config, err
	} else if ok {
		config.PollInterval = d
	}
	if sc.Workers > 0 {
		config.Workers = sc.Workers
	}
	if sc.Seed != 0 {
		config.Seed = sc.Seed
	}

	// Medium設定
	imp, err := sc.Medium.toImpairments(config.Impairments)
	if err != nil {
		return config, err
	}
	config.Impairments = imp

	// Chaos設定
	if sc.Chaos != nil {
		cc, err := sc.Chaos.toChaos(config.Seed)
		if err != nil {
			return config, err
		}
		config.Chaos = &cc
	}

	return config, nil
}

// toImpairments は設定された項目だけ base を上書きする
func (m MediumConfig) toImpairments(base transport.Impairments) (transport.Impairments, error) {
	if m.Loss > 0 {
		base.Loss = m.Loss
	}
	if m.Duplicate > 0 {
		base.Duplicate = m.Duplicate
	}
	if m.Corrupt > 0 {
		base.Corrupt = m.Corrupt
	}
	if d, ok, err := parseDuration("scenario.medium.delay", m.Delay); err != nil {
		return base, err
	} else if ok {
		base.Delay = d
	}
	if d, ok, err := parseDuration("scenario.medium.jitter", m.Jitter); err != nil {
		return base, err
	} else if ok {
		base.Jitter = d
	}
	return base, nil
}

// ToNodeConfig は単体ノード用の node.Config を作る
// Status や Route などの実行時の値は呼び出し側で設定する
func (f *FileConfig) ToNodeConfig() (node.Config, error) {
	var config node.Config

	role := f.Node.Role
	if role == "" {
		role = node.RoleClient.String()
	}
	r, err := node.ParseRole(role)
	if err != nil {
		return config, err
	}
	config.Role = r
	config.ID = uint8(f.Node.ID)
	config.MaxSenders = f.Node.MaxSenders

	if d, ok, err := parseDuration("node.poll_interval", f.Node.PollInterval); err != nil {
		return config, err
	} else if ok {
		config.PollInterval = d
	}
	return config, nil
}

// Framing は制御チャネルのフレーミングを返す（デフォルト hex）
func (f *FileConfig) Framing() (control.Framing, error) {
	if f.Control.Framing == "" {
		return control.FramingHex, nil
	}
	return control.ParseFraming(f.Control.Framing)
}

// LogLevel はログレベルを返す（デフォルト info）
func (f *FileConfig) LogLevel() (logger.Level, error) {
	if f.Log.Level == "" {
		return logger.LevelInfo, nil
	}
	return logger.ParseLevel(f.Log.Level)
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	if f.Node.ID < 0 || f.Node.ID > 255 {
		return fmt.Errorf("node.id must be between 0 and 255")
	}
	if f.Node.Role != "" {
		if _, err := node.ParseRole(f.Node.Role); err != nil {
			return fmt.Errorf("node.role: %w", err)
		}
	}
	if f.Node.MaxSenders < 0 || f.Node.MaxSenders > 256 {
		return fmt.Errorf("node.max_senders must be between 0 and 256")
	}

	if _, err := f.Framing(); err != nil {
		return fmt.Errorf("control.framing: %w", err)
	}

	if f.Session.Nodes < 0 || f.Session.Nodes > 255 {
		return fmt.Errorf("session.nodes must be between 0 and 255")
	}
	if f.Session.Packets < 0 || f.Session.Packets > 255 {
		return fmt.Errorf("session.packets must be between 0 and 255")
	}
	if d, ok, err := parseDuration("session.interval", f.Session.Interval); err != nil {
		return err
	} else if ok && (d < time.Millisecond || d.Milliseconds() > control.MaxInterval) {
		return fmt.Errorf("session.interval must be between 1ms and %dms", control.MaxInterval)
	}

	m := f.Scenario.Medium
	for name, p := range map[string]float64{"loss": m.Loss, "duplicate": m.Duplicate, "corrupt": m.Corrupt} {
		if p < 0 || p > 1 {
			return fmt.Errorf("scenario.medium.%s must be between 0 and 1", name)
		}
	}
	if f.Scenario.Workers < 0 {
		return fmt.Errorf("scenario.workers must be non-negative")
	}

	if _, err := f.LogLevel(); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	return nil
}
