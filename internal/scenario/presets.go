package scenario

import (
	"sort"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/transport"
)

// QuickScenario は短時間での動作確認用シナリオを返す
func QuickScenario() Config {
	return Config{
		Name:         "quick",
		Description:  "Quick verification with a handful of clients",
		Clients:      3,
		Packets:      10,
		Interval:     100 * time.Millisecond,
		StatsEnabled: true,
	}
}

// BasicScenario は障害なしの基本シナリオを返す
func BasicScenario() Config {
	return Config{
		Name:         "basic",
		Description:  "Baseline run on a clean medium",
		Clients:      5,
		Packets:      50,
		Interval:     time.Second,
		StatsEnabled: true,
	}
}

// LossyScenario は損失のある媒体でのシナリオを返す
func LossyScenario() Config {
	c := BasicScenario()
	c.Name = "lossy"
	c.Description = "20% frame loss on the shared medium"
	c.Interval = 500 * time.Millisecond
	c.Impairments = transport.Impairments{Loss: 0.2}
	return c
}

// DuplicateScenario は重複フレームのあるシナリオを返す
// シンクの重複排除を確認する
func DuplicateScenario() Config {
	c := BasicScenario()
	c.Name = "duplicate"
	c.Description = "30% of frames delivered twice"
	c.Interval = 500 * time.Millisecond
	c.Impairments = transport.Impairments{Duplicate: 0.3}
	return c
}

// CorruptScenario はビット化けのあるシナリオを返す
func CorruptScenario() Config {
	c := BasicScenario()
	c.Name = "corrupt"
	c.Description = "10% of frames with a flipped byte"
	c.Interval = 500 * time.Millisecond
	c.Impairments = transport.Impairments{Corrupt: 0.1}
	return c
}

// LatencyScenario は遅延と揺らぎのあるシナリオを返す
func LatencyScenario() Config {
	c := BasicScenario()
	c.Name = "latency"
	c.Description = "30ms propagation delay with 20ms jitter"
	c.Interval = 500 * time.Millisecond
	c.Impairments = transport.Impairments{Delay: 30 * time.Millisecond, Jitter: 20 * time.Millisecond}
	return c
}

// DenseScenario は多数ノードのシナリオを返す
func DenseScenario() Config {
	return Config{
		Name:         "dense",
		Description:  "Many clients sharing one interval",
		Clients:      20,
		Packets:      100,
		Interval:     200 * time.Millisecond,
		StatsEnabled: true,
		Impairments:  transport.Impairments{Loss: 0.05, Duplicate: 0.05},
	}
}

// FlakyScenario は送信中に経路断や損失バーストが起きるシナリオを返す
func FlakyScenario() Config {
	c := BasicScenario()
	c.Name = "flaky"
	c.Description = "Periodic blackouts and loss bursts while clients send"
	c.Interval = 500 * time.Millisecond
	c.Chaos = &chaos.Config{
		Interval:    3 * time.Second,
		Duration:    600 * time.Millisecond,
		AttackTypes: []chaos.AttackType{chaos.AttackBlackout, chaos.AttackBurstLoss},
		BurstLoss:   0.5,
	}
	return c
}

var presets = map[string]func() Config{
	"quick":     QuickScenario,
	"basic":     BasicScenario,
	"lossy":     LossyScenario,
	"duplicate": DuplicateScenario,
	"corrupt":   CorruptScenario,
	"latency":   LatencyScenario,
	"dense":     DenseScenario,
	"flaky":     FlakyScenario,
}

// GetPreset は名前からプリセットシナリオを取得する
func GetPreset(name string) (Config, bool) {
	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
