package scenario

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/events"
	"meshbench/internal/transport"
)

// fastConfig はテスト用の短いシナリオ
func fastConfig() Config {
	return Config{
		Name:         "test",
		Description:  "unit test",
		Clients:      3,
		Packets:      5,
		Interval:     20 * time.Millisecond,
		StatsEnabled: true,
		Workers:      2,
		Seed:         42,
		PollInterval: 5 * time.Millisecond,
		ReadyTimeout: 2 * time.Second,
		Timeout:      3 * time.Second,
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.Name != "default" {
		t.Errorf("expected name 'default', got '%s'", config.Name)
	}
	if config.Clients != 5 {
		t.Errorf("expected 5 clients, got %d", config.Clients)
	}
	if !config.StatsEnabled {
		t.Error("expected stats to be enabled")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("expected default config to be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no clients", func(c *Config) { c.Clients = 0 }, true},
		{"too many clients", func(c *Config) { c.Clients = 256 }, true},
		{"zero interval", func(c *Config) { c.Interval = 0 }, true},
		{"sub millisecond", func(c *Config) { c.Interval = 1500 * time.Microsecond }, true},
		{"max interval", func(c *Config) { c.Interval = 16383 * time.Millisecond }, false},
		{"interval overflow", func(c *Config) { c.Interval = 16384 * time.Millisecond }, true},
		{"bad impairment", func(c *Config) { c.Impairments.Loss = 2 }, true},
		{"bad chaos", func(c *Config) { c.Chaos = &chaos.Config{} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := fastConfig()
			tt.modify(&c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigSettings(t *testing.T) {
	c := fastConfig()
	s := c.Settings()
	if s.NodeCount != 3 || s.PacketCount != 5 || s.Interval != 20 {
		t.Errorf("unexpected settings %+v", s)
	}
}

func TestNewEngine(t *testing.T) {
	engine := New(DefaultConfig())

	if engine == nil {
		t.Fatal("expected non-nil engine")
	}
	if engine.IsRunning() {
		t.Error("expected engine to not be running initially")
	}
	if engine.Cluster() != nil || engine.MediumStats() != nil {
		t.Error("expected no cluster before run")
	}
}

func TestEngineRunClean(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe()

	engine := New(fastConfig())
	engine.SetEventBus(bus)

	result, err := engine.Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.ScenarioName != "test" {
		t.Errorf("expected scenario name 'test', got '%s'", result.ScenarioName)
	}
	if result.Completed != 3 || result.TimedOut {
		t.Errorf("expected all 3 clients to finish, got %d (timed out %v)", result.Completed, result.TimedOut)
	}
	if result.Sent != 15 || result.Delivered != 15 || result.Received != 15 {
		t.Errorf("expected 15 sent/received/delivered, got %d/%d/%d", result.Sent, result.Received, result.Delivered)
	}
	if result.DeliveryRatio != 1 {
		t.Errorf("expected delivery ratio 1, got %v", result.DeliveryRatio)
	}
	if len(result.Senders) != 3 {
		t.Fatalf("expected 3 sender reports, got %d", len(result.Senders))
	}
	for _, s := range result.Senders {
		if s.Delivered != 5 || s.HighWater != 5 {
			t.Errorf("sender %d: unexpected report %+v", s.ID, s)
		}
	}
	if result.FinalNodeStatus["client-1"] != "running/idle done" {
		t.Errorf("unexpected final status %q", result.FinalNodeStatus["client-1"])
	}

	done := 0
	for done < 3 {
		select {
		case ev := <-sub:
			if ev.Type == events.EventClientDone {
				done++
			}
		case <-time.After(time.Second):
			t.Fatalf("expected 3 client_done events, got %d", done)
		}
	}
}

func TestEngineRunLossy(t *testing.T) {
	config := fastConfig()
	config.Impairments = transport.Impairments{Loss: 1}

	result, err := New(config).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	// 損失があってもクライアントは送信を終える
	if result.Completed != 3 {
		t.Errorf("expected clients to finish despite loss, got %d", result.Completed)
	}
	if result.Delivered != 0 || result.DeliveryRatio != 0 {
		t.Errorf("expected nothing delivered, got %d (%v)", result.Delivered, result.DeliveryRatio)
	}
	if result.Medium.Lost != 15 {
		t.Errorf("expected 15 lost frames, got %d", result.Medium.Lost)
	}
}

func TestEngineRunChaos(t *testing.T) {
	config := fastConfig()
	config.Chaos = &chaos.Config{
		Interval:    15 * time.Millisecond,
		Duration:    10 * time.Millisecond,
		AttackTypes: []chaos.AttackType{chaos.AttackBlackout},
		Seed:        7,
	}

	result, err := New(config).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.Completed != 3 {
		t.Errorf("expected clients to finish despite disruptions, got %d", result.Completed)
	}
	if result.Chaos == nil || result.Chaos.TotalAttacks == 0 {
		t.Fatalf("expected disruptions to be recorded, got %+v", result.Chaos)
	}
	if result.Chaos.Active != "" {
		t.Errorf("expected medium restored at the end, still %s", result.Chaos.Active)
	}
	if result.Delivered > 15 {
		t.Errorf("delivered more than sent: %d", result.Delivered)
	}
	if !strings.Contains(result.Report(), "Disruptions:") {
		t.Error("expected report to mention disruptions")
	}
}

func TestEngineRunDuplicates(t *testing.T) {
	config := fastConfig()
	config.Impairments = transport.Impairments{Duplicate: 1}

	result, err := New(config).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	if result.Received != 30 {
		t.Errorf("expected 30 received frames, got %d", result.Received)
	}
	if result.Delivered != 15 || result.Discarded != 15 {
		t.Errorf("expected 15 delivered and 15 discarded, got %d and %d", result.Delivered, result.Discarded)
	}
}

func TestEngineRunInvalid(t *testing.T) {
	config := fastConfig()
	config.Clients = 0

	if _, err := New(config).Run(context.Background()); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestEngineRunCancelled(t *testing.T) {
	config := fastConfig()
	config.Interval = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := New(config).Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestEngineDoubleRun(t *testing.T) {
	config := fastConfig()
	config.Interval = 200 * time.Millisecond
	engine := New(config)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = engine.Run(context.Background())
	}()

	deadline := time.Now().Add(time.Second)
	for !engine.IsRunning() {
		if time.Now().After(deadline) {
			t.Fatal("engine did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := engine.Run(context.Background()); err == nil {
		t.Error("expected error when running twice")
	}
	wg.Wait()
}

func TestResultReport(t *testing.T) {
	result, err := New(fastConfig()).Run(context.Background())
	if err != nil {
		t.Fatalf("failed to run scenario: %v", err)
	}

	report := result.Report()
	for _, want := range []string{
		"BENCHMARK REPORT: test",
		"Delivery Ratio: 100.00%",
		"node 1",
		"client-3:",
		"sink:",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}

func TestWaitForTimeout(t *testing.T) {
	ch := make(chan string, 3)
	ch <- "client-1"
	ch <- "client-1"

	n, err := waitFor(context.Background(), ch, 2, 20*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
	if n != 1 {
		t.Errorf("expected duplicates to count once, got %d", n)
	}
}

func TestLineWatcher(t *testing.T) {
	var lines []string
	w := &lineWatcher{name: "client-1", onLine: func(name, line string) {
		lines = append(lines, name+":"+line)
	}}

	_, _ = w.Write([]byte("BMCC_"))
	_, _ = w.Write([]byte("START\r\nBMCD_DONE\n2"))

	if len(lines) != 2 || lines[0] != "client-1:BMCC_START" || lines[1] != "client-1:BMCD_DONE" {
		t.Errorf("unexpected lines %q", lines)
	}
}
