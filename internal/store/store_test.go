package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"meshbench/internal/chaos"
	"meshbench/internal/control"
	"meshbench/internal/scenario"
	"meshbench/internal/server"
	"meshbench/internal/transport"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "data", "runs.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleResult(name string) *scenario.Result {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &scenario.Result{
		ScenarioName:  name,
		StartTime:     start,
		EndTime:       start.Add(1500 * time.Millisecond),
		Duration:      1500 * time.Millisecond,
		Settings:      control.Settings{NodeCount: 2, PacketCount: 10, Interval: 100},
		Impairments:   transport.Impairments{Loss: 0.25},
		Clients:       2,
		Completed:     2,
		Sent:          20,
		Received:      16,
		Delivered:     15,
		Discarded:     1,
		Corrupted:     1,
		DeliveryRatio: 0.75,
		Chaos:         &chaos.Stats{TotalAttacks: 3},
		Senders: []server.SenderReport{
			{ID: 1, HighWater: 10, Delivered: 8, Expected: 10, Ratio: 0.8, LastTick: 950},
			{ID: 2, HighWater: 9, Delivered: 7, Corrupted: 1, Expected: 10, Ratio: 0.7, LastTick: 880},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	id, err := st.SaveRun(ctx, sampleResult("lossy"))
	if err != nil {
		t.Fatalf("failed to save run: %v", err)
	}

	run, err := st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}

	if run.Scenario != "lossy" || run.Clients != 2 || run.Packets != 10 || run.IntervalMS != 100 {
		t.Errorf("unexpected run %+v", run)
	}
	if run.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %v", run.Duration)
	}
	if !run.StartedAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start time %v", run.StartedAt)
	}
	if run.Disruptions != 3 {
		t.Errorf("expected 3 disruptions, got %d", run.Disruptions)
	}
	if run.Loss != 0.25 || run.DeliveryRatio != 0.75 || run.TimedOut {
		t.Errorf("unexpected figures %+v", run)
	}
	if run.Delivered != 15 || run.Discarded != 1 || run.Corrupted != 1 {
		t.Errorf("unexpected counts %+v", run)
	}

	if len(run.Senders) != 2 {
		t.Fatalf("expected 2 senders, got %d", len(run.Senders))
	}
	if run.Senders[1] != (server.SenderReport{ID: 2, HighWater: 9, Delivered: 7, Corrupted: 1, Expected: 10, Ratio: 0.7, LastTick: 880}) {
		t.Errorf("unexpected sender row %+v", run.Senders[1])
	}
}

func TestListRuns(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		if _, err := st.SaveRun(ctx, sampleResult(name)); err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
	}

	runs, err := st.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].Scenario != "third" || runs[1].Scenario != "second" {
		t.Errorf("expected newest first, got %s, %s", runs[0].Scenario, runs[1].Scenario)
	}
	if runs[0].Senders != nil {
		t.Error("list must not load sender rows")
	}
}

func TestGetRunNotFound(t *testing.T) {
	st := openTemp(t)

	if _, err := st.GetRun(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRun(t *testing.T) {
	st := openTemp(t)
	ctx := context.Background()

	id, err := st.SaveRun(ctx, sampleResult("gone"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := st.DeleteRun(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.GetRun(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected run to be gone, got %v", err)
	}
	if err := st.DeleteRun(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestOpenMemory(t *testing.T) {
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory store: %v", err)
	}
	defer st.Close()

	if _, err := st.SaveRun(context.Background(), sampleResult("mem")); err != nil {
		t.Errorf("save to memory store: %v", err)
	}
	runs, err := st.ListRuns(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("expected 1 run, got %d, %v", len(runs), err)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := st.SaveRun(context.Background(), sampleResult("durable"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	st.Close()

	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	run, err := st.GetRun(context.Background(), id)
	if err != nil || run.Scenario != "durable" {
		t.Errorf("expected persisted run, got %+v, %v", run, err)
	}
}
