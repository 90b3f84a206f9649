package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

// TestRecovery_WorkersRestored verifies the journal survives a restart and
// returns the workers a new orchestrator should adopt.
func TestRecovery_WorkersRestored(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	workers := []WorkerRecord{
		{
			InstanceID:  "worker-1",
			Asset:       "BTCUSDT",
			VenueSymbol: "BTC",
			Side:        types.SideLong,
			Notional:    decimal.NewFromInt(100),
			Leverage:    5,
			Status:      types.WorkerRunning,
			LaunchedAt:  time.Now().Add(-1 * time.Hour),
		},
		{
			InstanceID:  "worker-2",
			Asset:       "ETHUSDT",
			VenueSymbol: "ETH",
			Side:        types.SideShort,
			Notional:    decimal.NewFromInt(100),
			Leverage:    3,
			Status:      types.WorkerLaunching,
			LaunchedAt:  time.Now().Add(-30 * time.Minute),
		},
	}

	for _, w := range workers {
		if err := repo1.SaveWorker(ctx, w); err != nil {
			t.Fatalf("failed to save worker: %v", err)
		}
	}
	repo1.Close()

	// Simulate restart
	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	restored, err := repo2.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("failed to get workers: %v", err)
	}

	if len(restored) != len(workers) {
		t.Fatalf("worker count mismatch: got %d, want %d", len(restored), len(workers))
	}

	var btc *WorkerRecord
	for i := range restored {
		if restored[i].Asset == "BTCUSDT" {
			btc = &restored[i]
			break
		}
	}
	if btc == nil {
		t.Fatal("BTCUSDT worker not found")
	}
	if btc.Side != types.SideLong {
		t.Errorf("side = %v, want LONG", btc.Side)
	}
	if btc.Leverage != 5 {
		t.Errorf("leverage = %d, want 5", btc.Leverage)
	}
}

// TestRecovery_ArchivedWorkersNotAdopted verifies that workers archived
// before the restart are not offered for adoption.
func TestRecovery_ArchivedWorkersNotAdopted(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_arch_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	live := WorkerRecord{
		InstanceID:  "worker-live",
		Asset:       "SOLUSDT",
		VenueSymbol: "SOL",
		Side:        types.SideLong,
		Notional:    decimal.NewFromInt(40),
		Leverage:    4,
		Status:      types.WorkerRunning,
		LaunchedAt:  time.Now().Add(-2 * time.Hour),
	}
	done := WorkerRecord{
		InstanceID:  "worker-done",
		Asset:       "DOGEUSDT",
		VenueSymbol: "DOGE",
		Side:        types.SideShort,
		Notional:    decimal.NewFromInt(40),
		Leverage:    2,
		Status:      types.WorkerRunning,
		LaunchedAt:  time.Now().Add(-3 * time.Hour),
	}

	for _, w := range []WorkerRecord{live, done} {
		if err := repo1.SaveWorker(ctx, w); err != nil {
			t.Fatalf("failed to save worker: %v", err)
		}
	}
	if err := repo1.UpdateWorkerStatus(ctx, done.InstanceID, types.WorkerArchived); err != nil {
		t.Fatalf("failed to archive worker: %v", err)
	}
	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	restored, err := repo2.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("failed to get workers: %v", err)
	}

	if len(restored) != 1 {
		t.Fatalf("worker count mismatch: got %d, want 1", len(restored))
	}
	if restored[0].InstanceID != live.InstanceID {
		t.Errorf("restored worker = %s, want %s", restored[0].InstanceID, live.InstanceID)
	}
}

// TestRecovery_RebalanceHistoryPreserved verifies the audit trail survives
// a restart.
func TestRecovery_RebalanceHistoryPreserved(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "recovery_reb_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")
	ctx := context.Background()

	repo1, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	baseTime := time.Now().Add(-1 * time.Hour).Truncate(time.Second)
	records := []RebalanceRecord{
		{Timestamp: baseTime, OpenedCount: 20, NotionalPerLong: decimal.NewFromInt(50), NotionalPerShort: decimal.NewFromInt(50)},
		{Timestamp: baseTime.Add(20 * time.Minute), ClosedCount: 2, OpenedCount: 2, RetainedCount: 18},
		{Timestamp: baseTime.Add(40 * time.Minute), RetainedCount: 20},
	}

	for _, rec := range records {
		if err := repo1.SaveRebalance(ctx, rec); err != nil {
			t.Fatalf("failed to save rebalance: %v", err)
		}
	}
	repo1.Close()

	repo2, err := NewSQLiteRepository(dbPath)
	if err != nil {
		t.Fatalf("failed to create second repository: %v", err)
	}
	defer repo2.Close()

	history, err := repo2.RecentRebalances(ctx, baseTime.Add(-time.Minute), time.Now())
	if err != nil {
		t.Fatalf("failed to get rebalance history: %v", err)
	}

	if len(history) != 3 {
		t.Errorf("rebalance history count mismatch: got %d, want 3", len(history))
	}

	// Most recent first
	if len(history) > 0 && history[0].RetainedCount != 20 {
		t.Errorf("latest retained count = %d, want 20", history[0].RetainedCount)
	}
}
