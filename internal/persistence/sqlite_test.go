package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/lsquant/twapbot/internal/types"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) (*SQLiteRepository, func()) {
	t.Helper()

	// Create temp file
	f, err := os.CreateTemp("", "twapbot-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("create repository: %v", err)
	}

	cleanup := func() {
		repo.Close()
		os.Remove(path)
	}

	return repo, cleanup
}

func TestSQLiteRepository_SaveWorker(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	record := WorkerRecord{
		InstanceID:  "worker-123",
		Asset:       "BTCUSDT",
		VenueSymbol: "BTC",
		Side:        types.SideLong,
		Notional:    decimal.NewFromInt(100),
		Leverage:    5,
		Status:      types.WorkerLaunching,
		LaunchedAt:  time.Now().Truncate(time.Second),
	}

	if err := repo.SaveWorker(ctx, record); err != nil {
		t.Fatalf("save worker: %v", err)
	}

	workers, err := repo.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}

	if len(workers) != 1 {
		t.Fatalf("workers length = %d, want 1", len(workers))
	}

	got := workers[0]
	if got.InstanceID != record.InstanceID {
		t.Errorf("instance ID = %s, want %s", got.InstanceID, record.InstanceID)
	}
	if got.VenueSymbol != record.VenueSymbol {
		t.Errorf("venue symbol = %s, want %s", got.VenueSymbol, record.VenueSymbol)
	}
	if !got.Notional.Equal(record.Notional) {
		t.Errorf("notional = %s, want %s", got.Notional, record.Notional)
	}
	if got.Leverage != record.Leverage {
		t.Errorf("leverage = %d, want %d", got.Leverage, record.Leverage)
	}
	if got.Status != types.WorkerLaunching {
		t.Errorf("status = %v, want %v", got.Status, types.WorkerLaunching)
	}
}

func TestSQLiteRepository_UpdateWorkerStatus(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	record := WorkerRecord{
		InstanceID:  "worker-456",
		Asset:       "ETHUSDT",
		VenueSymbol: "ETH",
		Side:        types.SideShort,
		Notional:    decimal.NewFromInt(50),
		Leverage:    3,
		Status:      types.WorkerLaunching,
		LaunchedAt:  time.Now().Truncate(time.Second),
	}

	if err := repo.SaveWorker(ctx, record); err != nil {
		t.Fatalf("save worker: %v", err)
	}

	if err := repo.UpdateWorkerStatus(ctx, record.InstanceID, types.WorkerRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}

	workers, err := repo.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("workers length = %d, want 1", len(workers))
	}
	if workers[0].Status != types.WorkerRunning {
		t.Errorf("status = %v, want %v", workers[0].Status, types.WorkerRunning)
	}

	// Unknown instance
	err = repo.UpdateWorkerStatus(ctx, "no-such-worker", types.WorkerRunning)
	if !errors.Is(err, types.ErrWorkerNotFound) {
		t.Errorf("error = %v, want ErrWorkerNotFound", err)
	}
}

func TestSQLiteRepository_ArchivedWorkersExcluded(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	for i, id := range []string{"worker-a", "worker-b"} {
		record := WorkerRecord{
			InstanceID:  id,
			Asset:       "SOLUSDT",
			VenueSymbol: "SOL",
			Side:        types.SideLong,
			Notional:    decimal.NewFromInt(int64(10 * (i + 1))),
			Leverage:    3,
			Status:      types.WorkerRunning,
			LaunchedAt:  time.Now().Truncate(time.Second),
		}
		if err := repo.SaveWorker(ctx, record); err != nil {
			t.Fatalf("save worker %s: %v", id, err)
		}
	}

	if err := repo.UpdateWorkerStatus(ctx, "worker-a", types.WorkerArchived); err != nil {
		t.Fatalf("archive worker: %v", err)
	}

	workers, err := repo.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}

	if len(workers) != 1 {
		t.Fatalf("workers length = %d, want 1", len(workers))
	}
	if workers[0].InstanceID != "worker-b" {
		t.Errorf("remaining worker = %s, want worker-b", workers[0].InstanceID)
	}
}

func TestSQLiteRepository_DeleteWorker(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	record := WorkerRecord{
		InstanceID:  "worker-789",
		Asset:       "XRPUSDT",
		VenueSymbol: "XRP",
		Side:        types.SideShort,
		Notional:    decimal.NewFromInt(25),
		Leverage:    2,
		Status:      types.WorkerRunning,
		LaunchedAt:  time.Now().Truncate(time.Second),
	}

	if err := repo.SaveWorker(ctx, record); err != nil {
		t.Fatalf("save worker: %v", err)
	}

	if err := repo.DeleteWorker(ctx, record.InstanceID); err != nil {
		t.Fatalf("delete worker: %v", err)
	}

	workers, err := repo.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}
	if len(workers) != 0 {
		t.Errorf("workers length after delete = %d, want 0", len(workers))
	}

	// Deleting again is a no-op
	if err := repo.DeleteWorker(ctx, record.InstanceID); err != nil {
		t.Errorf("delete missing worker: %v", err)
	}
}

func TestSQLiteRepository_Rebalance(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().Truncate(time.Second)

	record := RebalanceRecord{
		Timestamp:        now,
		OpenedCount:      4,
		ClosedCount:      3,
		RetainedCount:    7,
		FailedCount:      1,
		NotionalPerLong:  decimal.NewFromInt(50),
		NotionalPerShort: decimal.NewFromInt(50),
		Duration:         1250 * time.Millisecond,
	}

	if err := repo.SaveRebalance(ctx, record); err != nil {
		t.Fatalf("save rebalance: %v", err)
	}

	records, err := repo.RecentRebalances(ctx, now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("recent rebalances: %v", err)
	}

	if len(records) != 1 {
		t.Fatalf("records length = %d, want 1", len(records))
	}

	got := records[0]
	if got.OpenedCount != record.OpenedCount {
		t.Errorf("opened count = %d, want %d", got.OpenedCount, record.OpenedCount)
	}
	if got.FailedCount != record.FailedCount {
		t.Errorf("failed count = %d, want %d", got.FailedCount, record.FailedCount)
	}
	if !got.NotionalPerLong.Equal(record.NotionalPerLong) {
		t.Errorf("notional per long = %s, want %s", got.NotionalPerLong, record.NotionalPerLong)
	}
	if got.Duration != record.Duration {
		t.Errorf("duration = %s, want %s", got.Duration, record.Duration)
	}
}

func TestSQLiteRepository_NoData(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	workers, err := repo.ActiveWorkers(ctx)
	if err != nil {
		t.Fatalf("active workers: %v", err)
	}
	if len(workers) != 0 {
		t.Errorf("workers = %d, want 0", len(workers))
	}

	records, err := repo.RecentRebalances(ctx, time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("recent rebalances: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("rebalances = %d, want 0", len(records))
	}
}
