package data

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-test/deep"

	"github.com/tcaine/gumshoe/internal/core"
)

func testDB(t *testing.T) *core.Config {
	t.Helper()
	cfg := &core.Config{}
	cfg.Database.Engine = "sqlite"
	cfg.Database.Filename = filepath.Join(t.TempDir(), "gumshoe_test.db")
	return cfg
}

func TestSaveAndFindSnapshot(t *testing.T) {
	db, err := Initialize(testDB(t))
	if err != nil {
		t.Fatalf("Initialize() returned an unexpected error: %s", err)
	}
	defer func() {
		if err := Shutdown(db); err != nil {
			t.Errorf("Shutdown() returned an unexpected error: %s", err)
		}
	}()

	snapshot := &SessionSnapshot{
		SessionID:  "b2a7e1f0",
		ScenarioID: "pemberton-manor",
		State:      "ended_normal",
		HostName:   "Violet",
		GuestName:  "Hugh",
		EndReason:  "case closed",
		Progress:   []byte(`{"clues_found": 2}`),
	}
	if err := SaveSnapshot(db, snapshot); err != nil {
		t.Fatalf("SaveSnapshot() returned an unexpected error: %s", err)
	}

	found, err := FindSnapshot(db, "b2a7e1f0")
	if err != nil {
		t.Fatalf("FindSnapshot() returned an unexpected error: %s", err)
	}
	if found == nil {
		t.Fatal("expected to find the saved snapshot")
	}
	found.ID, found.CreatedAt, found.UpdatedAt = 0, snapshot.CreatedAt, snapshot.UpdatedAt
	snapshot.ID = 0
	if diff := deep.Equal(snapshot, found); diff != nil {
		t.Errorf("snapshot did not round-trip through the database: %v", diff)
	}
}

func TestSaveSnapshot_Upsert(t *testing.T) {
	db, err := Initialize(testDB(t))
	if err != nil {
		t.Fatalf("Initialize() returned an unexpected error: %s", err)
	}
	defer Shutdown(db)

	first := &SessionSnapshot{SessionID: "b2a7e1f0", ScenarioID: "pemberton-manor", State: "active"}
	if err := SaveSnapshot(db, first); err != nil {
		t.Fatalf("SaveSnapshot() returned an unexpected error: %s", err)
	}
	second := &SessionSnapshot{SessionID: "b2a7e1f0", ScenarioID: "pemberton-manor", State: "ended_abandoned"}
	if err := SaveSnapshot(db, second); err != nil {
		t.Fatalf("SaveSnapshot() returned an unexpected error: %s", err)
	}

	var count int64
	if err := db.Model(&SessionSnapshot{}).Where("session_id = ?", "b2a7e1f0").Count(&count).Error; err != nil {
		t.Fatalf("error counting snapshots: %s", err)
	}
	if count != 1 {
		t.Errorf("expected checkpoints to overwrite, found %d rows", count)
	}

	found, err := FindSnapshot(db, "b2a7e1f0")
	if err != nil {
		t.Fatalf("FindSnapshot() returned an unexpected error: %s", err)
	}
	if found.State != "ended_abandoned" {
		t.Errorf("expected the later state to win, got %q", found.State)
	}
}

// A checkpoint and a session-end persisting the same session at the same
// time must still land on a single row.
func TestSaveSnapshot_ConcurrentWriters(t *testing.T) {
	db, err := Initialize(testDB(t))
	if err != nil {
		t.Fatalf("Initialize() returned an unexpected error: %s", err)
	}
	defer Shutdown(db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("error getting connection: %s", err)
	}
	sqlDB.SetMaxOpenConns(1)

	var wg sync.WaitGroup
	for _, state := range []string{"active", "ended_abandoned"} {
		wg.Add(1)
		go func(state string) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				snapshot := &SessionSnapshot{SessionID: "b2a7e1f0", ScenarioID: "pemberton-manor", State: state}
				if err := SaveSnapshot(db, snapshot); err != nil {
					t.Errorf("SaveSnapshot() returned an unexpected error: %s", err)
				}
			}
		}(state)
	}
	wg.Wait()

	var count int64
	if err := db.Model(&SessionSnapshot{}).Where("session_id = ?", "b2a7e1f0").Count(&count).Error; err != nil {
		t.Fatalf("error counting snapshots: %s", err)
	}
	if count != 1 {
		t.Errorf("expected racing writers to share one row, found %d", count)
	}
}

func TestFindSnapshot_Absent(t *testing.T) {
	db, err := Initialize(testDB(t))
	if err != nil {
		t.Fatalf("Initialize() returned an unexpected error: %s", err)
	}
	defer Shutdown(db)

	found, err := FindSnapshot(db, "no-such-session")
	if err != nil {
		t.Fatalf("FindSnapshot() returned an unexpected error: %s", err)
	}
	if found != nil {
		t.Errorf("expected nil for an absent session, got %+v", found)
	}
}
