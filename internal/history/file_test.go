package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"usagewatch/internal/config"
	"usagewatch/internal/usage"
	logx "usagewatch/pkg/logx"
)

func openTestStore(t *testing.T, dir string) Store {
	t.Helper()
	st, err := openFile(config.StorageConfig{Path: filepath.Join(dir, "usagewatch.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return st
}

func entryAt(at time.Time, session string) Entry {
	return Entry{At: at, Session: &session}
}

func TestFileStoreAppendPrunesOldEntries(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := entryAt(now.Add(-Retention-time.Hour), "1%")
	inside := entryAt(now.Add(-Retention+time.Hour), "2%")
	fresh := entryAt(now, "3%")

	for _, e := range []Entry{old, inside, fresh} {
		if err := st.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Range(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected the stale entry pruned, got %d entries", len(got))
	}
	if *got[0].Session != "2%" || *got[1].Session != "3%" {
		t.Fatalf("unexpected survivors: %v, %v", *got[0].Session, *got[1].Session)
	}
}

func TestFileStoreRangeSince(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []string{"1%", "2%", "3%"} {
		if err := st.Append(ctx, entryAt(now.Add(time.Duration(i)*time.Hour), s)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := st.Range(ctx, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 2 || *got[0].Session != "2%" {
		t.Fatalf("since filter wrong: %+v", got)
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	st := openTestStore(t, dir)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := st.Append(ctx, entryAt(now, "42%")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	val := "42%"
	state := State{
		Previous:                 &usage.Snapshot{Timestamp: now, Session: &val},
		LastCheck:                now,
		FirstSuccessAcknowledged: true,
	}
	if err := st.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st = openTestStore(t, dir)
	defer st.Close()

	got, err := st.Range(ctx, time.Time{})
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	if len(got) != 1 || *got[0].Session != "42%" {
		t.Fatalf("history not reloaded: %+v", got)
	}

	loaded, err := st.LoadState(ctx)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if loaded.Previous == nil || *loaded.Previous.Session != "42%" {
		t.Fatalf("previous snapshot not reloaded: %+v", loaded.Previous)
	}
	if !loaded.FirstSuccessAcknowledged {
		t.Fatal("firstSuccessAcknowledged must survive a restart")
	}
	if !loaded.LastCheck.Equal(now) {
		t.Fatalf("lastCheckTime = %v", loaded.LastCheck)
	}
}

func TestFileStoreEmptyState(t *testing.T) {
	st := openTestStore(t, t.TempDir())
	defer st.Close()

	got, err := st.LoadState(context.Background())
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if got.Previous != nil || got.FirstSuccessAcknowledged {
		t.Fatalf("fresh store must report zero state, got %+v", got)
	}
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(config.StorageConfig{Driver: "none"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st != nil {
		t.Fatal("disabled driver must yield a nil store")
	}
}

func TestEntryFromSnapshotUsesModelMap(t *testing.T) {
	snap := &usage.Snapshot{
		Timestamp: time.Now(),
		Models: map[string]usage.ModelUsage{
			"All models": {Usage: "81%"},
		},
	}
	e := EntryFromSnapshot(snap)
	if e.WeeklyAll == nil || *e.WeeklyAll != "81%" {
		t.Fatalf("weekly-all = %v", e.WeeklyAll)
	}
	if e.Session != nil {
		t.Fatal("session must stay nil")
	}
}
