package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/storage/sqlite"
)

func openStore(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := sqlite.Open("  "); err == nil {
		t.Error("Open accepted an empty path")
	}
}

func TestCalibration_RoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "lastecho.db"))

	if _, err := s.Load(ctx, "u1"); !errors.Is(err, calibration.ErrNotFound) {
		t.Fatalf("Load missing = %v", err)
	}
	at := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	if err := s.Save(ctx, "u1", calibration.Profile{BaselineDB: 24, MeasuredAt: at, Samples: 290}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p, err := s.Load(ctx, "u1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.BaselineDB != 24 || p.Samples != 290 || !p.MeasuredAt.Equal(at) {
		t.Errorf("profile = %+v", p)
	}
	if err := s.Save(ctx, "u1", calibration.Profile{BaselineDB: -3}); err == nil {
		t.Error("Save accepted a negative baseline")
	}
}

func TestReopen_KeepsData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "lastecho.db")

	s, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(ctx, "u1", calibration.Profile{BaselineDB: 31}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := progress.NewService(s.Players()).Grant(ctx, "u1", 40); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	_ = s.Close()

	s = openStore(t, path)
	p, err := s.Load(ctx, "u1")
	if err != nil || p.BaselineDB != 31 {
		t.Errorf("Load after reopen = %+v, %v", p, err)
	}
	pl, err := s.Players().Get(ctx, "u1")
	if err != nil || pl.Exp != 40 {
		t.Errorf("player after reopen = %+v, %v", pl, err)
	}
}

func TestPlayers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "lastecho.db"))
	svc := progress.NewService(s.Players())

	p, err := svc.Get(ctx, "fresh")
	if err != nil || p.Level != 1 || p.Class != combat.ClassCommoner {
		t.Fatalf("fresh player = %+v, %v", p, err)
	}

	if err := svc.Grant(ctx, "u1", 150); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if _, err := svc.SetClass(ctx, "u1", "assassin"); err != nil {
		t.Fatalf("SetClass: %v", err)
	}
	p, _ = svc.Get(ctx, "u1")
	if p.Level != 2 || p.Exp != 50 || p.Class != combat.ClassAssassin {
		t.Errorf("player = %+v", p)
	}
}

func TestPlayers_ConcurrentGrants(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "lastecho.db"))
	svc := progress.NewService(s.Players())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.Grant(ctx, "u1", 5); err != nil {
				t.Errorf("Grant: %v", err)
			}
		}()
	}
	wg.Wait()

	p, _ := svc.Get(ctx, "u1")
	if p.Level != 2 || p.Exp != 0 {
		t.Errorf("player = %+v, want level 2 exp 0", p)
	}
}

func TestPlayers_UpdateErrorRollsBack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openStore(t, filepath.Join(t.TempDir(), "lastecho.db"))
	boom := errors.New("boom")
	_, err := s.Players().Update(ctx, "u1", func(p *progress.Player) error {
		p.Exp = 99
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err = %v", err)
	}
	p, _ := s.Players().Get(ctx, "u1")
	if p.Exp != 0 {
		t.Errorf("exp = %d after rolled back update", p.Exp)
	}
}
