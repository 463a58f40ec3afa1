package calibration_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/calibration"
)

func fixedClock(at time.Time, deadline chan time.Time) calibration.Option {
	return calibration.WithClock(
		func() time.Time { return at },
		func(time.Duration) <-chan time.Time { return deadline },
	)
}

func TestMeasure_RoundedMean(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := calibration.New(fixedClock(at, make(chan time.Time)))

	levels := make(chan float64, 4)
	for _, v := range []float64{20, 25, 31, 30} {
		levels <- v
	}
	close(levels)

	p, err := c.Measure(context.Background(), levels)
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	// mean 26.5 rounds half up
	if p.BaselineDB != 27 || p.Samples != 4 || !p.MeasuredAt.Equal(at) {
		t.Errorf("profile = %+v", p)
	}
}

func TestMeasure_WindowElapses(t *testing.T) {
	t.Parallel()

	deadline := make(chan time.Time, 1)
	c := calibration.New(fixedClock(time.Now(), deadline))
	levels := make(chan float64)

	done := make(chan calibration.Profile)
	go func() {
		p, _ := c.Measure(context.Background(), levels)
		done <- p
	}()
	levels <- 12
	levels <- 14
	deadline <- time.Now()

	p := <-done
	if p.BaselineDB != 13 || p.Samples != 2 {
		t.Errorf("profile = %+v", p)
	}
}

func TestMeasure_EmptyWindow(t *testing.T) {
	t.Parallel()

	deadline := make(chan time.Time, 1)
	deadline <- time.Now()
	c := calibration.New(fixedClock(time.Now(), deadline))

	p, err := c.Measure(context.Background(), make(chan float64))
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}
	if p.BaselineDB != 0 || p.Samples != 0 {
		t.Errorf("profile = %+v", p)
	}
}

func TestMeasure_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := calibration.New(fixedClock(time.Now(), make(chan time.Time)))
	if _, err := c.Measure(ctx, make(chan float64)); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestWithWindow(t *testing.T) {
	t.Parallel()

	if got := calibration.New().Window(); got != calibration.DefaultWindow {
		t.Errorf("default window = %v", got)
	}
	if got := calibration.New(calibration.WithWindow(2 * time.Second)).Window(); got != 2*time.Second {
		t.Errorf("window = %v", got)
	}
	if got := calibration.New(calibration.WithWindow(-1)).Window(); got != calibration.DefaultWindow {
		t.Errorf("negative window accepted: %v", got)
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := calibration.NewMemStore()

	if _, err := s.Load(ctx, "u1"); !errors.Is(err, calibration.ErrNotFound) {
		t.Fatalf("Load missing = %v, want ErrNotFound", err)
	}
	if err := s.Save(ctx, "u1", calibration.Profile{BaselineDB: 42}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	p, err := s.Load(ctx, "u1")
	if err != nil || p.BaselineDB != 42 {
		t.Errorf("Load = %+v, %v", p, err)
	}
	if err := s.Save(ctx, "u1", calibration.Profile{BaselineDB: 140}); err == nil {
		t.Error("Save accepted an out-of-range baseline")
	}
}

func TestBaselineFor(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := calibration.NewMemStore()
	got, err := calibration.BaselineFor(ctx, s, "nobody", calibration.DefaultBaseline)
	if err != nil || got != 30 {
		t.Errorf("BaselineFor(missing) = %v, %v", got, err)
	}
	_ = s.Save(ctx, "u1", calibration.Profile{BaselineDB: 18})
	got, err = calibration.BaselineFor(ctx, s, "u1", calibration.DefaultBaseline)
	if err != nil || got != 18 {
		t.Errorf("BaselineFor(u1) = %v, %v", got, err)
	}
}
