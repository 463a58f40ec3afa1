package transcript_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/transcript"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	sttmock "github.com/MrWong99/lastecho/pkg/provider/stt/mock"
)

type textRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *textRecorder) SetTranscript(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *textRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func (r *textRecorder) waitFor(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(r.all()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d results, have %q", n, r.all())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRun_InterimThenFinal(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession(8)
	rec := &textRecorder{}
	var (
		mu   sync.Mutex
		seen []stt.Transcript
	)
	s := transcript.New(transcript.WithObserver(func(tr stt.Transcript) {
		mu.Lock()
		seen = append(seen, tr)
		mu.Unlock()
	}))
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background(), sess, rec) }()

	sess.Emit("받아라", false)
	rec.waitFor(t, 1)
	sess.Emit("받아라 소닉", false)
	rec.waitFor(t, 2)
	sess.Emit("  받아라 소닉 펀치!  ", true)
	rec.waitFor(t, 3)
	sess.Emit("   ", false)
	_ = sess.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []string{"받아라", "받아라 소닉", "받아라 소닉 펀치!"}
	got := rec.all()
	if len(got) != len(want) {
		t.Fatalf("texts = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("texts[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || !seen[2].IsFinal {
		t.Errorf("observer saw %+v", seen)
	}
}

func TestRun_SilentProvider(t *testing.T) {
	t.Parallel()

	h, err := stt.None{}.StartStream(context.Background(), stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	rec := &textRecorder{}
	err = transcript.New().Run(ctx, h, rec)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run = %v, want deadline exceeded", err)
	}
	if len(rec.all()) != 0 {
		t.Errorf("silent provider produced %q", rec.all())
	}
}

func TestRun_ReturnsWhenHandleCloses(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession(1)
	done := make(chan error, 1)
	go func() { done <- transcript.New().Run(context.Background(), sess, &textRecorder{}) }()
	_ = sess.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestRun_BufferedFinalBeatsEarlierInterims(t *testing.T) {
	t.Parallel()

	// Both channels are ready at once, so select order is random; repeat to
	// cover the interleavings.
	for i := range 200 {
		sess := sttmock.NewSession(8)
		sess.Emit("받아라", false)
		sess.Emit("받아라 소닉", false)
		sess.Emit("받아라 소닉 펀치", true)
		_ = sess.Close()

		rec := &textRecorder{}
		if err := transcript.New().Run(context.Background(), sess, rec); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		got := rec.all()
		if len(got) == 0 || got[len(got)-1] != "받아라 소닉 펀치" {
			t.Fatalf("run %d: transcript history %q, want the final last", i, got)
		}
	}
}

func TestRun_LaterInterimFollowsFinal(t *testing.T) {
	t.Parallel()

	sess := sttmock.NewSession(8)
	sess.Emit("스매시", true)
	sess.Emit("에코", false)
	_ = sess.Close()

	rec := &textRecorder{}
	if err := transcript.New().Run(context.Background(), sess, rec); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := rec.all(); len(got) == 0 || got[len(got)-1] != "에코" {
		t.Errorf("transcript history %q, want the newer interim last", got)
	}
}
