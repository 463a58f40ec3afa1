package session_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/lastecho/internal/lexicon"
	"github.com/MrWong99/lastecho/internal/mic"
	micmock "github.com/MrWong99/lastecho/internal/mic/mock"
	"github.com/MrWong99/lastecho/internal/sampler"
	"github.com/MrWong99/lastecho/internal/session"
	"github.com/MrWong99/lastecho/pkg/audio"
	audiomock "github.com/MrWong99/lastecho/pkg/audio/mock"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	sttmock "github.com/MrWong99/lastecho/pkg/provider/stt/mock"
)

func loudFrame() audio.AudioFrame {
	samples := make([]int16, 512)
	for i := range samples {
		samples[i] = int16(12000 * math.Sin(float64(i)*0.7) * math.Cos(float64(i)*0.13))
	}
	return audio.AudioFrame{Data: audio.EncodeInt16(samples), SampleRate: 48000, Channels: 1}
}

type fixture struct {
	stream *audiomock.Stream
	host   *micmock.Host
	pctx   *sampler.AudioContext
	stt    *sttmock.Provider
	sess   *sttmock.Session
	ctrl   *session.Controller
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()
	f := &fixture{
		stream: audiomock.NewStream(audio.Format{SampleRate: 48000, Channels: 1}, 16),
		pctx:   sampler.NewAudioContext(),
		sess:   sttmock.NewSession(8),
	}
	f.host = &micmock.Host{Secure: true, Host: "echo.example", Supported: true, CaptureWith: f.stream}
	f.stt = &sttmock.Provider{Session: f.sess}
	f.ctrl = session.NewController(mic.NewManager(f.host), f.pctx, f.stt, opts...)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestListening_PeakIsMaxOfCurrent(t *testing.T) {
	t.Parallel()

	var l session.Listening
	l.Begin()
	maxSeen := 0.0
	for _, v := range []float64{12, 55, 40, 72.5, 3, 0} {
		l.SetLevel(v)
		maxSeen = math.Max(maxSeen, v)
		if got := l.Snapshot(); got.PeakLevel != maxSeen || got.CurrentLevel != v {
			t.Fatalf("after %v: snapshot %+v, want peak %v", v, got, maxSeen)
		}
	}
	l.SetTranscript("소닉 펀치")
	l.End()
	snap := l.Snapshot()
	if snap.Active || snap.CurrentLevel != 0 || snap.PeakLevel != 72.5 || snap.Transcript != "소닉 펀치" {
		t.Errorf("after End: %+v", snap)
	}
	l.Begin()
	if snap := l.Snapshot(); snap.PeakLevel != 0 || snap.Transcript != "" || !snap.Active {
		t.Errorf("after Begin: %+v", snap)
	}
}

func TestListening_ConcurrentSnapshotsAreConsistent(t *testing.T) {
	t.Parallel()

	var l session.Listening
	l.Begin()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := range 2000 {
			l.SetLevel(float64(i % 100))
		}
	}()
	go func() {
		defer wg.Done()
		for range 2000 {
			s := l.Snapshot()
			if s.CurrentLevel > s.PeakLevel {
				t.Errorf("current %v above peak %v", s.CurrentLevel, s.PeakLevel)
				return
			}
		}
	}()
	wg.Wait()
}

func TestController_StartStop(t *testing.T) {
	t.Parallel()

	lex, _ := lexicon.Builtin("B")
	f := newFixture(t, session.WithCatalog(lex))
	ctx := context.Background()

	if err := f.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.ctrl.Active() || f.pctx.State() != sampler.StateRunning {
		t.Fatalf("active=%v ctx=%s", f.ctrl.Active(), f.pctx.State())
	}
	if got := f.stt.CallCount(); got != 1 {
		t.Fatalf("StartStream calls = %d", got)
	}
	if kws := f.stt.StartStreamCalls[0].Cfg.Keywords; len(kws) != 7 {
		t.Errorf("boosted keywords = %d, want 7", len(kws))
	}

	f.stream.FramesCh <- loudFrame()
	f.sess.Emit("받아라 소닉 펀치!", true)
	eventually(t, func() bool {
		s := f.ctrl.Snapshot()
		return s.PeakLevel > 0 && s.Transcript != ""
	})
	eventually(t, func() bool { return f.sess.AudioChunks() == 1 })

	peak := f.ctrl.Snapshot().PeakLevel
	f.ctrl.Stop()
	snap := f.ctrl.Snapshot()
	if snap.Active || snap.CurrentLevel != 0 {
		t.Errorf("after Stop: %+v", snap)
	}
	if snap.PeakLevel != peak || snap.Transcript != "받아라 소닉 펀치!" {
		t.Errorf("Stop lost peak or transcript: %+v", snap)
	}
	if f.stream.StopCount() != 1 || f.sess.CloseCount() != 1 {
		t.Errorf("stream stops = %d, stt closes = %d", f.stream.StopCount(), f.sess.CloseCount())
	}
}

func TestController_StartTwiceIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if f.host.CaptureCalls() != 1 || f.stt.CallCount() != 1 {
		t.Errorf("captures = %d, stt starts = %d", f.host.CaptureCalls(), f.stt.CallCount())
	}
}

func TestController_StopIdempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.ctrl.Stop() // never started
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.Stop()
		}()
	}
	wg.Wait()
	f.ctrl.Stop()
	if f.stream.StopCount() == 0 {
		t.Errorf("stream stops = %d", f.stream.StopCount())
	}
}

func TestController_MicFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.host.Secure = false
	err := f.ctrl.Start(context.Background())
	var ae *mic.AccessError
	if !errors.As(err, &ae) || ae.Kind != mic.KindInsecureContext {
		t.Fatalf("Start = %v", err)
	}
	if f.ctrl.Active() || f.stt.CallCount() != 0 {
		t.Error("controller started despite mic failure")
	}
}

func TestController_RecogniserFailureDegrades(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.stt.StartStreamErr = errors.New("no speech service")
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.stream.FramesCh <- loudFrame()
	eventually(t, func() bool { return f.ctrl.Snapshot().PeakLevel > 0 })
	if got := f.ctrl.Snapshot().Transcript; got != "" {
		t.Errorf("transcript = %q", got)
	}
}

func TestController_Observers(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		levels int
		texts  int
	)
	f := newFixture(t,
		session.WithLevelObserver(func(sampler.Sample) { mu.Lock(); levels++; mu.Unlock() }),
		session.WithTranscriptObserver(func(stt.Transcript) { mu.Lock(); texts++; mu.Unlock() }),
	)
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.stream.FramesCh <- loudFrame()
	f.sess.Emit("스매시", false)
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return levels == 2 && texts == 1
	})
}

func TestController_RestartResetsPeak(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	if err := f.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	f.stream.FramesCh <- loudFrame()
	eventually(t, func() bool { return f.ctrl.Snapshot().PeakLevel > 0 })
	f.ctrl.Stop()

	// A new capture is needed after release.
	f.stream = audiomock.NewStream(audio.Format{SampleRate: 48000, Channels: 1}, 16)
	f.host.CaptureWith = f.stream
	f.stt.Session = sttmock.NewSession(8)
	if err := f.ctrl.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if snap := f.ctrl.Snapshot(); snap.PeakLevel != 0 || snap.Transcript != "" {
		t.Errorf("after restart: %+v", snap)
	}
}

func TestController_FinishResetsForNextAttack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.ctrl.Finish(); !errors.Is(err, session.ErrNotActive) {
		t.Fatalf("Finish before Start = %v, want ErrNotActive", err)
	}

	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	f.stream.FramesCh <- loudFrame()
	f.sess.Emit("소닉 펀치", true)
	eventually(t, func() bool {
		s := f.ctrl.Snapshot()
		return s.PeakLevel > 0 && s.Transcript == "소닉 펀치"
	})

	snap, err := f.ctrl.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if snap.PeakLevel == 0 || snap.Transcript != "소닉 펀치" {
		t.Errorf("finished snapshot = %+v", snap)
	}
	if f.ctrl.Active() || f.stream.StopCount() == 0 {
		t.Error("Finish left the microphone running")
	}
	if after := f.ctrl.Snapshot(); after.PeakLevel != 0 || after.Transcript != "" {
		t.Errorf("state after Finish = %+v, want cleared", after)
	}
	if _, err := f.ctrl.Finish(); !errors.Is(err, session.ErrNotActive) {
		t.Errorf("second Finish = %v, want ErrNotActive", err)
	}
}

// stallingProvider blocks StartStream until its context ends.
type stallingProvider struct{}

func (stallingProvider) StartStream(ctx context.Context, _ stt.StreamConfig) (stt.SessionHandle, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestController_DialTimeout(t *testing.T) {
	t.Parallel()

	stream := audiomock.NewStream(audio.Format{SampleRate: 48000, Channels: 1}, 16)
	host := &micmock.Host{Secure: true, Host: "echo.example", Supported: true, CaptureWith: stream}
	ctrl := session.NewController(mic.NewManager(host), sampler.NewAudioContext(), stallingProvider{},
		session.WithDialTimeout(20*time.Millisecond))
	t.Cleanup(func() { _ = ctrl.Close() })

	start := time.Now()
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Start took %v with a stalled recogniser", elapsed)
	}
	if !ctrl.Active() {
		t.Error("listening did not continue without recognition")
	}
}
