package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/lastecho/internal/calibration"
	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/sampler"
	"github.com/MrWong99/lastecho/internal/session"
	"github.com/MrWong99/lastecho/internal/trial"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

// defaultTarget names the opponent in logs when the caller gave none.
const defaultTarget = "적"

// conn is one client socket with its listening session.
type conn struct {
	srv   *Server
	id    string
	ws    *websocket.Conn
	peer  *wsPeer
	log   *slog.Logger
	hello helloPayload

	player   progress.Player
	class    combat.Class
	baseline float64

	host  *clientHost
	relay *relay.Provider
	ctrl  *session.Controller

	levelMu   sync.Mutex
	lastLevel time.Time

	decodeErrors int
}

// handler processes one decoded text frame.
type handler func(ctx context.Context, f wsFrame)

// serve upgrades the request, runs the hello handshake and hands the
// connection to setup. The read loop runs until the client leaves; every
// frame after the hello goes to the handler setup returned.
func (s *Server) serve(w http.ResponseWriter, r *http.Request, setup func(ctx context.Context, c *conn) (handler, func(), error)) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket upgrade failed", "err", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{
		srv:  s,
		id:   uuid.NewString(),
		ws:   ws,
		peer: newWSPeer(ws),
	}
	c.log = observe.Logger(ctx).With("session_id", c.id)
	go c.peer.run(ctx)

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)

	if err := c.handshake(ctx); err != nil {
		c.log.Info("websocket handshake failed", "err", err)
		c.close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	defer func() {
		if err := c.ctrl.Close(); err != nil {
			c.log.Debug("close listening session", "err", err)
		}
	}()

	handle, teardown, err := setup(ctx, c)
	if err != nil {
		c.log.Info("websocket session rejected", "user_id", c.hello.UserID, "err", err)
		c.close(websocket.StatusPolicyViolation, "session rejected")
		return
	}
	c.log.Info("websocket session started", "user_id", c.hello.UserID, "class", string(c.class), "baseline_db", c.baseline)
	defer func() {
		teardown()
		c.log.Info("websocket session ended", "user_id", c.hello.UserID)
	}()

	reason := c.readLoop(ctx, handle)
	c.close(websocket.StatusNormalClosure, reason)
}

// handshake reads the hello frame and builds the listening session.
func (c *conn) handshake(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, helloTimeout)
	defer cancel()

	typ, data, err := c.ws.Read(hctx)
	if err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	var f wsFrame
	if typ != websocket.MessageText || json.Unmarshal(data, &f) != nil || f.Type != frameHello {
		writeWSError(c.peer, "", codeInvalidArgument, "first frame must be hello", false)
		return errors.New("first frame was not hello")
	}
	if err := json.Unmarshal(f.Payload, &c.hello); err != nil {
		writeWSError(c.peer, f.RequestID, codeInvalidArgument, "invalid hello payload", false)
		return fmt.Errorf("decode hello: %w", err)
	}
	if c.hello.UserID == "" {
		writeWSError(c.peer, f.RequestID, codeInvalidArgument, "user_id is required", false)
		return errors.New("hello without user_id")
	}

	host, err := newClientHost(c.hello)
	if err != nil {
		writeWSError(c.peer, f.RequestID, codeInvalidArgument, err.Error(), false)
		return err
	}
	c.host = host

	player, err := c.srv.deps.Progress.Get(ctx, c.hello.UserID)
	if err != nil {
		writeWSError(c.peer, f.RequestID, codeUnavailable, "player store unavailable", true)
		return err
	}
	c.player = player
	c.class = player.Class

	baseline, err := calibration.BaselineFor(ctx, c.srv.deps.Calibration, c.hello.UserID, c.srv.baseline)
	if err != nil {
		c.log.Warn("calibration unavailable, using default baseline", "err", err)
	}
	c.baseline = baseline

	c.relay = relay.New()
	c.ctrl = session.NewController(
		mic.NewManager(host),
		sampler.NewAudioContext(),
		c.recogniser(),
		session.WithLanguage(c.srv.language),
		session.WithCatalog(c.srv.deps.Catalog),
		session.WithLevelObserver(c.onLevel),
		session.WithTranscriptObserver(c.onTranscript),
	)
	return nil
}

// recogniser builds this connection's speech provider around its relay.
func (c *conn) recogniser() stt.Provider {
	var p stt.Provider = c.relay
	if c.srv.newSTT != nil {
		built, err := c.srv.newSTT(c.relay)
		if err != nil {
			c.log.Warn("speech provider unavailable, using client relay", "err", err)
		} else {
			p = built
		}
	}
	return &countingSTT{Provider: p, metrics: c.srv.metrics}
}

func (c *conn) readLoop(ctx context.Context, handle handler) string {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return "bye"
			}
			if ctx.Err() == nil {
				c.log.Debug("websocket read ended", "err", err)
			}
			return "read failed"
		}

		if typ == websocket.MessageBinary {
			if err := c.host.push(data); err != nil {
				c.log.Debug("audio frame rejected", "err", err)
				if c.decodeFailed("", "invalid audio frame") {
					return "too many invalid frames"
				}
				continue
			}
			c.decodeErrors = 0
			continue
		}

		var f wsFrame
		if err := json.Unmarshal(data, &f); err != nil {
			if c.decodeFailed("", "invalid frame payload") {
				return "too many invalid frames"
			}
			continue
		}
		c.decodeErrors = 0

		switch f.Type {
		case frameTranscript:
			c.handleTranscript(f)
		default:
			handle(ctx, f)
		}
	}
}

// decodeFailed reports an invalid frame and whether the connection has seen
// too many in a row.
func (c *conn) decodeFailed(requestID, msg string) bool {
	c.decodeErrors++
	writeWSError(c.peer, requestID, codeInvalidArgument, msg, false)
	return c.decodeErrors >= maxDecodeErrorsPerConn
}

func (c *conn) close(code websocket.StatusCode, reason string) {
	c.peer.flush(time.Second)
	if err := c.ws.Close(code, reason); err != nil {
		c.ws.CloseNow()
	}
}

func (c *conn) welcome(extra func(*welcomePayload)) {
	p := welcomePayload{
		SessionID:  c.id,
		Player:     c.player,
		Class:      c.class,
		BaselineDB: c.baseline,
	}
	extra(&p)
	c.peer.send(frameWelcome, "", p)
}

// startListening starts the microphone pipeline and reports the access
// outcome. It returns false when listening could not start.
func (c *conn) startListening(ctx context.Context, f wsFrame) bool {
	var p startPayload
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			writeWSError(c.peer, f.RequestID, codeInvalidArgument, "invalid start payload", false)
			return false
		}
	}
	if p.CaptureError != nil {
		c.host.failNextCapture(&mic.CaptureError{Name: p.CaptureError.Name, Message: p.CaptureError.Message})
	}

	err := c.ctrl.Start(ctx)
	var ae *mic.AccessError
	switch {
	case errors.As(err, &ae):
		c.srv.metrics.RecordMicFailure(ctx, string(ae.Kind))
		c.peer.send(frameAccess, f.RequestID, accessPayload{Status: ae.Kind.Status(), Kind: ae.Kind, Message: ae.Message})
		return false
	case err != nil:
		c.log.Error("start listening", "err", err)
		writeWSError(c.peer, f.RequestID, codeInternal, "could not start listening", true)
		return false
	}
	c.peer.send(frameAccess, f.RequestID, accessPayload{Status: mic.StatusGranted})
	return true
}

func (c *conn) handleTranscript(f wsFrame) {
	var p transcriptPayload
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		writeWSError(c.peer, f.RequestID, codeInvalidArgument, "invalid transcript payload", false)
		return
	}
	if !c.relay.Publish(stt.Transcript{Text: p.Text, IsFinal: p.Final}) {
		c.log.Debug("transcript dropped", "final", p.Final)
	}
}

// onLevel forwards a level reading, at most once per level interval. Level
// frames are dropped rather than queued when the client falls behind.
func (c *conn) onLevel(s sampler.Sample) {
	now := time.Now()
	c.levelMu.Lock()
	if now.Sub(c.lastLevel) < c.srv.cfg.LevelInterval {
		c.levelMu.Unlock()
		return
	}
	c.lastLevel = now
	c.levelMu.Unlock()

	snap := c.ctrl.Snapshot()
	c.peer.offerFrame(wsFrame{Type: frameLevel, Payload: mustJSON(levelPayload{
		Current: s.Level,
		Peak:    snap.PeakLevel,
		Fill:    meterFill(s.Level, c.baseline),
	})})
}

func (c *conn) onTranscript(t stt.Transcript) {
	c.peer.send(frameTranscript, "", transcriptPayload{Text: t.Text, Final: t.IsFinal})
}

// ── Combat ─────────────────────────────────────────────────────────────────

func (s *Server) handleCombatSocket(w http.ResponseWriter, r *http.Request) {
	m, ok := s.deps.Roster.Get(r.PathValue("monsterID"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown monster")
		return
	}
	s.serve(w, r, func(ctx context.Context, c *conn) (handler, func(), error) {
		if c.player.Level < m.RequiredLevel {
			writeWSError(c.peer, "", codeFailedPrecondition,
				"level "+strconv.Itoa(m.RequiredLevel)+" required", false)
			return nil, nil, fmt.Errorf("level %d below %d", c.player.Level, m.RequiredLevel)
		}
		f := &fight{conn: c, enc: combat.NewEncounter(m)}
		c.welcome(func(p *welcomePayload) {
			v := newMonsterView(m, m.MaxHP())
			p.Monster = &v
		})
		return f.handle, func() {}, nil
	})
}

// fight is a combat socket's encounter.
type fight struct {
	*conn
	enc *combat.Encounter
}

func (f *fight) handle(ctx context.Context, fr wsFrame) {
	switch fr.Type {
	case frameStart:
		if f.enc.Defeated() {
			writeWSError(f.peer, fr.RequestID, codeFailedPrecondition, "monster already defeated", false)
			return
		}
		f.startListening(ctx, fr)
	case frameStop:
		f.ctrl.Stop()
	case frameAttack, frameEcho:
		f.attack(ctx, fr)
	default:
		writeWSError(f.peer, fr.RequestID, codeInvalidArgument, "unsupported frame type", false)
	}
}

// attack ends the listening session and resolves its snapshot against the
// monster. Every attack needs its own start.
func (f *fight) attack(ctx context.Context, fr wsFrame) {
	if f.enc.Defeated() {
		writeWSError(f.peer, fr.RequestID, codeFailedPrecondition, "monster already defeated", false)
		return
	}
	snap, err := f.ctrl.Finish()
	if err != nil {
		writeWSError(f.peer, fr.RequestID, codeFailedPrecondition, "not listening", true)
		return
	}
	in := combat.Input{
		PeakLevel:  snap.PeakLevel,
		BaselineDB: f.baseline,
		Transcript: snap.Transcript,
		Class:      f.class,
		Mobile:     f.hello.Mobile,
	}
	m := f.enc.Monster()
	res := f.srv.resolve(ctx, in, m.Name, fr.Type == frameEcho)

	hp, victory := f.enc.Apply(res.Damage)
	out := newResultPayload(res)
	out.MonsterHP = &hp
	f.peer.send(frameResult, fr.RequestID, out)

	if victory {
		f.victory(ctx, m)
	}
}

func (f *fight) victory(ctx context.Context, m combat.Monster) {
	f.srv.metrics.RecordVictory(ctx, m.ID)
	exp := m.RewardExp()
	saved := f.srv.grant(ctx, f.log, f.hello.UserID, exp)
	f.peer.send(frameVictory, "", victoryPayload{Exp: exp, Saved: saved, Logs: []string{combat.VictoryLog}})
}

// resolve runs one attack resolution under a span and records it.
func (s *Server) resolve(ctx context.Context, in combat.Input, target string, echo bool) combat.Result {
	if target == "" {
		target = defaultTarget
	}
	ctx, span := observe.StartSpan(ctx, "combat.resolve")
	defer span.End()

	start := time.Now()
	var res combat.Result
	if echo {
		res = s.deps.Resolver.Echo(in)
	} else {
		res = s.deps.Resolver.Resolve(in, target)
	}
	s.metrics.ResolveDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordAttack(ctx, res.Outcome.String(), string(in.Class), res.Damage, res.PeakLevel)

	span.SetAttributes(
		attribute.String("outcome", res.Outcome.String()),
		attribute.Int("damage", res.Damage),
		attribute.Float64("peak_level", res.PeakLevel),
	)
	return res
}

// grant reports a reward to the progress service. Failures are logged and
// counted but never surface as errors to the player.
func (s *Server) grant(ctx context.Context, log *slog.Logger, userID string, exp int) bool {
	if err := s.deps.Progress.Grant(context.WithoutCancel(ctx), userID, exp); err != nil {
		s.metrics.RewardErrors.Add(ctx, 1)
		log.Warn("reward not saved", "user_id", userID, "exp", exp, "err", err)
		return false
	}
	return true
}

// ── Trials ─────────────────────────────────────────────────────────────────

func (s *Server) handleTrialSocket(w http.ResponseWriter, r *http.Request) {
	def, err := s.trials.Load().Get(r.PathValue("trialID"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown trial")
		return
	}
	s.serve(w, r, func(ctx context.Context, c *conn) (handler, func(), error) {
		if err := def.Admit(c.player.Level); err != nil {
			writeWSError(c.peer, "", codeFailedPrecondition, err.Error(), false)
			return nil, nil, err
		}
		a := &attempt{conn: c, def: def}
		c.welcome(func(p *welcomePayload) { p.Trial = &def })
		return a.handle, a.cancel, nil
	})
}

// attempt is a trial socket. Each start runs a fresh [trial.Runner] until
// the trial ends or the client stops it.
type attempt struct {
	*conn
	def trial.Definition

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

func (a *attempt) handle(ctx context.Context, f wsFrame) {
	switch f.Type {
	case frameStart:
		a.start(ctx, f)
	case frameStop:
		a.cancel()
	default:
		writeWSError(a.peer, f.RequestID, codeInvalidArgument, "unsupported frame type", false)
	}
}

func (a *attempt) start(ctx context.Context, f wsFrame) {
	a.mu.Lock()
	running := a.stop != nil
	a.mu.Unlock()
	if running {
		writeWSError(a.peer, f.RequestID, codeFailedPrecondition, "trial already running", true)
		return
	}
	if !a.startListening(ctx, f) {
		return
	}

	runner := trial.NewRunner(a.def, a.hello.UserID, a.ctrl.State(), a.srv.deps.Progress,
		trial.WithTick(a.srv.trialTick),
		trial.WithSecond(a.srv.trialSecond),
		trial.WithUpdates(func(s trial.Snapshot) { a.peer.send(frameTrial, "", s) }),
	)
	rctx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	a.mu.Lock()
	a.stop, a.done = stop, done
	a.mu.Unlock()

	go func() {
		defer close(done)
		snap, err := runner.Run(rctx)
		a.ctrl.Stop()
		a.mu.Lock()
		if a.done == done {
			a.stop, a.done = nil, nil
		}
		a.mu.Unlock()
		stop()

		if snap.Status == trial.StatusPlaying {
			return
		}
		a.srv.metrics.RecordTrial(ctx, a.def.ID, string(snap.Status))
		if err != nil {
			a.srv.metrics.RewardErrors.Add(ctx, 1)
			a.log.Warn("reward not saved", "user_id", a.hello.UserID, "exp", a.def.RewardExp, "err", err)
		}
		if snap.Status == trial.StatusSuccess && a.def.RewardExp > 0 {
			a.peer.send(frameVictory, "", victoryPayload{Exp: a.def.RewardExp, Saved: err == nil, Logs: []string{}})
		}
	}()
}

// cancel stops a running attempt and waits for it to wind down.
func (a *attempt) cancel() {
	a.mu.Lock()
	stop, done := a.stop, a.done
	a.mu.Unlock()
	if stop == nil {
		a.ctrl.Stop()
		return
	}
	stop()
	<-done
}

// countingSTT records whether each recognition stream started cleanly.
type countingSTT struct {
	stt.Provider
	metrics *observe.Metrics
}

func (p *countingSTT) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	h, err := p.Provider.StartStream(ctx, cfg)
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	p.metrics.RecordRecogniserStart(ctx, status)
	return h, err
}
