package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/lastecho/internal/combat"
	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/internal/progress"
	"github.com/MrWong99/lastecho/internal/trial"
)

// Client to server frame types.
const (
	frameHello      = "hello"
	frameStart      = "start"
	frameStop       = "stop"
	frameTranscript = "transcript"
	frameAttack     = "attack"
	frameEcho       = "echo"
)

// Server to client frame types. Transcripts are echoed back under
// [frameTranscript] once the server has applied them.
const (
	frameWelcome = "welcome"
	frameAccess  = "access"
	frameLevel   = "level"
	frameResult  = "result"
	frameVictory = "victory"
	frameTrial   = "trial"
	frameError   = "error"
)

// Error codes carried in error frames.
const (
	codeInvalidArgument    = "INVALID_ARGUMENT"
	codeFailedPrecondition = "FAILED_PRECONDITION"
	codeUnavailable        = "UNAVAILABLE"
	codeInternal           = "INTERNAL"
)

// Connection limits.
const (
	helloTimeout           = 10 * time.Second
	writeTimeout           = 5 * time.Second
	maxDecodeErrorsPerConn = 5
	maxMessageBytes        = 64 << 10
	outboxSize             = 64
)

// meterSpan is the level range of the resonance meter: a reading this
// far above the baseline fills it completely.
const meterSpan = 70.0

// wsFrame is the JSON envelope of every text message in both directions.
type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// helloPayload describes the client and its audio capabilities. It must be the
// first frame on a socket.
type helloPayload struct {
	UserID           string `json:"user_id"`
	Mobile           bool   `json:"mobile"`
	Secure           bool   `json:"secure"`
	Hostname         string `json:"hostname"`
	CaptureSupported bool   `json:"capture_supported"`
	Permission       string `json:"permission,omitempty"`
	Codec            string `json:"codec,omitempty"`
	SampleRate       int    `json:"sample_rate"`
	Channels         int    `json:"channels"`
}

type captureErrorPayload struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// startPayload may carry the rejection the browser got from getUserMedia, in
// which case the start fails with the matching guidance.
type startPayload struct {
	CaptureError *captureErrorPayload `json:"capture_error,omitempty"`
}

type transcriptPayload struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

type monsterView struct {
	combat.Monster
	HP        int `json:"hp"`
	MaxHP     int `json:"max_hp"`
	RewardExp int `json:"reward_exp"`
}

func newMonsterView(m combat.Monster, hp int) monsterView {
	return monsterView{Monster: m, HP: hp, MaxHP: m.MaxHP(), RewardExp: m.RewardExp()}
}

type welcomePayload struct {
	SessionID  string            `json:"session_id"`
	Player     progress.Player   `json:"player"`
	Class      combat.Class      `json:"class"`
	BaselineDB float64           `json:"baseline_db"`
	Monster    *monsterView      `json:"monster,omitempty"`
	Trial      *trial.Definition `json:"trial,omitempty"`
}

type accessPayload struct {
	Status  mic.Status `json:"status"`
	Kind    mic.Kind   `json:"kind,omitempty"`
	Message string     `json:"message,omitempty"`
}

type levelPayload struct {
	Current float64 `json:"current"`
	Peak    float64 `json:"peak"`
	Fill    float64 `json:"fill"`
}

type resultPayload struct {
	Damage    int            `json:"damage"`
	Logs      []string       `json:"logs"`
	Matched   string         `json:"matched,omitempty"`
	Peak      float64        `json:"peak"`
	Ultimate  bool           `json:"ultimate"`
	Outcome   combat.Outcome `json:"outcome"`
	Hint      string         `json:"hint,omitempty"`
	MonsterHP *int           `json:"monster_hp,omitempty"`
}

func newResultPayload(res combat.Result) resultPayload {
	logs := res.Logs
	if logs == nil {
		logs = []string{}
	}
	return resultPayload{
		Damage:   res.Damage,
		Logs:     logs,
		Matched:  res.MatchedKeyword,
		Peak:     res.PeakLevel,
		Ultimate: res.Ultimate,
		Outcome:  res.Outcome,
		Hint:     res.Hint,
	}
}

type victoryPayload struct {
	Exp   int      `json:"exp"`
	Saved bool     `json:"saved"`
	Logs  []string `json:"logs"`
}

// meterFill maps a level onto the 0-100 resonance meter.
func meterFill(current, baseline float64) float64 {
	return min(100, max(0, (current-baseline)/meterSpan*100))
}

func mustJSON(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal websocket frame payload", "err", err)
		return nil
	}
	return b
}

// wsPeer serialises writes to one socket through a single writer goroutine so
// that level updates from the sampler never block on the network.
type wsPeer struct {
	conn *websocket.Conn
	out  chan wsFrame
	done chan struct{}

	// pending counts frames queued but not yet written.
	pending atomic.Int64
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn: conn,
		out:  make(chan wsFrame, outboxSize),
		done: make(chan struct{}),
	}
}

// run writes queued frames until ctx ends or a write fails.
func (p *wsPeer) run(ctx context.Context) {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-p.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, p.conn, f)
			cancel()
			p.pending.Add(-1)
			if err != nil {
				slog.Debug("websocket write failed", "type", f.Type, "err", err)
				return
			}
		}
	}
}

// writeFrame queues f, waiting for room. It reports false once the writer has
// stopped.
func (p *wsPeer) writeFrame(f wsFrame) bool {
	p.pending.Add(1)
	select {
	case p.out <- f:
		return true
	case <-p.done:
		p.pending.Add(-1)
		return false
	}
}

// offerFrame queues f only if there is room right now.
func (p *wsPeer) offerFrame(f wsFrame) bool {
	p.pending.Add(1)
	select {
	case p.out <- f:
		return true
	default:
		p.pending.Add(-1)
		return false
	}
}

func (p *wsPeer) send(typ, requestID string, payload any) bool {
	return p.writeFrame(wsFrame{Type: typ, RequestID: requestID, Payload: mustJSON(payload)})
}

func writeWSError(p *wsPeer, requestID, code, message string, retryable bool) bool {
	return p.send(frameError, requestID, wsErrorEnvelope{
		Error: wsError{Code: code, Message: message, Retryable: retryable},
	})
}

// flush waits until queued frames are written or the timeout passes, so a
// final error frame reaches the client before the socket closes.
func (p *wsPeer) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for p.pending.Load() > 0 && time.Now().Before(deadline) {
		select {
		case <-p.done:
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}
