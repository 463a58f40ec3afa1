// Package deepgram recognises the player's speech on the server with the
// Deepgram live streaming API. It is selected when the browser cannot run its
// own recogniser and relays raw PCM instead.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

const (
	listenURL = "wss://api.deepgram.com/v1/listen"

	// DefaultModel is the recognition model. nova-3 handles Korean.
	DefaultModel = "nova-3"

	// DefaultEndpointing is the silence, in milliseconds, after which a
	// shouted command is finalised. Attack phrases are short, so this is
	// tighter than Deepgram's conversational default.
	DefaultEndpointing = 300

	// DefaultKeepAlive is how long the socket may go without audio before a
	// KeepAlive message is sent. Deepgram drops idle streams after ten
	// seconds, and players often pause between attacks.
	DefaultKeepAlive = 5 * time.Second

	audioQueue = 128
)

// ErrAudioDropped is returned by SendAudio when the outbound queue is full.
// The chunk is discarded so a slow recogniser never stalls the level meter.
var ErrAudioDropped = errors.New("deepgram: audio queue full, chunk dropped")

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the Deepgram model, e.g. "nova-2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default language when a stream does not name one.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithEndpoint points the provider at another listen URL. Tests use a local
// server.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithEndpointing sets the finalisation silence in milliseconds. Zero
// leaves the parameter unset.
func WithEndpointing(ms int) Option {
	return func(p *Provider) { p.endpointing = ms }
}

// WithKeepAlive sets the idle interval before a KeepAlive is sent.
func WithKeepAlive(d time.Duration) Option {
	return func(p *Provider) { p.keepAlive = d }
}

// Provider opens Deepgram live sessions. It is safe for concurrent use.
type Provider struct {
	apiKey      string
	endpoint    string
	model       string
	language    string
	endpointing int
	keepAlive   time.Duration
}

var _ stt.Provider = (*Provider)(nil)

// New returns a Provider authenticating with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key is required")
	}
	p := &Provider{
		apiKey:      apiKey,
		endpoint:    listenURL,
		model:       DefaultModel,
		language:    "ko",
		endpointing: DefaultEndpointing,
		keepAlive:   DefaultKeepAlive,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram for one listening session. ctx bounds only the
// dial; the session lives until Close.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	u, err := p.listenURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: listen url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Token " + p.apiKey}},
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &stream{
		conn:      conn,
		cancel:    cancel,
		keepAlive: p.keepAlive,
		audio:     make(chan []byte, audioQueue),
		partials:  make(chan stt.Transcript, 32),
		finals:    make(chan stt.Transcript, 32),
		closed:    make(chan struct{}),
	}
	s.wg.Add(2)
	go s.receive(runCtx)
	go s.transmit(runCtx)
	return s, nil
}

// listenURL encodes the stream parameters into the query string.
func (p *Provider) listenURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rate := cfg.SampleRate
	if rate == 0 {
		rate = 48000
	}

	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(rate))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.Channels > 0 {
		q.Set("channels", strconv.Itoa(cfg.Channels))
	}
	if p.endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(p.endpointing))
	}

	// nova-3 takes plain key terms; older models take weighted keywords.
	nova3 := strings.HasPrefix(p.model, "nova-3")
	for _, kw := range cfg.Keywords {
		if nova3 {
			q.Add("keyterm", kw.Keyword)
		} else {
			q.Add("keywords", kw.Keyword+":"+strconv.FormatFloat(kw.Boost, 'g', -1, 64))
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ── Session ─────────────────────────────────────────────────────────────────

// stream is one live Deepgram session.
type stream struct {
	conn      *websocket.Conn
	cancel    context.CancelFunc
	keepAlive time.Duration

	audio    chan []byte
	partials chan stt.Transcript
	finals   chan stt.Transcript

	dropped   atomic.Int64
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// SendAudio queues chunk without blocking.
func (s *stream) SendAudio(chunk []byte) error {
	select {
	case <-s.closed:
		return stt.ErrClosed
	default:
	}
	select {
	case s.audio <- chunk:
		return nil
	default:
		s.dropped.Add(1)
		return ErrAudioDropped
	}
}

func (s *stream) Partials() <-chan stt.Transcript { return s.partials }
func (s *stream) Finals() <-chan stt.Transcript   { return s.finals }

// SetKeywords is unsupported: key terms are fixed when the stream opens.
func (s *stream) SetKeywords([]stt.KeywordBoost) error {
	return fmt.Errorf("deepgram: set keywords: %w", stt.ErrNotSupported)
}

// Close flushes pending audio with CloseStream and tears the socket down.
// It is idempotent.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		_ = s.conn.Close(websocket.StatusNormalClosure, "listening stopped")
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// transmit forwards audio and keeps the socket alive while the player is
// quiet.
func (s *stream) transmit(ctx context.Context) {
	defer s.wg.Done()

	var idle <-chan time.Time
	var timer *time.Timer
	if s.keepAlive > 0 {
		timer = time.NewTimer(s.keepAlive)
		defer timer.Stop()
		idle = timer.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
			if timer != nil {
				timer.Reset(s.keepAlive)
			}
		case <-idle:
			if err := s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
			timer.Reset(s.keepAlive)
		}
	}
}

// receive turns Results messages into transcripts until the socket ends.
func (s *stream) receive(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	var seq uint64
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		t, ok := decodeResult(msg)
		if !ok {
			continue
		}
		seq++
		t.Seq = seq
		out := s.partials
		if t.IsFinal {
			out = s.finals
		}
		select {
		case out <- t:
		case <-s.closed:
			return
		}
	}
}

// result is the subset of a Deepgram Results message the game reads.
type result struct {
	Type    string  `json:"type"`
	IsFinal bool    `json:"is_final"`
	Start   float64 `json:"start"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// decodeResult extracts the top alternative of a Results message. Other
// message types, silence results with no text and malformed input are
// skipped.
func decodeResult(data []byte) (stt.Transcript, bool) {
	var r result
	if json.Unmarshal(data, &r) != nil || r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return stt.Transcript{}, false
	}
	alt := r.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return stt.Transcript{}, false
	}
	return stt.Transcript{
		Text:       alt.Transcript,
		IsFinal:    r.IsFinal,
		Confidence: alt.Confidence,
		Timestamp:  time.Duration(r.Start * float64(time.Second)),
	}, true
}
