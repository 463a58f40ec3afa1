package deepgram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

func query(t *testing.T, p *Provider, cfg stt.StreamConfig) url.Values {
	t.Helper()
	raw, err := p.listenURL(cfg)
	if err != nil {
		t.Fatalf("listenURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u.Query()
}

func TestListenURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts []Option
		cfg  stt.StreamConfig
		want map[string]string
	}{
		{
			name: "defaults",
			cfg:  stt.StreamConfig{Channels: 1},
			want: map[string]string{
				"model": "nova-3", "language": "ko", "encoding": "linear16",
				"sample_rate": "48000", "interim_results": "true",
				"channels": "1", "endpointing": "300",
			},
		},
		{
			name: "stream overrides language and rate",
			cfg:  stt.StreamConfig{Language: "ko-KR", SampleRate: 44100},
			want: map[string]string{"language": "ko-KR", "sample_rate": "44100"},
		},
		{
			name: "endpointing disabled",
			opts: []Option{WithEndpointing(0)},
			want: map[string]string{"endpointing": ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, err := New("key", tt.opts...)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			q := query(t, p, tt.cfg)
			for k, want := range tt.want {
				if got := q.Get(k); got != want {
					t.Errorf("%s = %q, want %q", k, got, want)
				}
			}
		})
	}
}

func TestListenURL_Keywords(t *testing.T) {
	t.Parallel()

	kws := []stt.KeywordBoost{{Keyword: "소닉 펀치", Boost: 2}, {Keyword: "파음격", Boost: 3.5}}

	p, _ := New("key")
	q := query(t, p, stt.StreamConfig{Keywords: kws})
	if terms := q["keyterm"]; len(terms) != 2 || terms[0] != "소닉 펀치" || terms[1] != "파음격" {
		t.Errorf("keyterm = %v", terms)
	}
	if _, ok := q["keywords"]; ok {
		t.Error("nova-3 stream sent weighted keywords")
	}

	p, _ = New("key", WithModel("nova-2"))
	q = query(t, p, stt.StreamConfig{Keywords: kws})
	if got := q["keywords"]; len(got) != 2 || got[1] != "파음격:3.5" {
		t.Errorf("keywords = %v", got)
	}
}

func TestDecodeResult(t *testing.T) {
	t.Parallel()

	tr, ok := decodeResult([]byte(`{
		"type": "Results",
		"is_final": true,
		"start": 1.5,
		"channel": {"alternatives": [{"transcript": "받아라 소닉 펀치", "confidence": 0.91}]}
	}`))
	if !ok {
		t.Fatal("Results message was skipped")
	}
	if !tr.IsFinal || tr.Text != "받아라 소닉 펀치" || tr.Confidence != 0.91 || tr.Timestamp != 1500*time.Millisecond {
		t.Errorf("transcript = %+v", tr)
	}

	skipped := map[string]string{
		"metadata":        `{"type":"Metadata","request_id":"abc"}`,
		"no alternatives": `{"type":"Results","is_final":true,"channel":{"alternatives":[]}}`,
		"silence":         `{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":" "}]}}`,
		"malformed":       `{invalid`,
	}
	for name, raw := range skipped {
		if _, ok := decodeResult([]byte(raw)); ok {
			t.Errorf("%s: decoded, want skipped", name)
		}
	}
}

func TestNew_RequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("empty api key was accepted")
	}
}

// fakeListen accepts one stream, reports the first binary and text message it
// sees and answers the first audio chunk with a partial and a final.
func fakeListen(t *testing.T, audio chan<- []byte, control chan<- string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Token secret" {
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()

		ctx := r.Context()
		answered := false
		for {
			typ, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText {
				select {
				case control <- string(data):
				default:
				}
				continue
			}
			select {
			case audio <- data:
			default:
			}
			if !answered {
				answered = true
				_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"소닉"}]}}`))
				_ = c.Write(ctx, websocket.MessageText, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"소닉 펀치!"}]}}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestStartStream_RoundTrip(t *testing.T) {
	t.Parallel()

	audio := make(chan []byte, 1)
	control := make(chan string, 4)
	srv := fakeListen(t, audio, control)

	p, err := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithKeepAlive(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{SampleRate: 48000, Channels: 1})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	if err := h.SendAudio([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case data := <-audio:
		if len(data) != 4 {
			t.Errorf("server received %d bytes, want 4", len(data))
		}
	case <-ctx.Done():
		t.Fatal("server never received audio")
	}
	select {
	case tr := <-h.Partials():
		if tr.Text != "소닉" {
			t.Errorf("partial = %q", tr.Text)
		}
	case <-ctx.Done():
		t.Fatal("no partial received")
	}
	select {
	case tr := <-h.Finals():
		if tr.Text != "소닉 펀치!" || tr.Seq != 2 {
			t.Errorf("final = %q (seq %d), want the second result", tr.Text, tr.Seq)
		}
	case <-ctx.Done():
		t.Fatal("no final received")
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case msg := <-control:
		if !strings.Contains(msg, "CloseStream") {
			t.Errorf("control message = %q, want CloseStream", msg)
		}
	case <-ctx.Done():
		t.Fatal("CloseStream never arrived")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := h.SendAudio([]byte{1}); !errors.Is(err, stt.ErrClosed) {
		t.Errorf("SendAudio after Close = %v, want ErrClosed", err)
	}
}

func TestStartStream_KeepAlive(t *testing.T) {
	t.Parallel()

	control := make(chan string, 4)
	srv := fakeListen(t, make(chan []byte, 1), control)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")), WithKeepAlive(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h, err := p.StartStream(ctx, stt.StreamConfig{})
	if err != nil {
		t.Fatalf("StartStream: %v", err)
	}
	defer h.Close()

	select {
	case msg := <-control:
		if !strings.Contains(msg, "KeepAlive") {
			t.Errorf("control message = %q, want KeepAlive", msg)
		}
	case <-ctx.Done():
		t.Fatal("no KeepAlive while idle")
	}
}

func TestStartStream_Unauthorised(t *testing.T) {
	t.Parallel()

	srv := fakeListen(t, make(chan []byte, 1), make(chan string, 1))
	p, _ := New("wrong", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	if _, err := p.StartStream(context.Background(), stt.StreamConfig{}); err == nil {
		t.Error("dial with a bad key succeeded")
	}
}
