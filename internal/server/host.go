package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/pkg/audio"
	"github.com/MrWong99/lastecho/pkg/audio/opus"
)

// Audio codecs a client may stream in binary frames.
const (
	codecPCM16 = "pcm16"
	codecOpus  = "opus"
)

// streamBuffer is the number of audio frames a capture stream holds before
// new ones are dropped.
const streamBuffer = 64

var errPermissionUnknown = errors.New("server: client did not report a permission state")

// clientHost is the [mic.Host] of a remote browser. Its capabilities come from
// the hello frame; audio arrives as binary frames and is pushed into the stream
// handed out by Capture.
type clientHost struct {
	hello   helloPayload
	format  audio.Format
	decoder *opus.Decoder

	mu         sync.Mutex
	captureErr *mic.CaptureError
	stream     *audio.ChanStream
	samples    int64
}

var _ mic.Host = (*clientHost)(nil)

func newClientHost(h helloPayload) (*clientHost, error) {
	format := audio.Format{SampleRate: h.SampleRate, Channels: h.Channels}
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("server: client audio format: %w", err)
	}
	host := &clientHost{hello: h, format: format}
	switch h.Codec {
	case "", codecPCM16:
	case codecOpus:
		dec, err := opus.NewDecoder(format)
		if err != nil {
			return nil, fmt.Errorf("server: client audio codec: %w", err)
		}
		host.decoder = dec
	default:
		return nil, fmt.Errorf("server: unsupported codec %q", h.Codec)
	}
	return host, nil
}

func (h *clientHost) SecureContext() bool    { return h.hello.Secure }
func (h *clientHost) Hostname() string       { return h.hello.Hostname }
func (h *clientHost) CaptureSupported() bool { return h.hello.CaptureSupported }

func (h *clientHost) PermissionState(context.Context) (mic.PermissionState, error) {
	if h.hello.Permission == "" {
		return mic.PermissionUnknown, errPermissionUnknown
	}
	return mic.PermissionState(h.hello.Permission), nil
}

// failNextCapture makes the next Capture return ce.
func (h *clientHost) failNextCapture(ce *mic.CaptureError) {
	h.mu.Lock()
	h.captureErr = ce
	h.mu.Unlock()
}

func (h *clientHost) Capture(context.Context) (audio.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ce := h.captureErr; ce != nil {
		h.captureErr = nil
		return nil, ce
	}

	var s *audio.ChanStream
	s = audio.NewChanStream(h.format, streamBuffer, func() {
		h.mu.Lock()
		if h.stream == s {
			h.stream = nil
		}
		h.mu.Unlock()
	})
	h.stream = s
	h.samples = 0
	return s, nil
}

// push feeds one binary frame into the open capture. Frames that arrive while
// nothing is capturing are discarded.
func (h *clientHost) push(data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		return nil
	}

	pcm := data
	if h.decoder != nil {
		var err error
		if pcm, err = h.decoder.Decode(data); err != nil {
			return err
		}
	} else if len(pcm)%(2*h.format.Channels) != 0 {
		return fmt.Errorf("server: pcm frame of %d bytes is not sample aligned", len(pcm))
	}

	f := audio.AudioFrame{
		Data:       pcm,
		SampleRate: h.format.SampleRate,
		Channels:   h.format.Channels,
		Timestamp:  time.Duration(h.samples) * time.Second / time.Duration(h.format.SampleRate),
	}
	h.samples += int64(f.Samples())
	h.stream.Push(f)
	return nil
}
