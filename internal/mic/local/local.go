// Package local implements [mic.Host] on top of the machine's default capture
// device using miniaudio (malgo). It backs the calibrate command.
package local

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/pkg/audio"
)

// Host captures signed 16-bit PCM from the default input device.
type Host struct {
	format audio.Format
}

var _ mic.Host = (*Host)(nil)

// New returns a host capturing in format. A zero format selects 48 kHz mono.
func New(format audio.Format) *Host {
	if format.SampleRate == 0 {
		format.SampleRate = 48000
	}
	if format.Channels == 0 {
		format.Channels = 1
	}
	return &Host{format: format}
}

// SecureContext implements [mic.Host]. A local device needs no transport.
func (h *Host) SecureContext() bool { return true }

// Hostname implements [mic.Host].
func (h *Host) Hostname() string { return "localhost" }

// CaptureSupported implements [mic.Host].
func (h *Host) CaptureSupported() bool { return true }

// PermissionState implements [mic.Host]. The operating system offers no
// query, so the pre-check is always skipped.
func (h *Host) PermissionState(context.Context) (mic.PermissionState, error) {
	return mic.PermissionUnknown, errors.ErrUnsupported
}

// Capture implements [mic.Host].
func (h *Host) Capture(ctx context.Context) (audio.Stream, error) {
	if err := h.format.Validate(); err != nil {
		return nil, fmt.Errorf("local mic: %w", err)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, &mic.CaptureError{Name: "NotSupportedError", Message: err.Error()}
	}

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil || len(devices) == 0 {
		freeContext(mctx)
		return nil, &mic.CaptureError{Name: "NotFoundError", Message: "no capture device"}
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(h.format.Channels)
	cfg.SampleRate = uint32(h.format.SampleRate)

	var (
		stream  *audio.ChanStream
		started = time.Now()
		once    sync.Once
		dev     *malgo.Device
	)
	stream = audio.NewChanStream(h.format, 256, func() {
		once.Do(func() {
			if dev != nil {
				_ = dev.Stop()
				dev.Uninit()
			}
			freeContext(mctx)
		})
	})

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			// miniaudio reuses input after the callback returns.
			stream.Push(audio.AudioFrame{
				Data:       append([]byte(nil), input...),
				SampleRate: h.format.SampleRate,
				Channels:   h.format.Channels,
				Timestamp:  time.Since(started),
			})
		},
	}

	dev, err = malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		stream.Stop()
		return nil, &mic.CaptureError{Name: "NotReadableError", Message: err.Error()}
	}
	if err := dev.Start(); err != nil {
		stream.Stop()
		return nil, &mic.CaptureError{Name: "NotReadableError", Message: err.Error()}
	}

	context.AfterFunc(ctx, stream.Stop)
	return stream, nil
}

func freeContext(c *malgo.AllocatedContext) {
	_ = c.Uninit()
	c.Free()
}
