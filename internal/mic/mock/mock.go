// Package mock provides a scriptable [mic.Host] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/lastecho/internal/mic"
	"github.com/MrWong99/lastecho/pkg/audio"
	audiomock "github.com/MrWong99/lastecho/pkg/audio/mock"
)

// Host is a [mic.Host] whose answers are set through its exported fields.
// The zero value is an insecure host with no capture API.
type Host struct {
	Secure      bool
	Host        string
	Supported   bool
	Permission  mic.PermissionState
	PermErr     error
	CaptureErr  error
	CaptureWith audio.Stream

	mu           sync.Mutex
	captureCalls int
	permCalls    int
}

var _ mic.Host = (*Host)(nil)

// SecureContext implements [mic.Host].
func (h *Host) SecureContext() bool { return h.Secure }

// Hostname implements [mic.Host].
func (h *Host) Hostname() string { return h.Host }

// CaptureSupported implements [mic.Host].
func (h *Host) CaptureSupported() bool { return h.Supported }

// PermissionState implements [mic.Host].
func (h *Host) PermissionState(context.Context) (mic.PermissionState, error) {
	h.mu.Lock()
	h.permCalls++
	h.mu.Unlock()
	return h.Permission, h.PermErr
}

// Capture implements [mic.Host]. Without CaptureWith a fresh mono 48 kHz
// mock stream is returned.
func (h *Host) Capture(context.Context) (audio.Stream, error) {
	h.mu.Lock()
	h.captureCalls++
	h.mu.Unlock()
	if h.CaptureErr != nil {
		return nil, h.CaptureErr
	}
	if h.CaptureWith != nil {
		return h.CaptureWith, nil
	}
	return audiomock.NewStream(audio.Format{SampleRate: 48000, Channels: 1}, 16), nil
}

// CaptureCalls returns how many times Capture was called.
func (h *Host) CaptureCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.captureCalls
}

// PermissionCalls returns how many times PermissionState was called.
func (h *Host) PermissionCalls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permCalls
}
