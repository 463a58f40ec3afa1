package mic

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/lastecho/pkg/audio"
)

// Status is the manager's externally visible state.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusRequesting  Status = "requesting"
	StatusGranted     Status = "granted"
	StatusDenied      Status = "denied"
	StatusBlocked     Status = "blocked"
	StatusNotSecure   Status = "not-secure"
	StatusUnsupported Status = "unsupported"
)

// Manager holds at most one microphone stream. It is safe for concurrent use.
type Manager struct {
	host Host

	// acquire serialises RequestAccess so that only one capture is in flight.
	acquire sync.Mutex

	mu     sync.Mutex
	status Status
	stream audio.Stream
}

// NewManager returns an idle manager for host.
func NewManager(host Host) *Manager {
	return &Manager{host: host, status: StatusIdle}
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// RequestAccess acquires the microphone. It must follow a direct user action
// on the host. While a stream is held the same stream is returned.
//
// Failures are returned as *AccessError; the manager never retries on its own.
func (m *Manager) RequestAccess(ctx context.Context) (audio.Stream, error) {
	m.acquire.Lock()
	defer m.acquire.Unlock()

	m.mu.Lock()
	held := m.stream
	m.mu.Unlock()
	if held != nil {
		return held, nil
	}

	if !m.host.SecureContext() && !IsLoopback(m.host.Hostname()) {
		return nil, m.fail(&AccessError{Kind: KindInsecureContext, Message: msgInsecure})
	}
	if !m.host.CaptureSupported() {
		return nil, m.fail(&AccessError{Kind: KindUnsupported, Message: msgNoAPI})
	}
	if state, err := m.host.PermissionState(ctx); err == nil && state == PermissionDenied {
		return nil, m.fail(&AccessError{Kind: KindBlocked, Message: msgBlocked})
	}

	m.setStatus(StatusRequesting)
	stream, err := m.host.Capture(ctx)
	if err != nil {
		return nil, m.fail(classify(err))
	}

	m.mu.Lock()
	m.stream = stream
	m.status = StatusGranted
	m.mu.Unlock()
	slog.Debug("microphone granted", "format", stream.Format().String())
	return stream, nil
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) fail(err *AccessError) error {
	m.setStatus(err.Kind.Status())
	slog.Info("microphone access failed", "kind", string(err.Kind), "err", err)
	return err
}

// Release stops the held stream. It is a no-op when nothing is held and safe
// to call repeatedly.
func (m *Manager) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	if m.status == StatusGranted {
		m.status = StatusIdle
	}
	m.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}
