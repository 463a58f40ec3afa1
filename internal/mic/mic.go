// Package mic acquires and releases the microphone stream and turns platform
// failures into distinct, user-facing guidance.
//
// The platform itself is abstracted as a [Host]. In the server the host is
// the remote browser, which reports its capabilities in the hello message and
// streams captured audio over the socket; the calibrate command uses a local
// sound card instead.
package mic

import (
	"context"
	"errors"

	"github.com/MrWong99/lastecho/pkg/audio"
)

// PermissionState is the advisory result of a permission query.
type PermissionState string

const (
	PermissionUnknown PermissionState = ""
	PermissionPrompt  PermissionState = "prompt"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Host is the audio-capable platform a [Manager] acquires from.
type Host interface {
	// SecureContext reports whether the page was served over a secure
	// transport.
	SecureContext() bool

	// Hostname is the host part of the page origin.
	Hostname() string

	// CaptureSupported reports whether an audio-capture API exists at all.
	CaptureSupported() bool

	// PermissionState queries the platform's remembered permission. Errors
	// mean the query is unavailable and are ignored by the manager.
	PermissionState(ctx context.Context) (PermissionState, error)

	// Capture opens the microphone. Rejections should be reported as
	// *CaptureError so they can be classified.
	Capture(ctx context.Context) (audio.Stream, error)
}

// CaptureError is a platform rejection of a capture request. Name carries the
// platform's error class, for example "NotAllowedError".
type CaptureError struct {
	Name    string
	Message string
}

func (e *CaptureError) Error() string {
	if e.Message == "" {
		return "mic: capture failed: " + e.Name
	}
	return "mic: capture failed: " + e.Name + ": " + e.Message
}

// Kind classifies an access failure.
type Kind string

const (
	KindInsecureContext Kind = "insecure_context"
	KindUnsupported     Kind = "unsupported"
	KindBlocked         Kind = "blocked"
	KindDenied          Kind = "denied"
)

// Recoverable reports whether asking again may succeed. Every access failure
// is recoverable once the user fixes the cause; no retries happen
// automatically.
func (k Kind) Recoverable() bool { return true }

// Status returns the manager status a failure of this kind leaves behind.
func (k Kind) Status() Status {
	switch k {
	case KindInsecureContext:
		return StatusNotSecure
	case KindUnsupported:
		return StatusUnsupported
	case KindDenied:
		return StatusDenied
	default:
		return StatusBlocked
	}
}

// AccessError is returned by [Manager.RequestAccess]. Message is guidance
// meant to be shown to the player as-is.
type AccessError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *AccessError) Error() string { return "mic: " + string(e.Kind) + ": " + e.Message }

// Unwrap returns the underlying capture error, if any.
func (e *AccessError) Unwrap() error { return e.Err }

// Player-facing guidance, one per failure cause.
const (
	msgInsecure    = "마이크 사용을 위해 HTTPS 연결이 필요합니다. 주소가 https://로 시작하는지 확인해 주세요."
	msgNoAPI       = "이 브라우저는 마이크를 지원하지 않습니다. Chrome 또는 Safari를 사용해주세요."
	msgBlocked     = "마이크 권한이 시스템에서 차단되었습니다. 브라우저 설정에서 마이크를 허용해주세요."
	msgDenied      = "마이크 사용 권한이 거부되었습니다. 브라우저 설정에서 이 사이트의 마이크를 허용해주세요."
	msgNoDevice    = "마이크가 감지되지 않았습니다. 마이크가 연결되어 있는지 확인해주세요."
	msgUnreadable  = "마이크가 다른 앱에서 사용 중이거나, 하드웨어 오류가 발생했습니다."
	msgOtherPrefix = "마이크 접근 오류: "
)

// classify maps a capture rejection to an [AccessError].
func classify(err error) *AccessError {
	var ce *CaptureError
	if !errors.As(err, &ce) {
		return &AccessError{Kind: KindBlocked, Message: msgOtherPrefix + err.Error(), Err: err}
	}
	switch ce.Name {
	case "NotAllowedError", "PermissionDeniedError":
		return &AccessError{Kind: KindDenied, Message: msgDenied, Err: err}
	case "NotFoundError", "DevicesNotFoundError":
		return &AccessError{Kind: KindUnsupported, Message: msgNoDevice, Err: err}
	case "NotReadableError":
		return &AccessError{Kind: KindBlocked, Message: msgUnreadable, Err: err}
	}
	detail := ce.Message
	if detail == "" {
		detail = ce.Name
	}
	return &AccessError{Kind: KindBlocked, Message: msgOtherPrefix + detail, Err: err}
}

// IsLoopback reports whether hostname names the local machine, which the
// platform treats as secure even without TLS.
func IsLoopback(hostname string) bool {
	switch hostname {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return true
	}
	return false
}
