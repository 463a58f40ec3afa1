package resilience

import (
	"context"

	"github.com/MrWong99/lastecho/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that opens the stream on the first healthy
// recogniser. Failover happens only when a stream is started; an open stream
// stays on the recogniser that accepted it.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback returns a fallback chain starting with primary.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a recogniser to the chain.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.AddFallback(name, p) }

// States reports each recogniser's breaker state.
func (f *STTFallback) States() map[string]State { return f.group.States() }

// StartStream implements [stt.Provider].
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
