package app

import (
	"context"
	"log/slog"

	"github.com/MrWong99/lastecho/internal/config"
	"github.com/MrWong99/lastecho/internal/observe"
	"github.com/MrWong99/lastecho/internal/resilience"
	"github.com/MrWong99/lastecho/pkg/provider/stt"
	"github.com/MrWong99/lastecho/pkg/provider/stt/deepgram"
	"github.com/MrWong99/lastecho/pkg/provider/stt/relay"
)

// RegisterSTT wires the built-in recognisers into reg.
//
//   - relay: the browser's own recognition results, forwarded over the socket.
//   - deepgram: server-side recognition of the streamed audio. The client
//     relay stays behind it as a fallback, so an unreachable Deepgram only
//     costs accuracy.
//   - none: no recognition; keyword attacks always find no keyword.
func RegisterSTT(reg *config.Registry, metrics *observe.Metrics) {
	reg.RegisterSTT(config.STTRelay, func(_ config.STTConfig, rl *relay.Provider) (stt.Provider, error) {
		return rl, nil
	})

	reg.RegisterSTT(config.STTNone, func(config.STTConfig, *relay.Provider) (stt.Provider, error) {
		return stt.None{}, nil
	})

	reg.RegisterSTT(config.STTDeepgram, func(cfg config.STTConfig, rl *relay.Provider) (stt.Provider, error) {
		var opts []deepgram.Option
		if cfg.Model != "" {
			opts = append(opts, deepgram.WithModel(cfg.Model))
		}
		if cfg.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Language))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, deepgram.WithEndpoint(cfg.Endpoint))
		}
		dg, err := deepgram.New(cfg.APIKey, opts...)
		if err != nil {
			return nil, err
		}

		fb := resilience.NewSTTFallback(dg, config.STTDeepgram, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				OnStateChange: func(name string, from, to resilience.State) {
					slog.Warn("speech provider breaker changed state", "provider", name, "from", from.String(), "to", to.String())
					metrics.RecordBreakerTransition(context.Background(), name, to.String())
				},
			},
		})
		fb.AddFallback(config.STTRelay, rl)
		return fb, nil
	})

	for _, name := range reg.STTNames() {
		slog.Debug("registered provider", "kind", "stt", "name", name)
	}
}
