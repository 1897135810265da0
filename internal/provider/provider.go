// Package provider builds the recognition provider selected by configuration.
package provider

import (
	"time"

	"github.com/lexiqai/speech-bridge/internal/config"
	"github.com/lexiqai/speech-bridge/internal/observability"
	"github.com/lexiqai/speech-bridge/internal/resilience"
	"github.com/lexiqai/speech-bridge/internal/stt"
	"github.com/lexiqai/speech-bridge/internal/tencent"
)

// New validates cfg and returns the provider named by cfg.Provider. The
// Volcengine client shares one handshake circuit breaker whose state changes
// are logged and exported as metrics.
func New(cfg *config.Config) (stt.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case config.ProviderTencent:
		tcfg, err := tencent.ConfigFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		client, err := tencent.NewClient(tcfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return stt.NewVolcengineClient(stt.VolcengineConfigFromConfig(cfg), newBreaker(cfg)), nil
	}
}

func newBreaker(cfg *config.Config) *resilience.CircuitBreaker {
	breaker := resilience.NewCircuitBreaker(
		config.ProviderVolcengine,
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)
	logger := observability.WithComponent("circuit_breaker")
	breaker.OnStateChange(func(name string, state resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(state))
		logger.Warn().Str("service", name).Str("state", state.String()).Msg("Circuit breaker state changed")
	})
	return breaker
}
