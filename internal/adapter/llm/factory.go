package llm

import (
	"time"

	"go.uber.org/zap"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "DIPAGT_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// NewLLMClient creates an LLM client for mode. ModeMock returns a MockClient;
// anything else returns a real Client.
func NewLLMClient(mode, baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) LLMClient {
	if mode == ModeMock {
		logger.Info("mock mode detected, using mock LLM client", zap.String("env", EnvMode))
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, timeout)
}
