package mutexo

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type ClientConfig struct {
	// RequestTimeout ограничивает ожидание ответа на один запрос; 0 - без ограничения.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
	Tracer         trace.Tracer
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RequestTimeout: 30 * time.Second,
		Logger:         slog.Default(),
	}
}
