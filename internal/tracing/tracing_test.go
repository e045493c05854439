package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
)

func TestInitDisabledIsNoop(t *testing.T) {
	p, err := Init(context.Background(), config.TracingConfig{Enabled: false}, "test")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	span.End()
}

func TestInitRejectsUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), config.TracingConfig{Enabled: true, Exporter: "zipkin"}, "test")
	assert.Error(t, err)
}

func TestInitStdout(t *testing.T) {
	p, err := Init(context.Background(), config.TracingConfig{Enabled: true, Exporter: "stdout"}, "test")
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}
