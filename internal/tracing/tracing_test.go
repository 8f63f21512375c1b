package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInitAndShutdown(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, Init(ctx, "airlock-test", 1.0))
	assert.NoError(t, Shutdown(ctx))
}

func TestShutdown_WithoutInitIsNoop(t *testing.T) {
	provider = nil
	assert.NoError(t, Shutdown(context.Background()))
}
