package util

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerFallback(t *testing.T) {
	assert.NotNil(t, GetLogger())
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger("production"))
	assert.NotNil(t, GetLogger())
	require.NoError(t, InitLogger("development"))
	SyncLogger()
}

func TestSpansWithoutTracer(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	assert.NotNil(t, ctx)
	EndSpan(span, errors.New("boom"))
	_, span = StartSpan(ctx, "child")
	EndSpan(span, nil)
}
