package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInit(t *testing.T) {
	log, level, err := Init(&Config{Level: zapcore.WarnLevel}, "10.1.2.3")
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Equal(t, zapcore.WarnLevel, level.Level())
}

func TestForConnFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	log := zap.New(core).Sugar()

	ForConn(log, "config/v1/cache/feed.content", 42).Infow("accepted")

	entries := observed.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "config/v1/cache/feed.content", fields["service"])
	assert.Equal(t, int64(42), fields["cid"])
}
