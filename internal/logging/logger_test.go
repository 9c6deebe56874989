package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLevels(t *testing.T) {
	l, err := New("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = New("nonsense")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))

	l, err = New("")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}

func TestPrintfAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	a := NewPrintfAdapter(zap.New(core))
	a.Printf("GET %s %d", "/healthz", 200)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "GET /healthz 200", logs.All()[0].Message)

	NewPrintfAdapter(nil).Printf("dropped")
}
