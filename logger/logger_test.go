package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestAdapterCarriesFieldsAndError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).
		WithFields(map[string]interface{}{"contract_id": "c-1"}).
		WithError(errors.New("ses down"))

	log.Warn("completion email failed", map[string]interface{}{"user_id": "u-1"})

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "completion email failed", entry.Message)
	ctx := entry.ContextMap()
	assert.Equal(t, "c-1", ctx["contract_id"])
	assert.Equal(t, "u-1", ctx["user_id"])
	assert.Equal(t, "ses down", ctx["error"])
}

func TestNewStructured(t *testing.T) {
	l, err := NewStructured("debug", "json")
	require.NoError(t, err)
	l.Info("ready", nil)
}
