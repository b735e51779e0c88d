package logger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	obscontext "github.com/smallbiznis/storyvoice/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWritesJSONLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storyvoice.log")

	log, err := New(nil, Config{
		ServiceName: "storyvoice-test",
		Level:       "info",
		File:        FileConfig{Path: path},
	})
	require.NoError(t, err)

	log.Info("narration.upstream.failed", zap.Int("status_code", 429))
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	require.NotEmpty(t, line)

	assert.Equal(t, "narration.upstream.failed", gjson.Get(line, "msg").String())
	assert.Equal(t, int64(429), gjson.Get(line, "status_code").Int())
	assert.Equal(t, "storyvoice-test", gjson.Get(line, "service").String())
	assert.True(t, gjson.Get(line, "ts").Exists())
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	assert.Error(t, err)
}

func TestWithContextAddsCorrelationFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-9")
	ctx = obscontext.WithActor(ctx, obscontext.ActorTypeUser, "7")
	WithContext(ctx, base).Info("hello")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-9", fields["request_id"])
	assert.Equal(t, "user", fields["actor_type"])
	assert.Equal(t, "7", fields["actor_id"])
	assert.Equal(t, "", fields["trace_id"])
}
