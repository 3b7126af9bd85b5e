package progrock_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/apkforge/internal/adapters/telemetry/progrock"
	"go.trai.ch/apkforge/internal/core/domain"
	"go.trai.ch/apkforge/internal/core/ports"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (c *captureLogger) Info(msg string) { c.add("INFO " + msg) }
func (c *captureLogger) Warn(msg string) { c.add("WARN " + msg) }
func (c *captureLogger) Error(err error) { c.add("ERROR " + err.Error()) }
func (c *captureLogger) add(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
}

func (c *captureLogger) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n")
}

func TestRecorder_ReportsFinishedVertices(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	log := &captureLogger{}
	rec := progrock.New(log)

	ctx, compile := rec.Record(context.Background(), "release compile")
	fromCtx, ok := ports.VertexFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, compile, fromCtx)
	compile.Log(domain.LogLevelInfo, "javac finished")
	compile.Complete(nil)

	_, merge := rec.Record(context.Background(), "release merge")
	merge.Cached()
	merge.Complete(nil)

	_, shrink := rec.Record(context.Background(), "release shrink")
	_, _ = shrink.Stderr().Write([]byte("missing class com.example.Main\n"))
	shrink.Complete(errors.New("shrinking failed"))

	require.NoError(t, rec.Close())

	out := log.joined()
	assert.Contains(t, out, "INFO ✓ release compile")
	assert.Contains(t, out, "INFO ● release merge cached")
	assert.Contains(t, out, "WARN ✗ release shrink: shrinking failed")
	assert.Contains(t, out, "INFO   missing class com.example.Main")
	assert.NotContains(t, out, "javac finished", "output of successful vertices is not replayed")
	assert.Equal(t, 1, strings.Count(out, "release merge"), "a cached vertex is reported once")
}
