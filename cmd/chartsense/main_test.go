package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebtf/chartsense/internal/config"
	"github.com/thebtf/chartsense/internal/kv/memory"
	"github.com/thebtf/chartsense/internal/worker"
	"github.com/thebtf/chartsense/internal/worker/auth"
	"github.com/thebtf/chartsense/pkg/client"
)

func newTestCLI(t *testing.T) (*cli, *bytes.Buffer) {
	t.Helper()

	cfg := config.Default()
	cfg.Backend = "memory"
	cfg.Timezone = "UTC"
	now := time.Date(2026, 7, 1, 8, 0, 0, 0, time.UTC)

	svc := worker.NewService("test", cfg, memory.NewStore(), nil,
		worker.WithClock(func() time.Time { return now }))
	require.NoError(t, svc.Init(context.Background()))
	srv := httptest.NewServer(svc.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = svc.Shutdown(context.Background())
	})

	out := &bytes.Buffer{}
	return &cli{client: client.New(srv.URL), cfg: cfg, out: out}, out
}

func TestCLI_SaveAndList(t *testing.T) {
	c, out := newTestCLI(t)
	ctx := context.Background()

	c.in = strings.NewReader("Signal: Bullish\n\nHigher lows since Monday.\nSecond line.")
	require.NoError(t, c.run(ctx, "save", []string{"--provider", "anthropic"}))
	assert.Contains(t, out.String(), "Saved session")

	out.Reset()
	require.NoError(t, c.run(ctx, "list", nil))
	assert.Contains(t, out.String(), "08:00:00")
	assert.Contains(t, out.String(), "Anthropic Claude")
	assert.Contains(t, out.String(), "Bullish")
	assert.Contains(t, out.String(), "Higher lows since Monday.")
	assert.NotContains(t, out.String(), "Second line.")

	out.Reset()
	require.NoError(t, c.run(ctx, "stats", nil))
	assert.Contains(t, out.String(), "Today:     1")

	out.Reset()
	require.NoError(t, c.run(ctx, "clear", nil))
	out.Reset()
	require.NoError(t, c.run(ctx, "list", []string{"2026-07-01"}))
	assert.Equal(t, "No sessions.\n", out.String())
}

func TestCLI_Errors(t *testing.T) {
	c, _ := newTestCLI(t)
	ctx := context.Background()

	assert.EqualError(t, c.run(ctx, "explode", nil), `unknown command "explode"`)
	assert.EqualError(t, c.run(ctx, "save", []string{"--text", "x"}), "--provider is required")

	c.in = strings.NewReader("   ")
	assert.EqualError(t, c.run(ctx, "save", []string{"--provider", "openai"}), "analysis text is empty")

	assert.Error(t, c.run(ctx, "token", nil))
}

func TestCLI_Token(t *testing.T) {
	c, out := newTestCLI(t)
	c.cfg.AuthSecret = "s3cret"

	require.NoError(t, c.run(context.Background(), "token", []string{"--ttl", "1h"}))

	claims, err := auth.NewVerifier([]byte("s3cret")).Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "cli", claims.Subject)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "one", firstLine("one\ntwo"))
	assert.Len(t, firstLine(strings.Repeat("x", 200)), 80)
}
