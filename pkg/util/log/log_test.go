package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	format := func(t *testing.T, name string) dslog.Format {
		t.Helper()
		var f dslog.Format
		require.NoError(t, f.Set(name))
		return f
	}

	t.Run("filters by level", func(t *testing.T) {
		lvl, err := ParseLevel("warn")
		require.NoError(t, err)

		var buf bytes.Buffer
		logger := New(lvl, format(t, "logfmt"), &buf)
		level.Info(logger).Log("msg", "dropped")
		level.Warn(logger).Log("msg", "kept")

		require.NotContains(t, buf.String(), "dropped")
		require.Contains(t, buf.String(), "msg=kept")
	})

	t.Run("json", func(t *testing.T) {
		lvl, err := ParseLevel("info")
		require.NoError(t, err)

		var buf bytes.Buffer
		logger := New(lvl, format(t, "json"), &buf)
		level.Info(logger).Log("msg", "hello")
		require.Contains(t, buf.String(), `"msg":"hello"`)
	})

	t.Run("zero level logs at info", func(t *testing.T) {
		var buf bytes.Buffer
		logger := New(dslog.Level{}, dslog.Format{}, &buf)
		level.Debug(logger).Log("msg", "dropped")
		level.Info(logger).Log("msg", "kept")

		require.NotContains(t, buf.String(), "dropped")
		require.Contains(t, buf.String(), "msg=kept")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := ParseLevel("loud")
		require.ErrorContains(t, err, `unrecognized log level "loud"`)

		var f dslog.Format
		require.Error(t, f.Set("xml"))
	})
}

func TestContext(t *testing.T) {
	require.Equal(t, Logger, FromContext(context.Background()))

	var buf bytes.Buffer
	logger := log.NewLogfmtLogger(&buf)
	ctx := WithContext(t.Context(), logger)

	FromContext(ctx).Log("msg", "from context")
	require.Contains(t, buf.String(), "msg=\"from context\"")
}

func TestOrNop(t *testing.T) {
	require.NotNil(t, OrNop(nil))

	logger := log.NewLogfmtLogger(&bytes.Buffer{})
	require.Equal(t, logger, OrNop(logger))
}
