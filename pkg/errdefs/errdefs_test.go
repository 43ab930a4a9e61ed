package errdefs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tt := []struct {
		name  string
		err   error
		kind  error
		fatal bool
		msg   string
	}{
		{"configuration", Configurationf("bogus is not a join type"), ErrConfiguration, true, "invalid configuration: bogus is not a join type"},
		{"type mismatch", TypeMismatchf("schema must be nil"), ErrTypeMismatch, true, "type mismatch: schema must be nil"},
		{"unsupported", Unsupportedf("can't copy"), ErrUnsupported, true, "unsupported operation: can't copy"},
		{"backend", Backend("persist", context.Canceled), ErrBackend, false, "backend failure: persist: context canceled"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			require.ErrorIs(t, tc.err, tc.kind)
			require.Equal(t, tc.fatal, IsFatal(tc.err))
			require.EqualError(t, tc.err, tc.msg)
		})
	}
}

func TestBackend(t *testing.T) {
	t.Run("keeps the cause in the chain", func(t *testing.T) {
		err := Backend("join", context.DeadlineExceeded)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.ErrorIs(t, err, ErrBackend)
	})

	t.Run("does not rewrap fatal errors", func(t *testing.T) {
		cfgErr := Configurationf("bad level")
		require.Same(t, cfgErr, Backend("persist", cfgErr))
	})

	t.Run("does not rewrap backend errors", func(t *testing.T) {
		first := Backend("map", errors.New("executor lost"))
		require.Same(t, first, Backend("collect", first))
	})

	t.Run("nil stays nil", func(t *testing.T) {
		require.NoError(t, Backend("noop", nil))
	})
}
