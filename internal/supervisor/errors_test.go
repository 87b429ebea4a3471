package supervisor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewSpawnError("worker", errors.New("exec: not found"))
	assert.Equal(t, "[SPAWN_FAILED] daemon=worker failed to spawn process: exec: not found", err.Error())

	plain := NewClosedError()
	assert.Equal(t, "[SUPERVISOR_CLOSED] supervisor is closed", plain.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewSpawnError("worker", cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := NewDaemonNotFoundError("a")
	b := NewDaemonNotFoundError("b")

	assert.ErrorIs(t, a, b)
	assert.NotErrorIs(t, a, NewClosedError())
}

func TestErrorWithContext(t *testing.T) {
	err := NewStopFailedError("worker", errors.New("kill failed")).
		WithContext("pid", 1234).
		WithContext("grace", "10s")

	require.NotNil(t, err.Context)
	assert.Equal(t, 1234, err.Context["pid"])
	assert.Equal(t, "10s", err.Context["grace"])
}

func TestDaemonNotFoundHelpers(t *testing.T) {
	err := NewDaemonNotFoundError("ghost")

	assert.True(t, IsDaemonNotFound(err))
	assert.Equal(t, "ghost", DaemonNameFromError(err))

	// Wrapped errors still match.
	wrapped := fmt.Errorf("handling request: %w", err)
	assert.True(t, IsDaemonNotFound(wrapped))
	assert.Equal(t, "ghost", DaemonNameFromError(wrapped))

	assert.False(t, IsDaemonNotFound(errors.New("other")))
	assert.Empty(t, DaemonNameFromError(errors.New("other")))
}
