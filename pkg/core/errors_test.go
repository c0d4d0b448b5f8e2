package core_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/turnmem-go/pkg/core"
	"github.com/oceanbase/turnmem-go/pkg/storage"
)

func TestMemoryError(t *testing.T) {
	originalErr := errors.New("original error")
	memErr := core.NewMemoryError("test_operation", originalErr)

	assert.Equal(t, "turnmem: test_operation: original error", memErr.Error())
	assert.ErrorIs(t, memErr, originalErr)

	var target *core.MemoryError
	assert.ErrorAs(t, memErr, &target)
	assert.Equal(t, "test_operation", target.Op)

	assert.NoError(t, core.NewMemoryError("noop", nil))
}

func TestErrNotFoundIsStorageSentinel(t *testing.T) {
	assert.ErrorIs(t, core.ErrNotFound, storage.ErrNotFound)
}

func TestTurnError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &core.TurnError{Kind: core.ErrExchangeTransport, State: core.StateExchange, Err: cause}

	assert.Equal(t, "turnmem: turn failed in EXCHANGE: exchange call failed: dial tcp: connection refused", err.Error())
	assert.ErrorIs(t, err, core.ErrExchangeTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, core.ErrExchangeTimeout)

	kindOnly := &core.TurnError{Kind: core.ErrInvalidInput, State: core.StateClassify}
	assert.Equal(t, "turnmem: turn failed in CLASSIFY: invalid input", kindOnly.Error())
	assert.ErrorIs(t, kindOnly, core.ErrInvalidInput)
}
