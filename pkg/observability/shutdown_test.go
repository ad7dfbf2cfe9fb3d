package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsHooksInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	sm.Register("recorder", func(context.Context) error {
		order = append(order, "recorder")
		return nil
	})
	sm.Register("database", func(context.Context) error {
		order = append(order, "database")
		return nil
	})

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"recorder", "database"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	ran := false
	sm.Register("first", func(context.Context) error { return errors.New("flush failed") })
	sm.Register("second", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "first: flush failed")
	assert.True(t, ran, "later hooks still run after a failure")
}

func TestShutdownManager_WaitForSignalContextCancel(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, sm.WaitForSignal(ctx))
}

func TestPanicError(t *testing.T) {
	assert.NoError(t, PanicError(nil))

	sentinel := errors.New("bad")
	assert.ErrorIs(t, PanicError(sentinel), sentinel)
	assert.EqualError(t, PanicError("oops"), "panic: oops")
}

func TestRecoverPanicWithCallback(t *testing.T) {
	var got interface{}
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "test", func(r interface{}) { got = r })
		panic("kaboom")
	}()
	assert.Equal(t, "kaboom", got)
}
