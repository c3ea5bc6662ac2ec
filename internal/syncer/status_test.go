package syncer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionIsCompareAndSwap(t *testing.T) {
	x := NewStatusExchange()

	assert.Equal(t, StatusNoInputNeeded, x.Status())
	assert.True(t, x.Transition(StatusNoInputNeeded, StatusNeedMFA))
	assert.Equal(t, StatusNeedMFA, x.Status())

	// Source state no longer matches.
	assert.False(t, x.Transition(StatusNoInputNeeded, StatusNeedPassword))
	assert.Equal(t, StatusNeedMFA, x.Status())
}

func TestSubmitCodeRequiresNeedMFA(t *testing.T) {
	x := NewStatusExchange()

	assert.False(t, x.SubmitCode("123456"))

	require.True(t, x.Transition(StatusNoInputNeeded, StatusNeedMFA))
	assert.True(t, x.SubmitCode("123456"))
	assert.Equal(t, StatusSuppliedMFA, x.Status())

	// A second submitter loses the race.
	assert.False(t, x.SubmitCode("654321"))

	code, ok := x.takeCode()
	require.True(t, ok)
	assert.Equal(t, "123456", code)
	assert.Equal(t, StatusCheckingMFA, x.Status())
}

func TestWaitCodeReceivesSubmission(t *testing.T) {
	x := NewStatusExchange()

	go func() {
		for !x.SubmitCode("007007") {
			time.Sleep(time.Millisecond)
		}
	}()

	code, err := x.WaitCode(context.Background(), time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "007007", code)
	assert.Equal(t, StatusCheckingMFA, x.Status())

	x.CodeChecked(true, "")
	assert.Equal(t, StatusNoInputNeeded, x.Status())
	assert.Empty(t, x.LastError())
}

func TestWaitCodeTimesOut(t *testing.T) {
	x := NewStatusExchange()

	_, err := x.WaitCode(context.Background(), time.Millisecond, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrMFATimeout)
	assert.Equal(t, StatusNoInputNeeded, x.Status())
}

func TestWaitCodeHonorsContext(t *testing.T) {
	x := NewStatusExchange()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := x.WaitCode(ctx, time.Millisecond, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusNoInputNeeded, x.Status())
}

func TestCodeCheckedWrongCodeAsksAgain(t *testing.T) {
	x := NewStatusExchange()

	require.True(t, x.Transition(StatusNoInputNeeded, StatusNeedMFA))
	require.True(t, x.SubmitCode("000000"))

	_, ok := x.takeCode()
	require.True(t, ok)

	x.CodeChecked(false, "wrong code")
	assert.Equal(t, StatusNeedMFA, x.Status())
	assert.Equal(t, "wrong code", x.LastError())
}

func TestCommandQueueHoldsOne(t *testing.T) {
	x := NewStatusExchange()

	assert.True(t, x.Send(CommandSync))
	assert.False(t, x.Send(CommandStop))

	cmd, ok := x.Poll()
	require.True(t, ok)
	assert.Equal(t, CommandSync, cmd)

	_, ok = x.Poll()
	assert.False(t, ok)
}
