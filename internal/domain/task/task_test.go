package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusQueued, StatusLeased},
		{StatusQueued, StatusCanceled},
		{StatusLeased, StatusSucceeded},
		{StatusLeased, StatusFailed},
		{StatusLeased, StatusQueued},
		{StatusLeased, StatusCanceled},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusQueued, StatusSucceeded},
		{StatusQueued, StatusFailed},
		{StatusSucceeded, StatusQueued},
		{StatusSucceeded, StatusFailed},
		{StatusFailed, StatusQueued},
		{StatusFailed, StatusLeased},
		{StatusCanceled, StatusQueued},
		{StatusCanceled, StatusLeased},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s must be rejected", tc.from, tc.to)
	}
}

func TestTerminalStatesAreSinks(t *testing.T) {
	all := []Status{StatusQueued, StatusLeased, StatusSucceeded, StatusFailed, StatusCanceled}
	for _, terminal := range []Status{StatusSucceeded, StatusFailed, StatusCanceled} {
		assert.True(t, terminal.IsTerminal())
		for _, to := range all {
			assert.False(t, CanTransition(terminal, to), "%s -> %s must be rejected", terminal, to)
		}
	}
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusLeased.IsTerminal())
}

func TestStatusValid(t *testing.T) {
	for _, s := range []Status{StatusQueued, StatusLeased, StatusSucceeded, StatusFailed, StatusCanceled} {
		assert.True(t, s.Valid())
	}
	assert.False(t, Status("running").Valid())
	assert.False(t, Status("").Valid())
}
