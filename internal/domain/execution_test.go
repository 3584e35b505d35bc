package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionLegalEdges(t *testing.T) {
	rec := &ExecutionRecord{Status: ExecutionStatusPending}

	require.NoError(t, rec.Transition(ExecutionStatusExecuting))
	require.NoError(t, rec.Transition(ExecutionStatusSuccess))
	require.NoError(t, rec.Transition(ExecutionStatusRolledBack))
	assert.Equal(t, ExecutionStatusRolledBack, rec.Status)
}

func TestTransitionRejectsIllegalEdges(t *testing.T) {
	cases := []struct {
		from ExecutionStatus
		to   ExecutionStatus
	}{
		{ExecutionStatusPending, ExecutionStatusSuccess},
		{ExecutionStatusPending, ExecutionStatusFailed},
		{ExecutionStatusPending, ExecutionStatusRolledBack},
		{ExecutionStatusExecuting, ExecutionStatusPending},
		{ExecutionStatusExecuting, ExecutionStatusRolledBack},
		{ExecutionStatusSuccess, ExecutionStatusExecuting},
		{ExecutionStatusSuccess, ExecutionStatusFailed},
		{ExecutionStatusFailed, ExecutionStatusExecuting},
		{ExecutionStatusFailed, ExecutionStatusSuccess},
		{ExecutionStatusFailed, ExecutionStatusRolledBack},
		{ExecutionStatusRolledBack, ExecutionStatusSuccess},
	}

	for _, tc := range cases {
		rec := &ExecutionRecord{Status: tc.from}
		err := rec.Transition(tc.to)
		require.ErrorIs(t, err, ErrInvalidStateTransition, "%s -> %s must be rejected", tc.from, tc.to)
		assert.Equal(t, tc.from, rec.Status, "status must not change on a rejected transition")
	}
}

func TestInFlightAndTerminal(t *testing.T) {
	assert.True(t, (&ExecutionRecord{Status: ExecutionStatusPending}).InFlight())
	assert.True(t, (&ExecutionRecord{Status: ExecutionStatusExecuting}).InFlight())
	assert.False(t, (&ExecutionRecord{Status: ExecutionStatusSuccess}).InFlight())

	assert.True(t, (&ExecutionRecord{Status: ExecutionStatusSuccess}).Terminal())
	assert.True(t, (&ExecutionRecord{Status: ExecutionStatusFailed}).Terminal())
	assert.True(t, (&ExecutionRecord{Status: ExecutionStatusRolledBack}).Terminal())
	assert.False(t, (&ExecutionRecord{Status: ExecutionStatusExecuting}).Terminal())
}

func TestRetryDue(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := &ExecutionRecord{Status: ExecutionStatusExecuting, NextAttemptAt: now.Add(-time.Second)}
	assert.True(t, rec.RetryDue(now))

	rec.NextAttemptAt = now
	assert.True(t, rec.RetryDue(now))

	rec.NextAttemptAt = now.Add(time.Second)
	assert.False(t, rec.RetryDue(now))

	rec.NextAttemptAt = time.Time{}
	assert.False(t, rec.RetryDue(now), "no scheduled attempt means nothing is due")

	rec.Status = ExecutionStatusFailed
	rec.NextAttemptAt = now.Add(-time.Second)
	assert.False(t, rec.RetryDue(now), "terminal records never become due")
}

func TestForced(t *testing.T) {
	assert.False(t, (&ExecutionRecord{}).Forced())
	assert.False(t, (&ExecutionRecord{ForcedBy: "ops"}).Forced())
	assert.False(t, (&ExecutionRecord{ForceReason: "incident"}).Forced())
	assert.True(t, (&ExecutionRecord{ForcedBy: "ops", ForceReason: "incident"}).Forced())
}
