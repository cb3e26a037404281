package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusMonitoring))
	assert.True(t, ValidStatus(StatusActive))
	assert.True(t, ValidStatus(StatusArchived))
	assert.False(t, ValidStatus(TokenStatus("paused")))
	assert.False(t, ValidStatus(TokenStatus("")))
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TokenStatus
		want     bool
	}{
		{StatusMonitoring, StatusActive, true},
		{StatusMonitoring, StatusArchived, true},
		{StatusActive, StatusArchived, true},
		{StatusActive, StatusMonitoring, false},
		{StatusArchived, StatusActive, false},
		{StatusArchived, StatusMonitoring, false},
		{StatusMonitoring, StatusMonitoring, false},
		{StatusActive, StatusActive, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestSnapshotFlags(t *testing.T) {
	var m SnapshotMetrics
	assert.False(t, m.HasFlag(FlagEmergencyFallback))

	m.SetFlag(FlagEmergencyFallback, "true")
	m.SetFlag(FlagNoUsablePools, "false")
	assert.True(t, m.HasFlag(FlagEmergencyFallback))
	assert.False(t, m.HasFlag(FlagNoUsablePools)) // only "true" counts

	snap := ScoreSnapshot{Metrics: m}
	assert.True(t, snap.IsFallback())
	assert.False(t, (&ScoreSnapshot{}).IsFallback())
}
