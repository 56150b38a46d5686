package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paperpos/backend/internal/domain"
)

type countingRecomputer struct {
	calls atomic.Int32
	err   error
	panic bool
}

func (c *countingRecomputer) Recompute(context.Context) (domain.DashboardSnapshot, error) {
	c.calls.Add(1)
	if c.panic {
		panic("boom")
	}
	return domain.DashboardSnapshot{}, c.err
}

func TestNewSchedulerRegistersRefresh(t *testing.T) {
	s, err := NewScheduler("@every 5m", &countingRecomputer{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.Entries())

	s, err = NewScheduler("  ", &countingRecomputer{})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Entries())
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler("every now and then", &countingRecomputer{})
	assert.Error(t, err)
}

func TestRefreshSurvivesFailures(t *testing.T) {
	s, err := NewScheduler("", nil)
	require.NoError(t, err)

	failing := &countingRecomputer{err: errors.New("db down")}
	s.refreshDashboard(failing)
	assert.Equal(t, int32(1), failing.calls.Load())

	panicking := &countingRecomputer{panic: true}
	assert.NotPanics(t, func() { s.refreshDashboard(panicking) })
}

func TestStopReturnsWhenIdle(t *testing.T) {
	s, err := NewScheduler("@every 1h", &countingRecomputer{})
	require.NoError(t, err)
	s.Start()
	s.Stop(context.Background())
}
