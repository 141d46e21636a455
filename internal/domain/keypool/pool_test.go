package keypool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAcquireReturnsLeaseWhenHealthy(t *testing.T) {
	pool := New([]KeySpec{{ID: "k1", Secret: "s1", RPM: 60}}, Config{}, nil)
	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "k1", lease.ID)
	pool.ReportSuccess(lease)
}

func TestReportFailureLeakedTripsCooldown(t *testing.T) {
	pool := New([]KeySpec{
		{ID: "a", Secret: "sa", RPM: 60},
		{ID: "b", Secret: "sb", RPM: 60},
	}, Config{ConsecutiveFailureThreshold: 3, CooldownSeconds: 60}, nil)

	leaseA, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "a", leaseA.ID)
	pool.ReportFailure(leaseA, ErrorKindKeyLeaked)

	stats := pool.Stats()
	var foundUnhealthy bool
	for _, s := range stats {
		if s.ID == "a" {
			foundUnhealthy = s.Health == HealthUnhealthy
		}
	}
	require.True(t, foundUnhealthy, "key a should be unhealthy after a leaked-key failure")

	leaseB, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, "b", leaseB.ID)
	pool.ReportSuccess(leaseB)
}

func TestAcquireTimesOutWhenAllUnhealthy(t *testing.T) {
	pool := New([]KeySpec{{ID: "only", Secret: "s", RPM: 60}}, Config{ConsecutiveFailureThreshold: 1, CooldownSeconds: 60}, nil)
	lease, err := pool.Acquire(context.Background(), time.Second)
	require.NoError(t, err)
	pool.ReportFailure(lease, ErrorKindKeyLeaked)

	_, err = pool.Acquire(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
}
