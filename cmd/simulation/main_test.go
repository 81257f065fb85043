package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollInterval(t *testing.T) {
	threshold := 60 * time.Second
	tests := []struct {
		name string
		age  int64
		want time.Duration
	}{
		{"never seen", -1, slowInterval},
		{"fresh", 0, fastInterval},
		{"just under", 59, fastInterval},
		{"at threshold", 60, slowInterval},
		{"stale", 600, slowInterval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pollInterval(tt.age, threshold))
		})
	}
}

func TestRouteStatsCalculate(t *testing.T) {
	rs := &routeStats{name: "Snapshot"}
	for i := 10; i >= 1; i-- {
		rs.addDuration(time.Duration(i) * time.Millisecond)
	}

	min, max, mean, median, p95, p99 := rs.calculate()
	assert.Equal(t, 10, rs.totalCalls)
	assert.Equal(t, time.Millisecond, min)
	assert.Equal(t, 10*time.Millisecond, max)
	assert.Equal(t, 5500*time.Microsecond, mean)
	assert.Equal(t, 6*time.Millisecond, median)
	assert.Equal(t, 10*time.Millisecond, p95)
	assert.Equal(t, 10*time.Millisecond, p99)

	empty := &routeStats{}
	min, _, _, _, _, _ = empty.calculate()
	assert.Zero(t, min)
}
