package pooling

import (
	"testing"
	"time"

	"github.com/example/ride-pooling/internal/config"
)

func testPolicy() RadiusPolicy {
	return NewRadiusPolicy(config.PoolingConfig{
		SearchTimeout: 90 * time.Second,
		BaseRadiusM:   100,
		RadiusSteps: []config.RadiusStep{
			{After: 15 * time.Second, RadiusMeters: 200},
			{After: 30 * time.Second, RadiusMeters: 400},
			{After: 45 * time.Second, RadiusMeters: 700},
			{After: 60 * time.Second, RadiusMeters: 1000},
			{After: 75 * time.Second, RadiusMeters: 1500},
		},
		MaxRadiusM: 1500,
	})
}

func TestRadiusSteps(t *testing.T) {
	p := testPolicy()
	cases := []struct {
		elapsed time.Duration
		want    float64
	}{
		{0, 100},
		{10 * time.Second, 100},
		{16 * time.Second, 200},
		{31 * time.Second, 400},
		{46 * time.Second, 700},
		{61 * time.Second, 1000},
		{80 * time.Second, 1500},
	}
	for _, c := range cases {
		if got := p.RadiusFor(c.elapsed); got != c.want {
			t.Errorf("RadiusFor(%v) = %v, want %v", c.elapsed, got, c.want)
		}
	}
}

func TestRadiusMonotonic(t *testing.T) {
	p := testPolicy()
	prev := 0.0
	for s := 0; s <= 90; s++ {
		r := p.RadiusFor(time.Duration(s) * time.Second)
		if r < prev {
			t.Fatalf("radius shrank at %ds: %v < %v", s, r, prev)
		}
		prev = r
	}
}

func TestTimedOut(t *testing.T) {
	p := testPolicy()
	if p.TimedOut(90 * time.Second) {
		t.Fatal("exactly at the window should not be timed out")
	}
	if !p.TimedOut(91 * time.Second) {
		t.Fatal("past the window should be timed out")
	}
}
