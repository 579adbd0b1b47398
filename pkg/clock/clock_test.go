package clock_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/clock"
	"github.com/stretchr/testify/require"
)

func TestFake_AdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clock.NewFake(start)

	short := fc.After(time.Second)
	long := fc.After(time.Minute)

	fc.Advance(2 * time.Second)

	select {
	case got := <-short:
		require.Equal(t, start.Add(2*time.Second), got)
	default:
		t.Fatal("short timer should have fired")
	}

	select {
	case <-long:
		t.Fatal("long timer fired early")
	default:
	}

	require.Equal(t, start.Add(2*time.Second), fc.Now())
}

func TestFake_AfterNonPositiveFiresImmediately(t *testing.T) {
	t.Parallel()

	fc := clock.NewFake(time.Unix(0, 0))
	select {
	case <-fc.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFake_SetBackwards(t *testing.T) {
	t.Parallel()

	start := time.Unix(1000, 0)
	fc := clock.NewFake(start)
	fc.Set(start.Add(-time.Hour))
	require.Equal(t, start.Add(-time.Hour), fc.Now())
}
