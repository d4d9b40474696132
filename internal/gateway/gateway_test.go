package gateway

import (
	"testing"
	"time"

	"github.com/gasmesh/gateway/internal/config"
	"github.com/gasmesh/gateway/internal/correlator"
	"github.com/gasmesh/gateway/internal/sensor"
)

// TestRouteToCorrelatorDispatchesByRole routes one sample under each of
// the direct, primary and an unrecognized role, and confirms that none
// of the calls panics or blocks and that a lone direct sample emits no
// match synchronously.
func TestRouteToCorrelatorDispatchesByRole(t *testing.T) {
	g := &Gateway{Correlator: correlator.New(correlator.Config{}, nil)}
	s := sensor.Sample{LinkID: "north", Channel: 3, MonotonicTimestamp: time.Now()}

	g.routeToCorrelator(config.RoleDirect, s)
	select {
	case got := <-g.Correlator.Matches():
		t.Fatalf("unexpected match emitted: %+v", got)
	default:
	}

	// A primary sample and one with an unrecognized role; neither call
	// may panic or block.
	g.routeToCorrelator(config.RolePrimary, s)
	g.routeToCorrelator(config.Role("unknown"), s)
}

func TestDurationDaysConvertsToHours(t *testing.T) {
	got := durationDays(2)
	want := 48 * time.Hour
	if got != want {
		t.Fatalf("durationDays(2) = %s, want %s", got, want)
	}
}
