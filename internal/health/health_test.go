package health

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestNewRegistersIndependently confirms two Registry instances can
// coexist in one process without a duplicate-registration panic, since
// each uses its own prometheus.Registry rather than the global
// DefaultRegisterer.
func TestNewRegistersIndependently(t *testing.T) {
	require.NotPanics(t, func() {
		New()
		New()
	})
}

func TestHandlerServesMetricsText(t *testing.T) {
	r := New()
	r.FramesTotal.WithLabelValues("north").Inc()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "gateway_frames_total")
}
