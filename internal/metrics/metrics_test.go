package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
)

type fakeHealth struct{ mqtt, pg bool }

func (h fakeHealth) MQTTConnected() bool     { return h.mqtt }
func (h fakeHealth) PostgresConnected() bool { return h.pg }

func TestCollectorCountsOutcomes(t *testing.T) {
	c := New("test", nil)

	c.BridgeCompleted(puzzle.Receipt{Tag: puzzle.TagA, Reward: 65, CoherenceScore: 80})
	c.BridgeCompleted(puzzle.Receipt{Tag: puzzle.TagC, Reward: 165, CoherenceScore: 90})
	c.BridgeCompleted(puzzle.Receipt{Tag: puzzle.TagC, Reward: 165, CoherenceScore: 90})
	c.BridgeRejected(1, puzzle.ErrInvalidProof)

	if got := testutil.ToFloat64(c.bridges.WithLabelValues("C")); got != 2 {
		t.Errorf("expected 2 C bridges, got %v", got)
	}
	if got := testutil.ToFloat64(c.bridges.WithLabelValues("B")); got != 0 {
		t.Errorf("expected 0 B bridges, got %v", got)
	}
	if got := testutil.ToFloat64(c.rewards.WithLabelValues("C")); got != 330 {
		t.Errorf("expected 330 C rewards, got %v", got)
	}
	if got := testutil.ToFloat64(c.rejections.WithLabelValues(puzzle.CodeInvalidProof)); got != 1 {
		t.Errorf("expected 1 invalid_proof rejection, got %v", got)
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	c := New("gap", fakeHealth{mqtt: true})
	c.BridgeCompleted(puzzle.Receipt{Tag: puzzle.TagB, Reward: 65, CoherenceScore: 80})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`enharmonic_bridges_total{program="gap",tag="B"`,
		"enharmonic_uptime_seconds",
		"enharmonic_events_total",
		"enharmonic_mqtt_connected",
		"enharmonic_postgres_connected",
		"enharmonic_coherence_score_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in metrics output", want)
		}
	}
}
