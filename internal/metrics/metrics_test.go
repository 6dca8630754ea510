package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.IngestURL("created", time.Second)
	m.EmbedBatch("ok")
	m.ChatTurn("success", "retrieval", time.Second)
	m.GuardrailBlock("prompt_injection")
}

func TestCountersAndHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.IngestURL("created", 10*time.Millisecond)
	m.IngestURL("created", 10*time.Millisecond)
	m.GuardrailBlock("prompt_injection")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IngestResults.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuardrailBlocks.WithLabelValues("prompt_injection")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "govchat_ingest_urls_total"))
}
