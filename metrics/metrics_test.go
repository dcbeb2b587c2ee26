package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := New()
	r.ConnectionDone("handled")
	r.ConnectionDone("handled")
	r.ConnectionDone("handshake_failed")
	r.CommandDone("open", "OK")
	r.RuleChanged("add", "tcp", "applied")

	assert.InDelta(t, 2, testutil.ToFloat64(r.Connections.WithLabelValues("handled")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.Connections.WithLabelValues("handshake_failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.Commands.WithLabelValues("open", "OK")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.RuleChanges.WithLabelValues("add", "tcp", "applied")), 0)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `openme_connections_total{result="handled"} 2`)
	assert.Contains(t, string(body), `openme_rule_changes_total{direction="add",protocol="tcp",result="applied"} 1`)
}

func TestNilRegistry(t *testing.T) {
	t.Parallel()

	var r *Registry
	assert.NotPanics(t, func() {
		r.ConnectionDone("handled")
		r.CommandDone("open", "KO")
		r.RuleChanged("remove", "udp", "failed")
	})
}
