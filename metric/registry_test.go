package metric

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/streamfan/errors"
)

func TestNewRegistryProducerMetrics(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.Producer())

	r.Producer().MessagesSent.WithLabelValues("p1").Add(3)
	r.Producer().MessagesDropped.WithLabelValues("p1").Inc()

	assert.Equal(t, 3.0, testutil.ToFloat64(r.Producer().MessagesSent.WithLabelValues("p1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Producer().MessagesDropped.WithLabelValues("p1")))
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()

	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "streamfan_test_counter"})
	require.NoError(t, r.Register(c))

	dup := prometheus.NewCounter(prometheus.CounterOpts{Name: "streamfan_test_counter"})
	err := r.Register(dup)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestIndependentRegistries(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.Producer().BatchesSent.WithLabelValues("p1").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Producer().BatchesSent.WithLabelValues("p1")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Producer().BatchesSent.WithLabelValues("p1")))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRegistry()
	r.Producer().MessagesSent.WithLabelValues("p1").Add(2)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "streamfan_producer_messages_sent_total"))
	assert.True(t, strings.Contains(body, `destination="p1"`))
}
