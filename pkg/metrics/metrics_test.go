package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestDriverRequestCounter(t *testing.T) {
	before := testutil.ToFloat64(driverRequests.WithLabelValues("test", "get", "ok"))
	ObserveDriverRequest("test", "get", "ok", 5*time.Millisecond)
	require.Equal(t, before+1, testutil.ToFloat64(driverRequests.WithLabelValues("test", "get", "ok")))
}
