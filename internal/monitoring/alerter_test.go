package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/config"
)

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		UnindexedThreshold:   1000,
	})

	snap := &MetricsSnapshot{
		ImportTotal:    100,
		ImportComplete: 95,
		ImportFailed:   5,
		ImportFailRate: 0.05,
		Unindexed:      10,
		LookbackHours:  24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_ImportFailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	snap := &MetricsSnapshot{
		ImportTotal:    20,
		ImportComplete: 12,
		ImportFailed:   8,
		ImportFailRate: 0.4,
		LookbackHours:  24,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertImportFailureRate, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_UnindexedBacklog(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{UnindexedThreshold: 100})

	alerts := a.Evaluate(&MetricsSnapshot{Bindings: 5000, Unindexed: 250, LookbackHours: 24})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertUnindexedBacklog, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "250 of 5000")
}

func TestAlerter_Evaluate_ZeroBacklogThreshold(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{UnindexedThreshold: 0}) // disabled
	assert.Empty(t, a.Evaluate(&MetricsSnapshot{Unindexed: 99999}))
}

func TestAlerter_Evaluate_MultipleAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.10,
		UnindexedThreshold:   10,
	})

	snap := &MetricsSnapshot{
		ImportComplete: 5,
		ImportFailed:   5,
		ImportFailRate: 0.5,
		Unindexed:      11,
		LookbackHours:  24,
	}

	types := make(map[AlertType]bool)
	for _, alert := range a.Evaluate(snap) {
		types[alert.Type] = true
	}
	assert.Len(t, types, 2)
	assert.True(t, types[AlertImportFailureRate])
	assert.True(t, types[AlertUnindexedBacklog])
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	// Only 3 finished runs, below the minimum for a failure rate alert.
	snap := &MetricsSnapshot{
		ImportComplete: 1,
		ImportFailed:   2,
		ImportFailRate: 0.666,
		LookbackHours:  24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_MaintenanceFailed(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})
	alert := a.MaintenanceFailed(errors.New("cluster unreachable"), 3, 1)
	assert.Equal(t, AlertMaintenanceFailure, alert.Type)
	assert.Contains(t, alert.Message, "cluster unreachable")
	assert.Equal(t, 3, alert.Details["reindexed"])
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	alerts := []Alert{
		{Type: AlertImportFailureRate, Severity: "high", Message: "test alert 1"},
		{Type: AlertUnindexedBacklog, Severity: "medium", Message: "test alert 2"},
	}

	sent := a.SendAlerts(context.Background(), alerts)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	sent := a.SendAlerts(context.Background(), []Alert{
		{Type: AlertImportFailureRate, Message: "test"},
	})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})
	assert.Equal(t, 0, a.SendAlerts(context.Background(), nil))
}

func TestAlerter_SendAlerts_WebhookError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	a := NewAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertImportFailureRate, Message: "test"}})
	assert.Equal(t, 0, sent)
}
