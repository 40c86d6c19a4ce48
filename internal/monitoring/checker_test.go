package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ddi-catalog/internal/config"
	"github.com/sells-group/ddi-catalog/internal/maintenance"
	"github.com/sells-group/ddi-catalog/internal/model"
)

// webhook records the alert types posted to it.
func webhook(t *testing.T) (*httptest.Server, func() []AlertType) {
	t.Helper()
	var (
		mu    sync.Mutex
		types []AlertType
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var alert Alert
		if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		types = append(types, alert.Type)
		mu.Unlock()
	}))
	t.Cleanup(ts.Close)
	return ts, func() []AlertType {
		mu.Lock()
		defer mu.Unlock()
		return append([]AlertType(nil), types...)
	}
}

func TestChecker_AfterPass_Healthy(t *testing.T) {
	ts, got := webhook(t)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.2, UnindexedThreshold: 100}
	st := &mockStore{counts: model.CatalogCounts{Bindings: 10}}

	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)
	assert.Equal(t, 0, c.Check(context.Background(), maintenance.Report{Reindexed: 2}, nil))
	assert.Empty(t, got())
}

func TestChecker_AfterPass_FailedPassAndBacklog(t *testing.T) {
	ts, got := webhook(t)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL, FailureRateThreshold: 0.2, UnindexedThreshold: 100}
	st := &mockStore{counts: model.CatalogCounts{Bindings: 1000, Unindexed: 500}}

	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)
	sent := c.Check(context.Background(), maintenance.Report{}, errors.New("reindex: cluster unreachable"))
	assert.Equal(t, 2, sent)
	assert.Equal(t, []AlertType{AlertMaintenanceFailure, AlertUnindexedBacklog}, got())
}

func TestChecker_AfterPass_CollectError(t *testing.T) {
	ts, got := webhook(t)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL}
	st := &mockStore{listErr: errors.New("db down")}

	c := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)
	sent := c.Check(context.Background(), maintenance.Report{}, errors.New("prune failed"))
	require.Equal(t, 1, sent, "the pass failure is still reported")
	assert.Equal(t, []AlertType{AlertMaintenanceFailure}, got())
}

func TestChecker_AfterPass_Hook(t *testing.T) {
	ts, got := webhook(t)
	cfg := config.MonitoringConfig{WebhookURL: ts.URL}
	c := NewChecker(NewCollector(&mockStore{}), NewAlerter(cfg), cfg)

	var hook maintenance.PassHook = c.AfterPass
	hook(context.Background(), maintenance.Report{}, errors.New("boom"))
	assert.Equal(t, []AlertType{AlertMaintenanceFailure}, got())
}

func TestNewChecker_DefaultLookback(t *testing.T) {
	c := NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, 24, c.cfg.LookbackWindowHours)
}
