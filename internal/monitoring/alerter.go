package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertImportFailureRate  AlertType = "import_failure_rate"
	AlertUnindexedBacklog   AlertType = "unindexed_backlog"
	AlertMaintenanceFailure AlertType = "maintenance_failure"
)

// minFinishedRuns is the sample size below which the failure rate is not
// evaluated.
const minFinishedRuns = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a MetricsSnapshot into alerts and delivers them to a
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns one alert per breached threshold.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.finished()
	if finished >= minFinishedRuns && snap.ImportFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertImportFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Import failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.ImportFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.ImportFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.ImportFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.ImportFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.UnindexedThreshold > 0 && snap.Unindexed > a.cfg.UnindexedThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnindexedBacklog,
			Severity: "medium",
			Message: fmt.Sprintf(
				"%d of %d bindings are missing from the search index (threshold %d)",
				snap.Unindexed, snap.Bindings, a.cfg.UnindexedThreshold,
			),
			Details: map[string]any{
				"unindexed": snap.Unindexed,
				"bindings":  snap.Bindings,
				"threshold": a.cfg.UnindexedThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// MaintenanceFailed builds the alert for a failed maintenance pass.
func (a *Alerter) MaintenanceFailed(err error, reindexed, pruned int) Alert {
	return Alert{
		Type:     AlertMaintenanceFailure,
		Severity: "high",
		Message:  fmt.Sprintf("Index maintenance pass failed: %v", err),
		Details: map[string]any{
			"reindexed": reindexed,
			"pruned":    pruned,
		},
		Timestamp: time.Now().UTC(),
	}
}

// SendAlerts posts each alert to the configured webhook and returns how
// many were accepted. Delivery failures are logged, never returned.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if !a.cfg.Enabled() || len(alerts) == 0 {
		return 0
	}

	log := zap.L().With(zap.String("component", "monitoring.alerter"))
	sent := 0
	for _, alert := range alerts {
		kind := zap.String("type", string(alert.Type))
		if err := a.post(ctx, alert); err != nil {
			log.Error("alert delivery failed", kind, zap.Error(err))
			continue
		}
		log.Info("alert delivered", kind, zap.String("severity", alert.Severity))
		sent++
	}
	return sent
}

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(alert); err != nil {
		return eris.Wrapf(err, "monitoring: encode %s alert", alert.Type)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, &body)
	if err != nil {
		return eris.Wrap(err, "monitoring: build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: post webhook")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 {
		return eris.Errorf("monitoring: webhook answered %s", resp.Status)
	}
	return nil
}
