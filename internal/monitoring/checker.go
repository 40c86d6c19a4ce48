package monitoring

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/ddi-catalog/internal/config"
	"github.com/sells-group/ddi-catalog/internal/maintenance"
)

// Checker evaluates catalog health after each maintenance pass.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	if cfg.LookbackWindowHours <= 0 {
		cfg.LookbackWindowHours = 24
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

// AfterPass is a maintenance.PassHook that runs Check.
func (c *Checker) AfterPass(ctx context.Context, rep maintenance.Report, passErr error) {
	c.Check(ctx, rep, passErr)
}

// Check alerts on a failed pass and on any threshold the current snapshot
// breaches. It returns the number of alerts sent.
func (c *Checker) Check(ctx context.Context, rep maintenance.Report, passErr error) int {
	var alerts []Alert
	if passErr != nil {
		alerts = append(alerts, c.alerter.MaintenanceFailed(passErr, rep.Reindexed, rep.Pruned))
	}

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: failed to collect metrics", zap.Error(err))
	} else {
		alerts = append(alerts, c.alerter.Evaluate(snap)...)
	}

	if len(alerts) == 0 {
		c.log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
