package cloudmetrics

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rumbosoft/rumbo/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Collector owns the registry pushed to the cloud aggregator. It is a
// separate registry from the one behind /metrics: the aggregator wants
// a handful of accounting gauges, not the full operational series.
type Collector struct {
	db       *gorm.DB
	log      *zap.Logger
	pusher   Pusher
	registry *prometheus.Registry

	installInfo   *prometheus.GaugeVec
	subscriptions *prometheus.GaugeVec
	charges       *prometheus.GaugeVec
	mandates      prometheus.Gauge
	openIntents   prometheus.Gauge
}

// NewCollector wires a Collector when cloud metrics are enabled.
// Returns nil otherwise so consumers can treat the whole channel as
// optional.
func NewCollector(cfg config.Config, pusher Pusher, db *gorm.DB, logger *zap.Logger) *Collector {
	if pusher == nil || db == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	constLabels := prometheus.Labels{
		"service":         strings.TrimSpace(cfg.AppName),
		"environment":     strings.TrimSpace(cfg.Environment),
		"organization_id": strings.TrimSpace(cfg.Cloud.OrganizationID),
	}

	registry := prometheus.NewRegistry()
	c := &Collector{
		db:       db,
		log:      logger.Named("cloudmetrics"),
		pusher:   pusher,
		registry: registry,
		installInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rumbo_cloud_install_info",
			Help:        "Static information about this installation.",
			ConstLabels: constLabels,
		}, []string{"organization_name", "version", "mode"}),
		subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rumbo_cloud_subscriptions",
			Help:        "Subscriptions by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		charges: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "rumbo_cloud_charges",
			Help:        "Charges by status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		mandates: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rumbo_cloud_active_mandates",
			Help:        "Mandates currently usable for direct debit.",
			ConstLabels: constLabels,
		}),
		openIntents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "rumbo_cloud_open_fallback_intents",
			Help:        "Fallback payment intents not yet in a terminal state.",
			ConstLabels: constLabels,
		}),
	}

	registry.MustRegister(c.installInfo, c.subscriptions, c.charges, c.mandates, c.openIntents)
	c.installInfo.WithLabelValues(
		strings.TrimSpace(cfg.Cloud.OrganizationName),
		strings.TrimSpace(cfg.AppVersion),
		strings.TrimSpace(cfg.Mode),
	).Set(1)

	return c
}

type statusCount struct {
	Status string
	Count  int64
}

// Refresh recomputes every accounting gauge from the database.
func (c *Collector) Refresh(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if err := c.refreshStatusGauge(ctx, c.subscriptions, "subscriptions"); err != nil {
		return fmt.Errorf("refresh subscriptions: %w", err)
	}
	if err := c.refreshStatusGauge(ctx, c.charges, "charges"); err != nil {
		return fmt.Errorf("refresh charges: %w", err)
	}

	var activeMandates int64
	if err := c.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM mandates WHERE status = ?`, "ACTIVE").
		Scan(&activeMandates).Error; err != nil {
		return fmt.Errorf("refresh mandates: %w", err)
	}
	c.mandates.Set(float64(activeMandates))

	var openIntents int64
	if err := c.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM fallback_intents WHERE status IN (?, ?, ?)`,
			"CREATED", "PENDING", "PRESENTED").
		Scan(&openIntents).Error; err != nil {
		return fmt.Errorf("refresh fallback intents: %w", err)
	}
	c.openIntents.Set(float64(openIntents))

	return nil
}

func (c *Collector) refreshStatusGauge(ctx context.Context, gauge *prometheus.GaugeVec, table string) error {
	var rows []statusCount
	if err := c.db.WithContext(ctx).
		Raw(`SELECT status, COUNT(*) AS count FROM ` + table + ` GROUP BY status`).
		Scan(&rows).Error; err != nil {
		return err
	}

	// Reset drops statuses that emptied out since the last refresh.
	gauge.Reset()
	for _, row := range rows {
		gauge.WithLabelValues(row.Status).Set(float64(row.Count))
	}
	return nil
}

// Push refreshes the gauges and ships one snapshot upstream.
func (c *Collector) Push(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.Refresh(ctx); err != nil {
		return err
	}
	return c.pusher.Push(ctx, c.registry)
}

// Registry exposes the push registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
