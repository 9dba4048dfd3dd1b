package metrics

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"costtrend/pkg/logger"
)

// CustomCollector collects inventory gauges from the databases on scrape
type CustomCollector struct {
	log        *logger.Logger
	postgres   *sqlx.DB
	clickhouse driver.Conn

	// Descriptors
	totalBudgets      *prometheus.Desc
	consumptionRows   *prometheus.Desc
	consumptionLatest *prometheus.Desc
}

// NewCustomCollector creates a new custom metrics collector
func NewCustomCollector(log *logger.Logger, postgres *sqlx.DB, clickhouse driver.Conn) *CustomCollector {
	return &CustomCollector{
		log:        log.With("component", "metrics_collector"),
		postgres:   postgres,
		clickhouse: clickhouse,

		totalBudgets: prometheus.NewDesc(
			"costtrend_budgets",
			"Number of budgets by period type",
			[]string{"period_type"}, nil,
		),
		consumptionRows: prometheus.NewDesc(
			"costtrend_consumption_records_24h",
			"Consumption records ingested in the last 24h",
			nil, nil,
		),
		consumptionLatest: prometheus.NewDesc(
			"costtrend_consumption_latest_timestamp",
			"Unix timestamp of the newest consumption record",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *CustomCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalBudgets
	ch <- c.consumptionRows
	ch <- c.consumptionLatest
}

// Collect implements prometheus.Collector
func (c *CustomCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectBudgets(ctx, ch)
	c.collectConsumption(ctx, ch)
}

func (c *CustomCollector) collectBudgets(ctx context.Context, ch chan<- prometheus.Metric) {
	if c.postgres == nil {
		return
	}

	type budgetStat struct {
		PeriodType string `db:"period_type"`
		Count      int    `db:"count"`
	}

	var stats []budgetStat
	err := c.postgres.SelectContext(ctx, &stats, `
		SELECT period_type, COUNT(*) AS count
		FROM budgets
		GROUP BY period_type
	`)
	if err != nil {
		c.log.Warnw("Failed to collect budget stats", "error", err)
		return
	}

	for _, stat := range stats {
		ch <- prometheus.MustNewConstMetric(
			c.totalBudgets,
			prometheus.GaugeValue,
			float64(stat.Count),
			stat.PeriodType,
		)
	}
}

func (c *CustomCollector) collectConsumption(ctx context.Context, ch chan<- prometheus.Metric) {
	if c.clickhouse == nil {
		return
	}

	var (
		rows   uint64
		latest time.Time
	)
	row := c.clickhouse.QueryRow(ctx, `
		SELECT countIf(ingested_at > now() - INTERVAL 1 DAY), max(from_date)
		FROM consumption_records
	`)
	if err := row.Scan(&rows, &latest); err != nil {
		c.log.Warnw("Failed to collect consumption stats", "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(c.consumptionRows, prometheus.GaugeValue, float64(rows))
	if !latest.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.consumptionLatest, prometheus.GaugeValue, float64(latest.Unix()))
	}
}

// RegisterCustomCollector registers the custom collector
func RegisterCustomCollector(collector *CustomCollector) {
	prometheus.MustRegister(collector)
}
