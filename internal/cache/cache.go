// Package cache is a thin Redis layer that keeps the latest reports
// and metric summaries hot for the API.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/airspacelab/vectorsim/internal/reports"
)

const (
	keyLatestReportPrefix = "report:latest:"
	keyMetricsSummary     = "metrics:summary"

	defaultTTL = 15 * time.Minute
)

// Cache wraps a Redis client.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at the given address.
func New(addr string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetLatestReport caches the most recent report of its type.
func (c *Cache) SetLatestReport(ctx context.Context, report reports.AnalysisReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := c.rdb.Set(ctx, keyLatestReportPrefix+report.ReportType, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache report: %w", err)
	}
	return nil
}

// LatestReport returns the cached report of the given type, or false
// on a miss.
func (c *Cache) LatestReport(ctx context.Context, reportType string) (reports.AnalysisReport, bool, error) {
	data, err := c.rdb.Get(ctx, keyLatestReportPrefix+reportType).Bytes()
	if err == redis.Nil {
		return reports.AnalysisReport{}, false, nil
	}
	if err != nil {
		return reports.AnalysisReport{}, false, fmt.Errorf("failed to read cached report: %w", err)
	}

	var report reports.AnalysisReport
	if err := json.Unmarshal(data, &report); err != nil {
		return reports.AnalysisReport{}, false, fmt.Errorf("failed to unmarshal cached report: %w", err)
	}
	return report, true, nil
}

// SetMetricsSummary caches the current metrics summary.
func (c *Cache) SetMetricsSummary(ctx context.Context, summary map[string]float64) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := c.rdb.Set(ctx, keyMetricsSummary, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache summary: %w", err)
	}
	return nil
}

// MetricsSummary returns the cached metrics summary, or false on a
// miss.
func (c *Cache) MetricsSummary(ctx context.Context) (map[string]float64, bool, error) {
	data, err := c.rdb.Get(ctx, keyMetricsSummary).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cached summary: %w", err)
	}

	var summary map[string]float64
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached summary: %w", err)
	}
	return summary, true, nil
}

// Invalidate removes the cached report for a type.
func (c *Cache) Invalidate(ctx context.Context, reportType string) error {
	return c.rdb.Del(ctx, keyLatestReportPrefix+reportType).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
