package metrics

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolStats is a point-in-time view of the record store's connections.
type PoolStats struct {
	Total    int32
	Acquired int32
	Idle     int32
	Max      int32
	SQLInUse int
}

// StatsSource reports current pool statistics.
type StatsSource func() PoolStats

// PoolStatsSource reads the pgx pool behind the user repository and the
// database/sql handle the field repository shares with it. Either may be nil.
func PoolStatsSource(pool *pgxpool.Pool, sqlDB *sql.DB) StatsSource {
	return func() PoolStats {
		var s PoolStats
		if pool != nil {
			stat := pool.Stat()
			s.Total = stat.TotalConns()
			s.Acquired = stat.AcquiredConns()
			s.Idle = stat.IdleConns()
			s.Max = stat.MaxConns()
		}
		if sqlDB != nil {
			s.SQLInUse = sqlDB.Stats().InUse
		}
		return s
	}
}

// DBStatsCollector publishes record store connection gauges.
type DBStatsCollector struct {
	source StatsSource
	logger *slog.Logger
}

func NewDBStatsCollector(source StatsSource, logger *slog.Logger) *DBStatsCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStatsCollector{source: source, logger: logger}
}

// Run collects once immediately and then every interval until ctx is done.
func (c *DBStatsCollector) Run(ctx context.Context, interval time.Duration) {
	c.logger.Info("database stats collector started", slog.Duration("interval", interval))
	defer c.logger.Info("database stats collector stopped")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}

// Collect copies the source's statistics into the gauges.
func (c *DBStatsCollector) Collect() {
	s := c.source()
	DBConnectionsOpen.Set(float64(s.Total))
	DBConnectionsInUse.Set(float64(s.Acquired))
	DBConnectionsIdle.Set(float64(s.Idle))
	DBConnectionsMaxOpen.Set(float64(s.Max))
	DBSQLInUse.Set(float64(s.SQLInUse))
}

// TimeQuery starts a timer for a repository operation.
// Usage: defer metrics.TimeQuery("user_get")()
func TimeQuery(operation string) func() {
	start := time.Now()
	return func() {
		DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// PingDatabase checks database connectivity and records the round trip
func PingDatabase(ctx context.Context, pool *pgxpool.Pool) error {
	defer TimeQuery("ping")()
	return pool.Ping(ctx)
}
