package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pinger is the slice of a database client the checker needs.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// degradedLatency is the ping latency beyond which a dependency is
// reported degraded rather than healthy.
const degradedLatency = 100 * time.Millisecond

// PostgresChecker checks items store connectivity.
type PostgresChecker struct {
	db Pinger
}

// NewPostgresChecker creates a Postgres health checker.
func NewPostgresChecker(db Pinger) *PostgresChecker {
	return &PostgresChecker{db: db}
}

func (c *PostgresChecker) Name() string     { return "postgres" }
func (c *PostgresChecker) IsCritical() bool { return true }

func (c *PostgresChecker) Check(ctx context.Context) CheckResult {
	started := time.Now()
	result := CheckResult{Component: "postgres", Critical: true}

	if err := c.db.HealthCheck(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Postgres ping failed"
		result.Duration = time.Since(started)
		return result
	}

	result.Duration = time.Since(started)
	if result.Duration > degradedLatency {
		result.Status = StatusDegraded
		result.Message = "Postgres responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Postgres healthy"
	}
	return result
}

// RedisChecker checks call-metadata store connectivity.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Name() string     { return "redis" }
func (c *RedisChecker) IsCritical() bool { return true }

func (c *RedisChecker) Check(ctx context.Context) CheckResult {
	started := time.Now()
	result := CheckResult{Component: "redis", Critical: true}

	if err := c.client.Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		result.Duration = time.Since(started)
		return result
	}

	result.Duration = time.Since(started)
	if result.Duration > degradedLatency {
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	return result
}
