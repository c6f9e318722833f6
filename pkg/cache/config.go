package cache

import "time"

type RedisOption func(*RedisConfig)

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	PoolTimeout  time.Duration
	PingTimeout  time.Duration
}

// WithRedisEndpoint sets the host:port address, password and database.
func WithRedisEndpoint(addr, password string, db int) RedisOption {
	return func(c *RedisConfig) {
		c.Addr, c.Password, c.DB = addr, password, db
	}
}

func WithRedisPool(size, minIdle int, timeout time.Duration) RedisOption {
	return func(c *RedisConfig) {
		c.PoolSize, c.MinIdleConns, c.PoolTimeout = size, minIdle, timeout
	}
}

// WithRedisPingTimeout bounds the startup ping.
func WithRedisPingTimeout(d time.Duration) RedisOption {
	return func(c *RedisConfig) { c.PingTimeout = d }
}

type MemoryOption func(*MemoryConfig)

// MemoryConfig bounds the in-process cache.
type MemoryConfig struct {
	MaxSize         int
	CleanupInterval time.Duration
}

// WithMemoryLimits sets the entry cap and how often expired entries are
// swept.
func WithMemoryLimits(maxSize int, sweep time.Duration) MemoryOption {
	return func(c *MemoryConfig) {
		if maxSize > 0 {
			c.MaxSize = maxSize
		}
		if sweep > 0 {
			c.CleanupInterval = sweep
		}
	}
}

type LayeredOption func(*LayeredConfig)

// LayeredConfig sizes the in-process L1 in front of Redis. MemoryTTL bounds
// how long an L1 copy may outlive its Redis entry.
type LayeredConfig struct {
	MemoryMaxSize int
	MemoryTTL     time.Duration
}

func WithLayeredL1(maxSize int, ttl time.Duration) LayeredOption {
	return func(c *LayeredConfig) {
		c.MemoryMaxSize, c.MemoryTTL = maxSize, ttl
	}
}
