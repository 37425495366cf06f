package postgres

import "time"

// Config holds connection settings for a UMLS database.
type Config struct {
	// DSN is the PostgreSQL connection string.
	DSN string

	// MaxConns is the maximum number of pooled connections (default: 10).
	MaxConns int32

	// MinConns is the minimum number of idle connections (default: 1).
	MinConns int32

	// MaxConnLifetime bounds connection reuse (default: 30 minutes).
	MaxConnLifetime time.Duration

	// MigrateOnStart creates the UMLS tables when absent. Only useful for
	// tests and development databases loaded by hand.
	MigrateOnStart bool
}

func (c *Config) defaults() {
	if c.MaxConns == 0 {
		c.MaxConns = 10
	}
	if c.MinConns == 0 {
		c.MinConns = 1
	}
	if c.MaxConnLifetime == 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
}
