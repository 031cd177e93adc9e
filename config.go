package nanots

import (
	"log"
	"time"
)

// Config groups the knobs this port needs beyond spec.md's required
// function signatures: catalog busy-wait behavior, the reserved-block
// maintenance sweep, and where diagnostics go.
type Config struct {
	// BusyTimeout bounds how long a catalog transaction retries against
	// SQLITE_BUSY before giving up. Default 2s, per spec.
	BusyTimeout time.Duration

	// OpenRetries bounds how many times opening the catalog is retried
	// on initial failure before CantOpen is raised. Default 5, per spec.
	OpenRetries int

	// ReservedSweepAge is how long a block may sit in 'reserved' status
	// before the maintenance sweep promotes it to 'used'. Default 10s,
	// per spec.
	ReservedSweepAge time.Duration

	// Logger receives non-fatal diagnostics from the recovery scanner:
	// truncations and blocks with no recoverable frames. The
	// reserved-block sweep logs nothing. Defaults to log.Default() when
	// nil.
	Logger *log.Logger

	// Debug, when true, has the recovery scanner dump the index-array
	// bytes of a block in which no frame validates, alongside its log
	// line. The dump goes to standard output.
	Debug bool
}

// DefaultConfig returns the spec's documented defaults.
func DefaultConfig() Config {
	return Config{
		BusyTimeout:      2 * time.Second,
		OpenRetries:      5,
		ReservedSweepAge: 10 * time.Second,
		Logger:           log.Default(),
	}
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
