package cleanup

import (
	"time"

	"github.com/AtRiskMedia/apistore-go/pkg/config"
)

// Config holds cleanup worker configuration, sourced from the central config package.
type Config struct {
	CleanupInterval  time.Duration
	VerboseReporting bool
	// CollectionTTL is how long a loaded collection is kept after its last
	// full load. Zero disables expiry.
	CollectionTTL time.Duration
}

// NewConfig creates a new cleanup configuration by reading values
// from the already-initialized variables in the centralized /pkg/config package.
func NewConfig() *Config {
	return &Config{
		CleanupInterval:  config.CleanupInterval,
		VerboseReporting: config.CleanupVerbose,
		CollectionTTL:    config.CollectionTTL,
	}
}
