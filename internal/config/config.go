package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Settings struct {
	DataPath     string `envconfig:"DATA_PATH" default:"/app/data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:"/app/data/flowwatch.db"`
	LogPath      string `envconfig:"LOG_PATH" default:"/app/data/flowwatch.log"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":8000"`

	// Optional YAML file with instance definitions imported on startup.
	InstancesFile string `envconfig:"INSTANCES_FILE" default:""`

	// Sync engine
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	InitialBackfill time.Duration `envconfig:"INITIAL_BACKFILL" default:"720h"`

	// Tunnels unused for this long are torn down.
	TunnelIdleTimeout time.Duration `envconfig:"TUNNEL_IDLE_TIMEOUT" default:"10m"`
}

var Cfg Settings

func Load() {
	if err := envconfig.Process("FLOWWATCH", &Cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := Cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
}

// Validate rejects durations the scheduler or tunnel registry cannot honor.
// The poll schedule has one-second resolution.
func (s Settings) Validate() error {
	if s.PollInterval < time.Second || s.PollInterval%time.Second != 0 {
		return fmt.Errorf("FLOWWATCH_POLL_INTERVAL must be a whole number of seconds, at least 1s (got %s)", s.PollInterval)
	}
	if s.TunnelIdleTimeout <= 0 {
		return fmt.Errorf("FLOWWATCH_TUNNEL_IDLE_TIMEOUT must be positive (got %s)", s.TunnelIdleTimeout)
	}
	if s.InitialBackfill <= 0 {
		return fmt.Errorf("FLOWWATCH_INITIAL_BACKFILL must be positive (got %s)", s.InitialBackfill)
	}
	return nil
}
