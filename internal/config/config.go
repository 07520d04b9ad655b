package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the server configuration, read from SKETCHROOM_* variables
type Config struct {
	Port   string `env:"PORT"    envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"./data/sketchroom.db"`

	RoomIDLength int `env:"ROOM_ID_LENGTH" envDefault:"26"`
	MaxHistory   int `env:"MAX_HISTORY"    envDefault:"100"`

	SendBuffer        int           `env:"SEND_BUFFER"         envDefault:"256"`
	MaxMessageSize    int64         `env:"MAX_MESSAGE_SIZE"    envDefault:"8388608"`
	PongWait          time.Duration `env:"PONG_WAIT"           envDefault:"60s"`
	WriteWait         time.Duration `env:"WRITE_WAIT"          envDefault:"10s"`
	MessagesPerSecond float64       `env:"MESSAGES_PER_SECOND" envDefault:"120"`
	MessageBurst      int           `env:"MESSAGE_BURST"       envDefault:"240"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS"     envSeparator:","`

	HTTPRequestsPerSecond float64 `env:"HTTP_REQUESTS_PER_SECOND" envDefault:"5"`
	HTTPBurst             int     `env:"HTTP_BURST"               envDefault:"20"`

	ActivityRetention     time.Duration `env:"ACTIVITY_RETENTION"      envDefault:"168h"`
	ActivitySweepInterval time.Duration `env:"ACTIVITY_SWEEP_INTERVAL" envDefault:"10m"`
}

const Prefix = "SKETCHROOM_"

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: Prefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("%sPORT is required", Prefix)
	}
	if c.RoomIDLength < 8 || c.RoomIDLength > 26 {
		return fmt.Errorf("%sROOM_ID_LENGTH must be between 8 and 26, got %d", Prefix, c.RoomIDLength)
	}
	if c.MaxHistory < 0 {
		return fmt.Errorf("%sMAX_HISTORY must not be negative", Prefix)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("%sSEND_BUFFER must be positive", Prefix)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%sMAX_MESSAGE_SIZE must be positive", Prefix)
	}
	if c.PongWait <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("%sPONG_WAIT and %sWRITE_WAIT must be positive", Prefix, Prefix)
	}
	if c.MessagesPerSecond <= 0 || c.MessageBurst <= 0 {
		return fmt.Errorf("%sMESSAGES_PER_SECOND and %sMESSAGE_BURST must be positive", Prefix, Prefix)
	}
	if c.HTTPRequestsPerSecond <= 0 || c.HTTPBurst <= 0 {
		return fmt.Errorf("%sHTTP_REQUESTS_PER_SECOND and %sHTTP_BURST must be positive", Prefix, Prefix)
	}
	if c.ActivityRetention <= 0 || c.ActivitySweepInterval <= 0 {
		return fmt.Errorf("%sACTIVITY_RETENTION and %sACTIVITY_SWEEP_INTERVAL must be positive", Prefix, Prefix)
	}
	return nil
}

// OriginAllowed reports whether a websocket upgrade from origin is accepted.
// An empty allow list accepts every origin.
func (c Config) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
