// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Client configuration document with YAML loading and validation.

package control

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-httpc/api"
)

// DefaultUserAgent is sent when requests carry no User-Agent header.
const DefaultUserAgent = "hioload-httpc/0.3"

// RateLimit bounds request submission with a token bucket.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Config holds client parameters.
type Config struct {
	Threads         int           `yaml:"threads"`
	Timeout         time.Duration `yaml:"timeout"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxResponseSize int64         `yaml:"max_response_size"`
	MaxTransfers    int           `yaml:"max_transfers"`
	UserAgent       string        `yaml:"user_agent"`
	RateLimit       RateLimit     `yaml:"rate_limit"`
	Affinity        []int         `yaml:"affinity"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Threads:         runtime.NumCPU(),
		Timeout:         30 * time.Second,
		ConnectTimeout:  10 * time.Second,
		MaxResponseSize: 10 << 20,
		UserAgent:       DefaultUserAgent,
	}
}

// ParseConfig decodes a YAML document over DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("control: decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("control: read config: %w", err)
	}
	return ParseConfig(data)
}

// Validate rejects negative or inconsistent values.
func (c Config) Validate() error {
	switch {
	case c.Threads < 0:
		return fmt.Errorf("%w: threads must be >= 0", api.ErrInvalidArgument)
	case c.Timeout < 0:
		return fmt.Errorf("%w: timeout must be >= 0", api.ErrInvalidArgument)
	case c.ConnectTimeout < 0:
		return fmt.Errorf("%w: connect_timeout must be >= 0", api.ErrInvalidArgument)
	case c.MaxResponseSize < 0:
		return fmt.Errorf("%w: max_response_size must be >= 0", api.ErrInvalidArgument)
	case c.MaxTransfers < 0:
		return fmt.Errorf("%w: max_transfers must be >= 0", api.ErrInvalidArgument)
	case c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0:
		return fmt.Errorf("%w: rate_limit must be >= 0", api.ErrInvalidArgument)
	case c.RateLimit.RPS > 0 && c.RateLimit.Burst == 0:
		return fmt.Errorf("%w: rate_limit.burst must be > 0 when rps is set", api.ErrInvalidArgument)
	}
	for _, cpu := range c.Affinity {
		if cpu < 0 {
			return fmt.Errorf("%w: affinity cpu %d", api.ErrInvalidArgument, cpu)
		}
	}
	return nil
}
