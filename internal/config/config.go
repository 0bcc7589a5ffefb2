package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all synapse configuration. Defaults come from Default();
// Load applies SYNAPSE_* environment overrides on top.
type Config struct {
	Server ServerConfig `envPrefix:"SYNAPSE_"`
	Graph  GraphConfig  `envPrefix:"SYNAPSE_"`
}

type ServerConfig struct {
	Bind     string `env:"BIND" envDefault:"127.0.0.1"`
	Port     int    `env:"PORT" envDefault:"37707"`
	DBPath   string `env:"DB_PATH"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type GraphConfig struct {
	// Hebbian learning
	LearningRate       float64       `env:"LEARNING_RATE" envDefault:"0.1"`
	CoactivationWindow time.Duration `env:"COACTIVATION_WINDOW" envDefault:"30s"`
	AutoCoactivate     bool          `env:"AUTO_COACTIVATE" envDefault:"false"`
	HebbianSymmetric   bool          `env:"HEBBIAN_SYMMETRIC" envDefault:"false"`

	// Temporal decay
	DecayFactor     float64       `env:"DECAY_FACTOR" envDefault:"0.99"`
	DecayInterval   time.Duration `env:"DECAY_INTERVAL" envDefault:"1h"`
	DecayRunTimeout time.Duration `env:"DECAY_RUN_TIMEOUT" envDefault:"10m"`
	MinEdgeWeight   float64       `env:"MIN_EDGE_WEIGHT" envDefault:"0.05"`
	MinNodeScore    float64       `env:"MIN_NODE_SCORE" envDefault:"0.1"`

	// Node source allow-list. Empty disables validation.
	Sources []string `env:"SOURCES" envSeparator:"," envDefault:"conversation,perch_tick,research,reflection"`
}

// Default returns a Config with every knob at its documented default,
// ignoring the environment.
func Default() Config {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	if err != nil {
		// envDefault tags cannot fail to parse; a failure here is a
		// programming error in the tags themselves.
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load builds the configuration from defaults plus environment
// overrides.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Graph.LearningRate <= 0 || c.Graph.LearningRate > 1 {
		return fmt.Errorf("learning rate %g outside (0, 1]", c.Graph.LearningRate)
	}
	if c.Graph.DecayFactor <= 0 || c.Graph.DecayFactor > 1 {
		return fmt.Errorf("decay factor %g outside (0, 1]", c.Graph.DecayFactor)
	}
	if c.Graph.MinEdgeWeight < 0 || c.Graph.MinEdgeWeight > 1 {
		return fmt.Errorf("min edge weight %g outside [0, 1]", c.Graph.MinEdgeWeight)
	}
	if c.Graph.MinNodeScore < 0 || c.Graph.MinNodeScore > 1 {
		return fmt.Errorf("min node score %g outside [0, 1]", c.Graph.MinNodeScore)
	}
	return nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
