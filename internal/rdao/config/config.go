// Package config holds the engine and CLI configuration.
//
// Configuration is read from a TOML file. Every key is optional; missing
// keys keep the value from Default. A minimal file looks like:
//
//	[analysis]
//	max_cycles = 1000
//	max_cycle_steps = 100000
//	workers = 4
//
//	[report]
//	format = "text"    # text, json or yaml
//	blocking = "high"  # lowest severity that fails a run
//
//	[log]
//	level = "info"
//	format = "text"    # text or json
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/kolkov/rdao/internal/rdao/finding"
	"github.com/kolkov/rdao/internal/rdao/lockgraph"
)

// Report output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Config is the complete configuration.
type Config struct {
	Analysis Analysis `toml:"analysis"`
	Report   Report   `toml:"report"`
	Log      Log      `toml:"log"`
}

// Analysis bounds the work of one run and of a batch.
type Analysis struct {
	// MaxCycles caps the number of lock-order cycles enumerated per run.
	// Zero means unlimited.
	MaxCycles int `toml:"max_cycles"`

	// MaxCycleSteps caps the DFS steps of cycle enumeration per run. Zero
	// means unlimited.
	MaxCycleSteps int `toml:"max_cycle_steps"`

	// Workers is the number of programs a batch analyzes at once. Zero means
	// one per CPU.
	Workers int `toml:"workers"`
}

// Report controls output.
type Report struct {
	Format   string `toml:"format"`
	Blocking string `toml:"blocking"`
}

// Log controls the logger.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Analysis: Analysis{
			MaxCycles:     1000,
			MaxCycleSteps: 100000,
		},
		Report: Report{
			Format:   FormatText,
			Blocking: finding.SeverityHigh.String(),
		},
		Log: Log{
			Level:  logrus.InfoLevel.String(),
			Format: FormatText,
		},
	}
}

// Load reads the TOML file at path on top of Default and validates the
// result. Unknown keys are an error.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return c, nil
}

// Parse is Load for TOML text.
func Parse(data string) (*Config, error) {
	c := Default()
	md, err := toml.Decode(data, c)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	sort.Strings(names)
	return fmt.Errorf("unknown config keys: %s", strings.Join(names, ", "))
}

// Validate checks every field.
func (c *Config) Validate() error {
	if c.Analysis.MaxCycles < 0 {
		return fmt.Errorf("analysis.max_cycles must not be negative, got %d", c.Analysis.MaxCycles)
	}
	if c.Analysis.MaxCycleSteps < 0 {
		return fmt.Errorf("analysis.max_cycle_steps must not be negative, got %d", c.Analysis.MaxCycleSteps)
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers must not be negative, got %d", c.Analysis.Workers)
	}
	switch c.Report.Format {
	case FormatText, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("report.format must be text, json or yaml, got %q", c.Report.Format)
	}
	if _, err := finding.ParseSeverity(c.Report.Blocking); err != nil {
		return fmt.Errorf("report.blocking: %w", err)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case FormatText, FormatJSON:
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Budget returns the cycle-enumeration budget.
func (c *Config) Budget() lockgraph.Budget {
	return lockgraph.Budget{MaxCycles: c.Analysis.MaxCycles, MaxSteps: c.Analysis.MaxCycleSteps}
}

// BlockingSeverity returns the parsed blocking threshold, high if invalid.
func (c *Config) BlockingSeverity() finding.Severity {
	s, err := finding.ParseSeverity(c.Report.Blocking)
	if err != nil {
		return finding.SeverityHigh
	}
	return s
}

// Apply configures logger from the [log] section.
func (l Log) Apply(logger *logrus.Logger) error {
	lvl, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)
	switch l.Format {
	case FormatJSON:
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return nil
}
