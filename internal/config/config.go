// Package config holds the dispatcher and stitcher settings, layered
// from flags, environment and an optional YAML file.
package config

// Config is the full runtime configuration.
type Config struct {
	// DatabasePath is the shared relational store.
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	// AnalyticsPath is the standalone stitched-series database.
	AnalyticsPath string `mapstructure:"analytics_path" yaml:"analytics_path"`
	// TransportsPath is the transport descriptor file; ignored with
	// Local.
	TransportsPath string `mapstructure:"transports_path" yaml:"transports_path"`
	// Script is the fetcher script run by the single in-process
	// transport in local mode.
	Script string `mapstructure:"script" yaml:"script"`

	// Local runs one in-process transport and ignores the transport
	// configuration file.
	Local bool `mapstructure:"local" yaml:"local"`
	// ExitWhenIdle stops the dispatcher once the queue drains.
	ExitWhenIdle bool `mapstructure:"exit" yaml:"exit"`
	// AssumeYes answers the staging recovery prompt without asking.
	AssumeYes bool `mapstructure:"yes" yaml:"yes"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogFile  string `mapstructure:"log_file" yaml:"log_file"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:   "./sift.db",
		AnalyticsPath:  "./time_series.db",
		TransportsPath: "./transports.yml",
		Script:         "./gt-fetch",
		LogLevel:       "info",
	}
}

// Validate checks if the configuration is usable for dispatching.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return ErrEmptyDatabasePath
	}
	if c.Local {
		if c.Script == "" {
			return ErrEmptyScript
		}
		return nil
	}
	if c.TransportsPath == "" {
		return ErrEmptyTransportsPath
	}
	return nil
}
