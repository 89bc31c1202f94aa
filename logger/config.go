package logger

import "fmt"

// Config controls log level and output format.
type Config struct {
	Level     string `yaml:"level" mapstructure:"level"`
	Format    string `yaml:"format" mapstructure:"format"` // json, console
	Output    string `yaml:"output" mapstructure:"output"` // stdout, stderr
	NoColor   bool   `yaml:"no_color" mapstructure:"no_color"`
	Timestamp bool   `yaml:"timestamp" mapstructure:"timestamp"`
	Caller    bool   `yaml:"caller" mapstructure:"caller"`
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	if c.Output == "" {
		c.Output = "stdout"
	}
}

// Validate checks level and format values.
func (c *Config) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error, fatal, disabled] (got: %s)", c.Level)
	}
	switch c.Format {
	case "json", "console", FormatPretty:
	default:
		return fmt.Errorf("logging.format must be one of [json, console, pretty] (got: %s)", c.Format)
	}
	return nil
}
