package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/chartmesh/chartmesh/core"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that yaml-decodes from either a Go duration
// string ("90s", "1.2s") or a plain number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config carries every tuning knob of one engine instance. All values are
// passed explicitly at construction; the engine never reads the environment.
type Config struct {
	// Provider selects the model backend ("anthropic", "openai").
	Provider string `yaml:"provider"`

	// Model is the provider-specific model id.
	Model string `yaml:"model"`

	// Thinking enables extended reasoning on providers that support it.
	Thinking bool `yaml:"thinking"`

	Temperature     float64 `yaml:"temperature"`
	MaxOutputTokens int64   `yaml:"max_output_tokens"`

	// StepBudget bounds tool rounds per turn.
	StepBudget int `yaml:"step_budget"`

	// ToolTimeout and ToolMaxAttempts govern dispatched tool calls.
	ToolTimeout     Duration `yaml:"tool_timeout"`
	ToolMaxAttempts int      `yaml:"tool_max_attempts"`

	// ConnectTimeout and ConnectAttempts govern server activation.
	ConnectTimeout  Duration `yaml:"connect_timeout"`
	ConnectAttempts int      `yaml:"connect_attempts"`

	// IdleTimeout destroys an instance no client has touched for this long.
	IdleTimeout Duration `yaml:"idle_timeout"`

	// Heartbeat is the progress pulse interval during generation.
	Heartbeat Duration `yaml:"heartbeat"`

	// Servers lists the tool servers this instance may connect to.
	Servers []core.ServerConfig `yaml:"servers"`
}

// DefaultConfig provides production defaults.
var DefaultConfig = Config{
	Provider:        "anthropic",
	Temperature:     0.7,
	MaxOutputTokens: 4096,
	StepBudget:      6,
	ToolTimeout:     Duration(30 * time.Second),
	ToolMaxAttempts: 2,
	ConnectTimeout:  Duration(10 * time.Second),
	ConnectAttempts: 3,
	IdleTimeout:     Duration(900 * time.Second),
	Heartbeat:       Duration(1200 * time.Millisecond),
}

// LoadConfig reads a yaml config file over the defaults, so a file only needs
// to state what it changes.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
