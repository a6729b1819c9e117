package wspush

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the file form of the server options.
type Config struct {
	Address  string `yaml:"address"`
	Path     string `yaml:"path"`
	Protocol string `yaml:"protocol"`

	MinSendIntervalMs int    `yaml:"min_send_interval_ms"`
	Pacing            string `yaml:"pacing"` // blocking | deferred
	RecycleBuffers    bool   `yaml:"recycle_buffers"`
	MaxPooledBuffers  int    `yaml:"max_pooled_buffers"`

	AtomicMessages    bool `yaml:"atomic_messages"`
	ReceiveBufferSize int  `yaml:"receive_buffer_size"`
	MaxMessageSize    int  `yaml:"max_message_size"`

	HeartbeatSeconds    int  `yaml:"heartbeat_seconds"`
	WriteTimeoutSeconds int  `yaml:"write_timeout_seconds"`
	Compression         bool `yaml:"compression"`

	AcceptRate  float64 `yaml:"accept_rate"`
	AcceptBurst int     `yaml:"accept_burst"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":7681",
		Path:              "/",
		MinSendIntervalMs: int(defaultMinSendInterval / time.Millisecond),
		Pacing:            PacingBlocking.String(),
		AtomicMessages:    true,
		ReceiveBufferSize: defaultReceiveBufferSize,
		MaxMessageSize:    defaultMaxMessageSize,
		MaxPooledBuffers:  defaultMaxPooled,
		HeartbeatSeconds:  int(defaultHeartbeat / time.Second),
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load config file")
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	}

	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return config, nil
}

// Validate checks the configuration for values the server cannot use.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("address cannot be empty")
	}
	if c.MinSendIntervalMs < 0 {
		return errors.Errorf("min_send_interval_ms must not be negative: %d", c.MinSendIntervalMs)
	}
	if _, err := c.pacingMode(); err != nil {
		return err
	}
	if c.ReceiveBufferSize < 0 {
		return errors.Errorf("receive_buffer_size must not be negative: %d", c.ReceiveBufferSize)
	}
	if c.AcceptRate < 0 {
		return errors.Errorf("accept_rate must not be negative: %v", c.AcceptRate)
	}
	return nil
}

func (c *Config) pacingMode() (PacingMode, error) {
	switch c.Pacing {
	case "", "blocking":
		return PacingBlocking, nil
	case "deferred":
		return PacingDeferred, nil
	default:
		return PacingBlocking, errors.Errorf("unknown pacing mode %q", c.Pacing)
	}
}

// Options converts the configuration into server options.
func (c *Config) Options() []Option {
	mode, _ := c.pacingMode()

	opts := []Option{
		MinSendIntervalOption(time.Duration(c.MinSendIntervalMs) * time.Millisecond),
		PacingOption(mode),
		RecycleBuffersOption(c.RecycleBuffers),
		MaxPooledBuffersOption(c.MaxPooledBuffers),
		AtomicMessagesOption(c.AtomicMessages),
		ReceiveBufferSizeOption(c.ReceiveBufferSize),
		MessageMaxSize(c.MaxMessageSize),
		ProtocolOption(c.Protocol),
		HeartbeatOption(time.Duration(c.HeartbeatSeconds) * time.Second),
		WriteTimeoutOption(time.Duration(c.WriteTimeoutSeconds) * time.Second),
		CompressionOption(c.Compression),
	}
	if c.AcceptRate > 0 {
		opts = append(opts, AcceptRateOption(c.AcceptRate, c.AcceptBurst))
	}
	return opts
}
