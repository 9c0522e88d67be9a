package mirror

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Supported drivers.
const (
	DriverNone = ""
	DriverAMQP = "amqp"
	DriverNATS = "nats"
)

// Config selects and configures the broker backend.
type Config struct {
	Driver        string `yaml:"driver"`
	URL           string `yaml:"url"`
	Exchange      string `yaml:"exchange"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Buffer        int    `yaml:"buffer"`
}

// Enabled reports whether a driver is configured.
func (c Config) Enabled() bool {
	return c.Driver != DriverNone
}

// DefaultPrefix is prepended to every routing key or subject unless the
// configuration names another one.
const DefaultPrefix = "room"

// Dial connects the configured backend. It returns a nil Publisher when no
// driver is configured.
func Dial(cfg Config, logger zerolog.Logger) (Publisher, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	switch cfg.Driver {
	case DriverNone:
		return nil, nil
	case DriverAMQP:
		exchange := cfg.Exchange
		if exchange == "" {
			exchange = "roomrelay"
		}
		pub, err := DialAMQP(cfg.URL, exchange, prefix)
		if err != nil {
			return nil, err
		}
		return pub, nil
	case DriverNATS:
		pub, err := DialNATS(cfg.URL, prefix, logger)
		if err != nil {
			return nil, err
		}
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown mirror driver %q", cfg.Driver)
	}
}
