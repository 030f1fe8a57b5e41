package broker

import (
	"fmt"

	"github.com/c360/soundpost/errors"
)

// Endpoint identifies one candidate broker. Immutable after configuration
// load; the manager holds exactly two of these.
type Endpoint struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// URL renders the endpoint as a broker URL
func (e Endpoint) URL() string {
	return fmt.Sprintf("nats://%s:%d", e.Host, e.Port)
}

// String implements fmt.Stringer
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Validate checks the endpoint is usable
func (e Endpoint) Validate() error {
	if e.Host == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Endpoint", "Validate", "host")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return errors.WrapInvalid(
			fmt.Errorf("port %d out of range", e.Port),
			"Endpoint", "Validate", "port")
	}
	return nil
}

// Role names which of the two configured endpoints is active
type Role int

// The two endpoint roles
const (
	Primary Role = iota
	Fallback
)

// String returns the string representation of Role
func (r Role) String() string {
	switch r {
	case Primary:
		return "primary"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// other returns the opposite role
func (r Role) other() Role {
	if r == Primary {
		return Fallback
	}
	return Primary
}

// State is the connectivity bookkeeping mutated only by the manager.
// ConsecutiveFailures resets to zero on any successful connect and on every
// endpoint flip; Active flips exactly once per failure batch.
type State struct {
	Active              Role
	ConsecutiveFailures int
	TotalAttempts       int
}
