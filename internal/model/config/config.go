// Package config holds the model checker's run parameters.
//
// Parameters load from defaults, optionally a yaml file, and finally
// CLI flag overrides, in that order.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Params are the run-time configuration options of the checker.
type Params struct {
	// MaxReads is the maximum number of consecutive times one read may
	// select the same stale write while newer writes are available,
	// before the execution is pruned. Zero disables the check.
	MaxReads int `yaml:"maxreads"`

	// MaxFutureDelay is the promise expiration horizon, measured in
	// sequence numbers from the write that offered the future value.
	MaxFutureDelay uint64 `yaml:"maxfuturedelay"`

	// MaxFutureValues caps the distinct future values sent to one read.
	MaxFutureValues int `yaml:"maxfuturevalues"`

	// ExpireSlop: an existing future value's expiration is only
	// extended when the new expiration exceeds it by more than this.
	ExpireSlop uint64 `yaml:"expireslop"`

	// FairWindow is the window size of the starvation throttle; zero
	// disables fairness entirely.
	FairWindow uint `yaml:"fairwindow"`

	// EnabledCount is the number of consecutive decisions a thread may
	// stay enabled-but-unscheduled before it is forced to run.
	EnabledCount uint `yaml:"enabledcount"`

	// Bound is the maximum sequence number per execution; zero means
	// unbounded.
	Bound uint64 `yaml:"bound"`

	// Verbose selects the report level: 0 silent, 1 counts and
	// summary, 2 full per-action trace.
	Verbose int `yaml:"verbose"`
}

// Default returns the parameter set used when nothing is configured.
func Default() Params {
	return Params{
		MaxReads:        200,
		MaxFutureDelay:  100,
		MaxFutureValues: 2,
		ExpireSlop:      10,
		FairWindow:      0,
		EnabledCount:    1,
		Bound:           0,
		Verbose:         0,
	}
}

// Load reads parameters from a yaml file, applied over the defaults.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, errors.Wrapf(err, "parse config %s", path)
	}
	if err := p.Validate(); err != nil {
		return p, errors.Wrapf(err, "validate config %s", path)
	}
	return p, nil
}

// Validate rejects parameter combinations the engine cannot honor.
func (p Params) Validate() error {
	if p.MaxReads < 0 {
		return errors.New("maxreads must be >= 0")
	}
	if p.MaxFutureValues < 0 {
		return errors.New("maxfuturevalues must be >= 0")
	}
	if p.FairWindow > 0 && p.EnabledCount == 0 {
		return errors.New("enabledcount must be >= 1 when fairwindow is set")
	}
	if p.Verbose < 0 || p.Verbose > 2 {
		return errors.New("verbose must be 0, 1, or 2")
	}
	return nil
}
