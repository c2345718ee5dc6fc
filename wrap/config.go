package wrap

import (
	"strings"

	"github.com/wippyai/mpiwrap/errors"
	"github.com/wippyai/mpiwrap/layout"
)

// EnvVar names the environment variable ParseEnv is usually fed from.
const EnvVar = "MPIWRAP_DEBUG"

// Usage describes the options ParseEnv understands.
const Usage = `Valid options for the ` + EnvVar + ` environment variable are:

   quiet      less verbose, never print anything
   verbose    more verbose, trace every wrapped call
   strict     treat datatypes the walker cannot decompose as fatal
   warn       log failed transport calls at warning level
   help       print this message

Multiple options are allowed, eg ` + EnvVar + `=strict,verbose
`

// Config configures a Wrapper.
type Config struct {
	// Complaints is shared with the walker. Nil means a fresh budget.
	Complaints *layout.Complaints

	// Verbosity 0 is silent, 1 logs setup, 2 and above traces every call.
	Verbosity int

	// TableCapacity is the initial number of request slots.
	TableCapacity int

	Strict bool
	Warn   bool
	Help   bool
}

// DefaultConfig returns the default wrapper configuration.
func DefaultConfig() Config {
	return Config{
		Verbosity: 1,
	}
}

// ParseEnv applies a comma separated option list on top of DefaultConfig.
func ParseEnv(s string) (Config, error) {
	cfg := DefaultConfig()
	for _, opt := range strings.Split(s, ",") {
		switch strings.TrimSpace(opt) {
		case "":
		case "verbose":
			cfg.Verbosity++
		case "quiet":
			cfg.Verbosity = 0
		case "strict":
			cfg.Strict = true
		case "warn":
			cfg.Warn = true
		case "help":
			cfg.Help = true
		default:
			return cfg, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Value(opt).
				Detail("unknown option %q in %s", opt, EnvVar).
				Build()
		}
	}
	return cfg, nil
}

func (c Config) walker() layout.Config {
	return layout.Config{
		Complaints: c.Complaints,
		Strict:     c.Strict,
	}
}
