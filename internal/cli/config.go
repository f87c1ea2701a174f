package cli

import (
	"errors"

	"github.com/roach88/foldsweep/internal/config"
)

// loadConfig reads the configured sweep file, applies overrides and
// validates the result. Errors are reported through f.
func loadConfig(opts *RootOptions, f *OutputFormatter, override func(*config.Sweep)) (config.Sweep, error) {
	cfg, err := config.Read(opts.Config)
	if err != nil {
		return config.Sweep{}, f.Fail(ExitCommandError, ErrCodeConfig, "failed to read config", err)
	}
	if override != nil {
		override(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			if outErr := f.Error(ErrCodeConfig, "invalid config", verrs); outErr != nil {
				return config.Sweep{}, outErr
			}
			return config.Sweep{}, WrapExitError(ExitCommandError, "invalid config", err)
		}
		return config.Sweep{}, f.Fail(ExitCommandError, ErrCodeConfig, "invalid config", err)
	}
	return cfg, nil
}
