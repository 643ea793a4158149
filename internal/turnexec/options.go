package turnexec

import "log/slog"

// Options configures one Executor's behavior.
type Options struct {
	// MaxToolIterations bounds how many rounds of real tool execution one
	// turn may take before the executor synthesizes a conclude-now
	// instruction instead of invoking the tools again.
	MaxToolIterations int

	// Logger receives turn diagnostics.
	Logger *slog.Logger
}

// DefaultOptions returns the baseline options, per §4.6's default of 8
// tool-invocation iterations.
func DefaultOptions() Options {
	return Options{
		MaxToolIterations: 8,
		Logger:            slog.Default(),
	}
}

func sanitizeOptions(opts Options) Options {
	defaults := DefaultOptions()
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = defaults.MaxToolIterations
	}
	if opts.Logger == nil {
		opts.Logger = defaults.Logger
	}
	return opts
}
