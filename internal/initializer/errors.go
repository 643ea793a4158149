package initializer

import "errors"

// ErrNoConfig means the configuration names no scenario at all (neither
// conversation nor conversations is set), the start command's NoConfig
// failure per §6.
var ErrNoConfig = errors.New("initializer: no scenario configured")

// ConfigInvalidError covers every other way a configuration fails
// validation: too few agents, a named scenario that does not exist, fewer
// than two participating agents. One of §7's ConfigInvalid errors.
type ConfigInvalidError struct{ Detail string }

func (e *ConfigInvalidError) Error() string { return "initializer: config invalid: " + e.Detail }

// InvalidOverrideError reports a start-command override that cannot be
// applied, e.g. a starting_agent override naming a non-participant.
type InvalidOverrideError struct{ Detail string }

func (e *InvalidOverrideError) Error() string { return "initializer: invalid override: " + e.Detail }
