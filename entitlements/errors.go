package entitlements

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument reports malformed input: unknown plan, feature or resource,
// or a negative count. Callers must surface it rather than guess an answer.
var ErrInvalidArgument = errors.New("entitlements: invalid argument")

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidArgument}, args...)...)
}
