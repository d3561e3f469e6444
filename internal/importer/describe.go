package importer

import (
	"errors"

	"github.com/tonimelisma/cozy-ach/internal/stack"
)

// ForbiddenHint replaces the raw message of a 403 answer.
const ForbiddenHint = "token invalid or missing scope; regenerate it with -t"

// Describe renders a contained failure for the user. A rejected request
// surfaces the stack's own reason, a forbidden one points at the token, and
// anything else is reported verbatim.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var remoteErr *stack.RemoteError
	if errors.As(err, &remoteErr) {
		switch {
		case errors.Is(remoteErr, stack.ErrForbidden):
			return ForbiddenHint
		case errors.Is(remoteErr, stack.ErrBadRequest) && remoteErr.Reason != "":
			return remoteErr.Reason
		}
	}

	return err.Error()
}
