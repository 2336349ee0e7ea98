package actor

import (
	"errors"
	"net/http"

	"github.com/pacerhq/pacer/internal/payload"
	"github.com/pacerhq/pacer/internal/ratelimit"
)

// Describe maps a pipeline error to an HTTP status, a client-safe
// message, and any field issues. Errors outside the expected set
// collapse to a generic internal error; callers log the original.
func Describe(err error) (int, string, []payload.Issue) {
	var ve *payload.ValidationError
	switch {
	case errors.Is(err, payload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "request body too large", nil
	case errors.Is(err, payload.ErrMalformed):
		return http.StatusBadRequest, "malformed request body", nil
	case errors.As(err, &ve):
		return http.StatusBadRequest, "invalid request", ve.Issues
	case errors.Is(err, ratelimit.ErrLimited):
		return http.StatusTooManyRequests, "rate limit exceeded", nil
	}
	return http.StatusInternalServerError, "internal error", nil
}
