package httpx

import (
	"errors"
	"net/http"
)

// Edge-level denial errors. Domain errors carry their own types and are
// mapped by their handlers before falling back to RespondError.
var (
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// RespondError maps an error to an RFC7807 response. Unrecognized errors
// become an opaque 500 so internals never leak to clients.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
