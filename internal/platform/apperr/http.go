package apperr

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// HTTPError converts err into an echo error carrying the mapped status. The
// body names the offending field or the rejected transition when known.
func HTTPError(err error) error {
	status := HTTPStatus(err)
	body := map[string]interface{}{"error": err.Error()}

	var ve *ValidationError
	var te *TransitionError
	switch {
	case errors.As(err, &ve):
		body["error"] = "validation_failed"
		body["field"] = ve.Field
		body["reason"] = ve.Reason
	case errors.As(err, &te):
		body["error"] = "invalid_transition"
		body["from"] = te.From
		body["to"] = te.To
	case errors.Is(err, ErrConflict):
		body["error"] = "conflict"
		body["detail"] = err.Error()
	case errors.Is(err, ErrNotFound):
		body["error"] = "not_found"
		body["detail"] = err.Error()
	case errors.Is(err, ErrBackendUnavailable):
		body["error"] = "backend_unavailable"
	}
	return echo.NewHTTPError(status, body)
}

// FromValidator turns a validator/v10 failure into a ValidationError for the
// first failing field. Other errors are returned as a generic validation error.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := snake(fe.Field())
		switch fe.Tag() {
		case "required":
			return Required(field)
		case "oneof":
			return Invalid(field, "must be one of: "+fe.Param())
		case "max":
			return Invalid(field, "must be at most "+fe.Param()+" characters")
		default:
			return Invalid(field, "failed "+fe.Tag()+" check")
		}
	}
	return Invalid("", err.Error())
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
