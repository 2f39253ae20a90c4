package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/warp/roombook/core"
	"github.com/warp/roombook/logging"
)

// retryAfterSeconds is advertised on 503 replies.
const retryAfterSeconds = "1"

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil && err.Error() != message {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	var verr *core.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case core.IsClientError(err):
		return http.StatusBadRequest
	case core.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure renders err with the status its kind maps to. Unexpected
// errors are logged and hidden from the client.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusInternalServerError:
		logging.FromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, status, "Internal server error", nil)
		return
	case http.StatusServiceUnavailable:
		logging.FromContext(r.Context()).Warn().Err(err).Str("path", r.URL.Path).Msg("store unavailable")
		w.Header().Set("Retry-After", retryAfterSeconds)
		writeError(w, status, "Service temporarily unavailable", nil)
		return
	}

	resp := ErrorResponse{Error: message(err)}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		resp.Rule = verr.Rule
	}
	var inv *core.InvariantViolation
	if errors.As(err, &inv) {
		resp.Rule = inv.Rule
	}
	writeJSON(w, status, resp)
}

// message is the client-facing text for a known error kind.
func message(err error) string {
	var (
		verr *core.ValidationError
		cerr *core.ConflictError
		nerr *core.NotFoundError
		inv  *core.InvariantViolation
	)
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &cerr):
		return cerr.Error()
	case errors.As(err, &nerr):
		return nerr.Error()
	case errors.As(err, &inv):
		return inv.Message
	case errors.Is(err, core.ErrReasonRequired):
		return core.ErrReasonRequired.Error()
	case errors.Is(err, core.ErrChangePending):
		return "A change request is already pending"
	case errors.Is(err, core.ErrInvalidTransition):
		return "Reservation cannot change from its current status"
	case errors.Is(err, core.ErrNotFound):
		return "Not found"
	case errors.Is(err, core.ErrForbidden):
		return "Admin only"
	case errors.Is(err, core.ErrUnauthenticated):
		return "Unauthorized"
	default:
		return err.Error()
	}
}

// decode reads a JSON body into dst and runs its validate tags. An empty
// body decodes as {}.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return core.NewValidationError(core.RuleInput, "Invalid request body: %v", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return core.NewValidationError(core.RuleInput, "%s is invalid (%s)", jsonName(fe), fe.Tag())
		}
		return core.NewValidationError(core.RuleInput, "Invalid request body")
	}
	return nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func jsonName(fe validator.FieldError) string {
	if fe.Field() != "" {
		return fe.Field()
	}
	return fe.StructField()
}
