package ierr

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

// PlanLimitCode is the machine readable code rendered for quota rejections.
const PlanLimitCode = "PLAN_LIMIT_REACHED"

// ErrorResponse is the JSON envelope of every failed API call.
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// ErrorDetail is the body of ErrorResponse.
type ErrorDetail struct {
	Display       string         `json:"message"`
	Code          string         `json:"code,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	InternalError string         `json:"internal_error,omitempty"`
}

// NewPlanLimitExceeded builds the quota error for a resource.
func NewPlanLimitExceeded(resource string, limit int64) error {
	return NewErrorf("plan limit reached for %s", resource).
		WithHintf("Your plan allows up to %d %s. Upgrade to add more.", limit, resource).
		WithReportableDetails(map[string]any{
			"code":     PlanLimitCode,
			"resource": resource,
			"limit":    limit,
		}).
		Mark(ErrPlanLimitExceeded)
}

// HTTPStatusFromErr maps a marked error to a status code.
func HTTPStatusFromErr(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidOperation),
		errors.Is(err, ErrInvalidPlan),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrUncorrelatedEvent):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrPlanLimitExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrNotImplemented):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// NewErrorResponse renders err for API clients. Internal details are only
// included when withInternal is set (non production deployments).
func NewErrorResponse(err error, withInternal bool) ErrorResponse {
	detail := ErrorDetail{Display: "An unexpected error occurred"}

	if ie, ok := As(err); ok {
		detail.Display = ie.DisplayError()
		if len(ie.Details) > 0 {
			detail.Details = ie.Details
			if code, ok := ie.Details["code"].(string); ok {
				detail.Code = code
			}
		}
	}
	if withInternal {
		detail.InternalError = err.Error()
	}

	return ErrorResponse{Success: false, Error: detail}
}
