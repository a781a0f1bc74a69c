package errors

import "net/http"

// Transport and protocol error codes. These are recovered locally and
// never reach application callers; they appear in logs and metrics.
const (
	CodeTransport = "TRANSPORT_ERROR"
	CodeProtocol  = "PROTOCOL_ERROR"
)

// Notification store error codes.
const (
	CodePersistenceFailed    = "PERSISTENCE_FAILED"
	CodeNotificationNotFound = "NOTIFICATION_NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
)

// Auth error codes.
const (
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNoCredentials = "NO_CREDENTIALS"
	CodeTokenExpired  = "TOKEN_EXPIRED"
	CodeTokenInvalid  = "TOKEN_INVALID"
)

// Configuration and request validation codes.
const (
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeValidationFailed = "VALIDATION_FAILED"
)

// FromHTTPStatus maps a non-2xx response from the notification API to an
// AppError. The sentinel matching the status is wrapped so callers can use
// errors.Is without inspecting codes.
func FromHTTPStatus(status int, op string) *AppError {
	params := map[string]interface{}{"op": op, "status": status}
	switch status {
	case http.StatusNotFound:
		return Wrap(ErrNotFound, CodeNotificationNotFound, "notification not found", status).WithParams(params)
	case http.StatusUnauthorized, http.StatusForbidden:
		return Wrap(ErrUnauthorized, CodeUnauthorized, "notification api rejected credentials", status).WithParams(params)
	case http.StatusTooManyRequests:
		return Wrap(ErrServiceUnavail, CodeRateLimited, "notification api rate limited", status).WithParams(params)
	default:
		return Wrap(ErrServiceUnavail, CodePersistenceFailed, "notification api request failed", status).WithParams(params)
	}
}

// Persistence wraps err as PERSISTENCE_FAILED, keeping the cause reachable
// through errors.Is/As. An err that is already PERSISTENCE_FAILED is returned
// unchanged.
func Persistence(err error, op string) *AppError {
	if appErr, ok := IsAppError(err); ok && appErr.Code == CodePersistenceFailed {
		return appErr
	}
	status := http.StatusBadGateway
	if appErr, ok := IsAppError(err); ok && appErr.HTTPStatus != 0 {
		status = appErr.HTTPStatus
	}
	return Wrap(err, CodePersistenceFailed, op+" failed", status).
		WithParams(map[string]interface{}{"op": op})
}
