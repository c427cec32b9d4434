package errorhandler

import (
	"context"
	"net/http"

	"github.com/buycars/buycars-api/internal/pkg/logger"
	"github.com/buycars/buycars-api/internal/pkg/response"
)

// HandleError logs err with the request-scoped logger and sends a sanitized
// error response. err is never echoed to the client.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := logger.FromContext(ctx).Error().
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// LogExternalServiceError logs a failed call to a third party (gateway, SMS, broker).
func LogExternalServiceError(ctx context.Context, service, endpoint string, statusCode int, err error, responseBody string) {
	event := logger.FromContext(ctx).Error().
		Str("service", service).
		Str("endpoint", endpoint).
		Int("status_code", statusCode).
		Str("response_body", truncateString(responseBody, 1000))
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("External service error")
}

// LogAnomaly records a data-integrity event that needs operator attention but
// must not fail the caller.
func LogAnomaly(ctx context.Context, kind string, err error, fields map[string]string) {
	event := logger.FromContext(ctx).Warn().Str("anomaly", kind)
	for k, v := range fields {
		event = event.Str(k, v)
	}
	if err != nil {
		event = event.Err(err)
	}
	event.Msg("Anomaly")
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
