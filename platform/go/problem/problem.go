// Package problem renders apperrors as application/problem+json responses.
package problem

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-reports/platform/go/apperrors"
	platformlogging "github.com/zenGate-Global/palmyra-reports/platform/go/logging"
)

const (
	TypeAuthentication = "https://palmyra.reports/problems/authentication"
	TypeAuthorization  = "https://palmyra.reports/problems/authorization"
	TypeValidation     = "https://palmyra.reports/problems/validation-error"
	TypeTimeout        = "https://palmyra.reports/problems/timeout"
	TypeUpstream       = "https://palmyra.reports/problems/upstream-error"
	TypeNotFound       = "https://palmyra.reports/problems/not-found"
	TypeInternal       = "https://palmyra.reports/problems/internal-error"
)

// ContentType is the media type of every error body.
const ContentType = "application/problem+json"

// Details is the RFC 7807 body extended with the error category and hint.
type Details struct {
	Type     string             `json:"type"`
	Title    string             `json:"title"`
	Status   int                `json:"status"`
	Detail   string             `json:"detail,omitempty"`
	Category apperrors.Category `json:"category"`
	Hint     string             `json:"hint,omitempty"`
}

// Classify maps err onto a status code and problem body. Upstream and internal
// failures get a normalised detail; their causes never reach the client.
func Classify(err error) Details {
	category := apperrors.CategoryOf(err)
	appErr, _ := apperrors.As(err)

	detail := ""
	hint := ""
	if appErr != nil {
		detail = appErr.Error()
		hint = appErr.Hint
	}

	switch category {
	case apperrors.CategoryAuthentication:
		return Details{Type: TypeAuthentication, Title: "Unauthorized", Status: http.StatusUnauthorized, Detail: detail, Category: category}
	case apperrors.CategoryAuthorization:
		return Details{Type: TypeAuthorization, Title: "Forbidden", Status: http.StatusForbidden, Detail: detail, Category: category}
	case apperrors.CategoryValidation:
		return Details{Type: TypeValidation, Title: "Validation failed", Status: http.StatusBadRequest, Detail: detail, Category: category, Hint: hint}
	case apperrors.CategoryTimeout:
		if detail == "" {
			detail = "operation exceeded time limit"
		}
		return Details{Type: TypeTimeout, Title: "Timeout", Status: http.StatusGatewayTimeout, Detail: detail, Category: category, Hint: hint}
	case apperrors.CategoryNotFound:
		return Details{Type: TypeNotFound, Title: "Resource not found", Status: http.StatusNotFound, Detail: detail, Category: category}
	case apperrors.CategoryUpstream:
		if appErr == nil || appErr.Message == "" {
			detail = "upstream dependency failed"
		} else {
			detail = appErr.Message
		}
		return Details{Type: TypeUpstream, Title: "Upstream failure", Status: http.StatusBadGateway, Detail: detail, Category: category}
	default:
		return Details{Type: TypeInternal, Title: "Internal server error", Status: http.StatusInternalServerError, Detail: "an unexpected error occurred", Category: apperrors.CategoryInternal}
	}
}

// Write classifies err, logs it at a severity matching the status and writes the body.
func Write(w http.ResponseWriter, r *http.Request, err error, fallback *zap.Logger, fields ...zap.Field) {
	details := Classify(err)

	logger := platformlogging.FromRequest(r, fallback)
	if logger == nil {
		logger = zap.NewNop()
	}
	fields = append(fields,
		zap.Int("status", details.Status),
		zap.String("category", string(details.Category)),
		zap.Error(err),
	)

	switch {
	case details.Status >= http.StatusInternalServerError && details.Category != apperrors.CategoryTimeout:
		logger.Error("request failed", fields...)
	case details.Status == http.StatusNotFound:
		logger.Info("resource not found", fields...)
	default:
		logger.Warn("request rejected", fields...)
	}

	WriteDetails(w, details)
}

// WriteDetails writes an already-built problem body.
func WriteDetails(w http.ResponseWriter, details Details) {
	if details.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="api"`)
	}
	w.Header().Set("Content-Type", ContentType)
	w.WriteHeader(details.Status)
	_ = json.NewEncoder(w).Encode(details)
}
