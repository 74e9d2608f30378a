// Package errors maps domain errors onto gofulmen error envelopes and renders
// them on the HTTP surface as:
//
//	{"error": {"code": "...", "message": "...", "details": {...}, "request_id": "..."}}
package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/nimbusgen/pkg/generator"
	"github.com/3leaps/nimbusgen/pkg/provider"
)

// Envelope codes not covered by generator.ErrorCode.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBadRequest         = "BAD_REQUEST"
	CodeStorage            = "STORAGE_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
)

// ErrorBody is the wire form of an envelope.
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
}

// ErrorResponse wraps ErrorBody under the "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// InvalidRequestError reports a malformed query parameter or path value.
type InvalidRequestError struct {
	Param   string
	Message string
}

func (e *InvalidRequestError) Error() string {
	return "invalid " + e.Param + ": " + e.Message
}

// InvalidParam builds an InvalidRequestError.
func InvalidParam(param, message string) error {
	return &InvalidRequestError{Param: param, Message: message}
}

type requestIDKey struct{}

// ContextWithRequestID stores the request id for later envelopes.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the stored request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewEnvelope builds an envelope correlated with the request id in ctx.
// Details are attached as envelope context; nil means none.
func NewEnvelope(ctx context.Context, code, message string, details map[string]any) *gferrors.ErrorEnvelope {
	env := newEnvelope(code, message, details)
	if id := RequestIDFromContext(ctx); id != "" {
		env = env.WithCorrelationID(id)
	}
	return env
}

func newEnvelope(code, message string, details map[string]any) *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(code, message)
	if len(details) == 0 {
		return env
	}
	// An envelope that rejects its context is still worth sending without it.
	if withCtx, err := env.WithContext(details); err == nil && withCtx != nil {
		env = withCtx
	}
	return env
}

// Classify maps err to an HTTP status and envelope.
func Classify(err error) (int, *gferrors.ErrorEnvelope) {
	var (
		invalid *InvalidRequestError
		unknown *generator.UnknownAssetError
		missing *generator.PartitionNotFoundError
		misconf *generator.AssetConfigurationError
		storage *provider.ProviderError
	)

	switch {
	case stderrors.As(err, &invalid):
		return http.StatusBadRequest, newEnvelope(CodeBadRequest, err.Error(),
			map[string]any{"param": invalid.Param})
	case stderrors.As(err, &unknown):
		return http.StatusNotFound, newEnvelope(generator.CodeUnknownAsset, err.Error(),
			map[string]any{"asset": unknown.Asset})
	case stderrors.As(err, &missing):
		return http.StatusNotFound, newEnvelope(generator.CodePartitionNotFound, err.Error(),
			map[string]any{"asset": missing.Asset, "partition_id": missing.PartitionID})
	case stderrors.As(err, &misconf):
		return http.StatusUnprocessableEntity, newEnvelope(generator.CodeAssetMisconfigured, err.Error(),
			map[string]any{
				"asset":            misconf.Asset,
				"directory_assets": misconf.Config.DirectoryAssets,
				"objects":          len(misconf.Objects),
				"common_prefixes":  len(misconf.CommonPrefixes),
			})
	case stderrors.As(err, &storage):
		return http.StatusBadGateway, newEnvelope(CodeStorage, err.Error(),
			map[string]any{
				"provider":      string(storage.Provider),
				"op":            storage.Op,
				"provider_code": provider.ErrorCode(err),
			})
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, newEnvelope(CodeTimeout, err.Error(), nil)
	case stderrors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, newEnvelope(CodeServiceUnavailable, err.Error(), nil)
	default:
		return http.StatusInternalServerError, newEnvelope(CodeInternal, err.Error(), nil)
	}
}

// RespondWithError classifies err and writes the envelope, correlated with
// the request id.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	status, env := Classify(err)
	if id := RequestIDFromContext(r.Context()); id != "" {
		env = env.WithCorrelationID(id)
	}
	WriteError(w, status, env)
}

// WriteError renders env with the given status.
func WriteError(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: bodyOf(env)})
}

func bodyOf(env *gferrors.ErrorEnvelope) ErrorBody {
	if env == nil {
		return ErrorBody{Code: CodeInternal, Message: "unknown error"}
	}
	return ErrorBody{
		Code:      env.Code,
		Message:   env.Message,
		Details:   env.Context,
		RequestID: env.CorrelationID,
	}
}
