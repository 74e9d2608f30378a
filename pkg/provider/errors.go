package provider

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by ProviderError. Providers translate their
// native errors into these so callers never inspect SDK types.
var (
	ErrNotFound            = errors.New("object not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrBucketNotFound      = errors.New("bucket not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrThrottled           = errors.New("request throttled")
)

// errorCodes is checked in order by ErrorCode.
var errorCodes = []struct {
	sentinel error
	code     string
}{
	{ErrNotFound, "NOT_FOUND"},
	{ErrAccessDenied, "ACCESS_DENIED"},
	{ErrBucketNotFound, "BUCKET_NOT_FOUND"},
	{ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{ErrThrottled, "THROTTLED"},
	{ErrProviderUnavailable, "PROVIDER_UNAVAILABLE"},
}

// ProviderError is the storage error surfaced by listing calls. The
// generator passes it through unmodified so callers can inspect Op, Bucket
// and the cause.
type ProviderError struct {
	Op       string
	Provider ProviderType
	Bucket   string

	// Key is the object key or listing prefix, if any.
	Key string
	Err error
}

func (e *ProviderError) Error() string {
	target := e.Bucket
	if e.Key != "" {
		target += "/" + e.Key
	}
	if target == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, target, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func IsNotFound(err error) bool            { return errors.Is(err, ErrNotFound) }
func IsAccessDenied(err error) bool        { return errors.Is(err, ErrAccessDenied) }
func IsBucketNotFound(err error) bool      { return errors.Is(err, ErrBucketNotFound) }
func IsInvalidCredentials(err error) bool  { return errors.Is(err, ErrInvalidCredentials) }
func IsProviderUnavailable(err error) bool { return errors.Is(err, ErrProviderUnavailable) }
func IsThrottled(err error) bool           { return errors.Is(err, ErrThrottled) }

// IsTransient reports whether retrying later may succeed.
func IsTransient(err error) bool {
	return IsThrottled(err) || IsProviderUnavailable(err)
}

// IsStorageError reports whether err originated from a provider call.
func IsStorageError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// ErrorCode returns the machine-readable code used in JSONL error records
// and HTTP error envelopes. Unrecognized causes map to STORAGE_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range errorCodes {
		if errors.Is(err, c.sentinel) {
			return c.code
		}
	}
	return "STORAGE_ERROR"
}
