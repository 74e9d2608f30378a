package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/3leaps/nimbusgen/pkg/provider"
)

// Sentinel errors matched with errors.Is.
var (
	ErrUnknownAsset       = errors.New("unknown asset")
	ErrAssetConfiguration = errors.New("asset configuration mismatch")
	ErrPartitionNotFound  = errors.New("partition not found")
)

// UnknownAssetError is returned when an asset name is not configured.
type UnknownAssetError struct {
	Asset string
}

func (e *UnknownAssetError) Error() string {
	return fmt.Sprintf("unknown asset_name %s", e.Asset)
}

func (e *UnknownAssetError) Is(target error) bool { return target == ErrUnknownAsset }

// AssetConfigurationError reports that a listing page did not have the shape
// the asset's mode expects. It carries the asset configuration and whichever
// part of the page was present so the mismatch can be diagnosed.
type AssetConfigurationError struct {
	Asset  string
	Config AssetConfig

	// Objects is set when directory mode saw no common prefixes.
	Objects []provider.ObjectSummary

	// CommonPrefixes is set when object mode saw only common prefixes.
	CommonPrefixes []string

	// Reason is match.ErrNoCommonPrefixes or match.ErrNoObjects.
	Reason error
}

func (e *AssetConfigurationError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.Asset, e.Reason)
}

func (e *AssetConfigurationError) Unwrap() error { return e.Reason }

func (e *AssetConfigurationError) Is(target error) bool { return target == ErrAssetConfiguration }

// PartitionNotFoundError is returned when no key of an asset maps to the
// requested partition identifier.
type PartitionNotFoundError struct {
	Asset       string
	PartitionID string
}

func (e *PartitionNotFoundError) Error() string {
	return fmt.Sprintf("unable to identify partition %s for asset %s", e.PartitionID, e.Asset)
}

func (e *PartitionNotFoundError) Is(target error) bool { return target == ErrPartitionNotFound }

// ConfigError represents a generator configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "generator config: " + e.Field + ": " + e.Message
}

// IsUnknownAsset reports whether err is an UnknownAssetError.
func IsUnknownAsset(err error) bool { return errors.Is(err, ErrUnknownAsset) }

// IsAssetConfiguration reports whether err is an AssetConfigurationError.
func IsAssetConfiguration(err error) bool { return errors.Is(err, ErrAssetConfiguration) }

// IsPartitionNotFound reports whether err is a PartitionNotFoundError.
func IsPartitionNotFound(err error) bool { return errors.Is(err, ErrPartitionNotFound) }

// Machine-readable codes reported by ErrorCode.
const (
	CodeUnknownAsset       = "UNKNOWN_ASSET"
	CodeAssetMisconfigured = "ASSET_MISCONFIGURED"
	CodePartitionNotFound  = "PARTITION_NOT_FOUND"
	CodeInvalidConfig      = "INVALID_CONFIG"
	CodeCancelled          = "CANCELLED"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL"
)

// ErrorCode classifies err for JSONL error records and HTTP envelopes.
// Storage errors report the provider code; anything unrecognised is
// CodeInternal.
func ErrorCode(err error) string {
	var cfgErr *ConfigError
	switch {
	case err == nil:
		return ""
	case IsUnknownAsset(err):
		return CodeUnknownAsset
	case IsAssetConfiguration(err):
		return CodeAssetMisconfigured
	case IsPartitionNotFound(err):
		return CodePartitionNotFound
	case errors.As(err, &cfgErr):
		return CodeInvalidConfig
	case provider.IsStorageError(err):
		return provider.ErrorCode(err)
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	default:
		return CodeInternal
	}
}
