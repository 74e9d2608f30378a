// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so the CLI and library validate
// manifests regardless of the working directory or installation location.
package schemasassets

import _ "embed"

// GeneratorManifestSchema is the embedded generator-manifest JSON schema.
//
//go:embed generator-manifest.schema.json
var GeneratorManifestSchema []byte
