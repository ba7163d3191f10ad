// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so validation works regardless of the
// working directory or installation location.
package schemasassets

import _ "embed"

// JobStatusSchema is the embedded schema of the GET /jobs/{id}/status payload.
//
//go:embed job-status.schema.json
var JobStatusSchema []byte

// CheckManifestSchema is the embedded batch check manifest schema.
//
//go:embed check-manifest.schema.json
var CheckManifestSchema []byte
