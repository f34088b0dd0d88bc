// Package providers defines the uniform adapter interface the gateway
// routes chat completions through, the typed errors every adapter
// normalises failures into, shared HTTP client machinery, tool definition
// normalisation, and the database-backed registry that builds and caches
// adapters per provider row.
package providers
