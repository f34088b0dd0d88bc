// Package store is the SQLite persistence layer shared by the gateway, the
// web-chat bridge, and the control plane. It owns the schema (providers,
// models, credentials, settings, sessions, and the request/response audit
// trail), forward-only migrations, and the single-writer/pooled-reader
// connection discipline that lets three processes share one WAL database
// file safely.
package store
