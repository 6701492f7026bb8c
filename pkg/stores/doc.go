// Package stores provides the persistence layer for the provisioning
// engine's config, secrets, and install-record stores: an in-memory
// implementation for tests and the noop CLI path, a file-backed install
// store for best-effort single-node persistence, and a SQLite-backed
// store family (WAL mode, connection pooling, golang-migrate schema
// migrations) for deployments that want transactional state instead of
// rewrite-the-whole-file semantics.
package stores
