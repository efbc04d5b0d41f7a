// Package stores persists OpMode run history in SQLite. SQLiteStore
// implements engine.Journal, recording every activation, each lifecycle
// transition and how the run ended, and can persist telemetry events.
// The schema is applied with embedded golang-migrate migrations.
package stores
