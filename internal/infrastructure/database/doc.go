// Package database provides SQLite connectivity for the bridge's local state.
//
// This package manages:
//   - Database connection with WAL mode for concurrent access
//   - Embedded, versioned schema migrations
//   - Connection lifecycle and health checks
//
// The bridge keeps a snapshot of the last known attribute values here so a
// restart can republish state before the first poll completes.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// The schema lives in the top-level migrations package, which registers its
// embedded files with Register. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
// New columns must be NULLABLE or have DEFAULT values.
package database
