// Package database provides the SQLite handle behind the local stream store.
//
// It manages:
//   - The connection, opened in WAL mode with a single writer
//   - Forward-only schema migrations embedded in the binary
//   - Health checks used by the API
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and live in
// the top-level migrations package, which registers them via MigrationsFS.
package database
