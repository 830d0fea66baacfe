// Package database provides SQLite connectivity and schema migrations.
//
// The handle is opened once in main and injected into every repository;
// there is no package-level connection. WAL mode lets the API read while
// the orchestrator appends execution logs.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive. Each version ships an .up.sql and a .down.sql.
package database
