// Package database provides SQLite connectivity for brewlogic.
//
// It opens the database with WAL mode and a busy timeout, verifies the
// connection, and applies embedded schema migrations in version order.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
