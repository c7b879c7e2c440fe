// Package database provides the SQLite store behind the connection
// journal.
//
// It manages:
//   - Opening the file with WAL mode and a busy timeout
//   - A single-connection pool (SQLite has one writer)
//   - Forward/backward schema migrations read from an fs.FS
//
// The database file is created with 0600 permissions.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a
// default, and each .up.sql has a matching .down.sql.
package database
