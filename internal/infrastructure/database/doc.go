// Package database provides SQLite connectivity for the relay state history.
//
// The relay table itself lives in a flat JSON document; SQLite only keeps an
// append-only audit trail of accepted mutations so that operators can see
// who switched what and when, even across restarts.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{
//	    Path:       cfg.Database.Path,
//	    WALMode:    true,
//	    Migrations: migrations.FS,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are additive-only. Each file pair is named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
package database
