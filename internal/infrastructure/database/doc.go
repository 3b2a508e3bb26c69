// Package database provides SQLite connectivity for the MQTT session bridge.
//
// The database is only needed when broker configuration is served from the
// broker_configs table (config_source: database). It holds configuration,
// never session state.
//
// This package manages:
//   - Opening the SQLite file with WAL mode and a busy timeout
//   - Applying embedded schema migrations in version order
//   - Health checks for start-up verification
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql and
// registered by the migrations package through MigrationsFS.
package database
