// Package database opens the labdash SQLite file and applies its schema.
//
// The relay server keeps three tables here: iot_devices, sensor_data and
// commands. The pool holds a single connection so ingest writes and API
// reads serialise on SQLite's one writer; WAL mode keeps readers unblocked.
//
// Migrations live in an fs.FS (the migrations package embeds them) and are
// named YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql.
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
//
// All queries use parameterised statements. The database file is chmod 0600.
package database
