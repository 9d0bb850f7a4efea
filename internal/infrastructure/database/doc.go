// Package database owns the SQLite store behind the speaker event
// history: WAL-mode connection setup, pragmas, and a versioned
// migration runner fed from an embedded fs.FS.
//
// The store is deliberately small. Live state (connection health,
// group topology) is always derived from speaker-reported attributes;
// only the append-only event trail lands here.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/soundmesh.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Files); err != nil {
//	    return err
//	}
//
// All statements use parameterised queries, and the database file is
// chmodded to owner read/write.
package database
