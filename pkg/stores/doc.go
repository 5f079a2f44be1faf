// Package stores persists inventory run history.
//
// Each finished run is recorded with its summary counters and one row per
// generated host, so later runs can be listed, inspected and diffed. The
// SQLite implementation runs in WAL mode with foreign keys enabled and
// applies its embedded migrations through golang-migrate.
//
//	store, err := stores.NewSQLiteStore(stores.Config{Path: "history.db"})
//	if err != nil {
//		return err
//	}
//	if err := store.Init(ctx); err != nil {
//		return err
//	}
//	defer store.Close()
//	if err := store.Migrate(ctx); err != nil {
//		return err
//	}
//	err = store.RecordRun(ctx, run, configPath)
package stores
