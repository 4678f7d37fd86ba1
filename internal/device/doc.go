// Package device persists what the bridge knows about the heat pump's
// units between restarts.
//
// Three tables back it (see migrations/):
//
//   - devices: every unit seen on the bus or listed in configuration
//   - attribute_snapshots: last known value per attribute
//   - attribute_history: an optional local change log
//
// At start the stored snapshot is restored into the engine registry with
// every value marked stale; the poller then refreshes them. A Snapshotter
// saves the live state periodically and once more on shutdown.
//
// # Usage
//
//	repo := device.NewSQLiteRepository(db.DB)
//	snap := device.NewSnapshotter(device.SnapshotterConfig{
//	    Repository: repo,
//	    Source:     client,
//	    Interval:   5 * time.Minute,
//	})
//	if _, err := snap.Restore(ctx, client); err != nil {
//	    return err
//	}
//	snap.Start(ctx)
//	defer snap.Stop()
//
// # Thread Safety
//
// Repositories are safe for concurrent use; SQLite serialises writers.
package device
