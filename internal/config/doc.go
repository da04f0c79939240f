// Package config persists the device settings.
//
// Settings are declared once in [Fields] and stored as a self-describing
// CBOR map in two files on the flash filesystem: [PrimaryFile] and
// [BackupFile].
//
// # Basic Usage
//
//	svc := config.NewService(fsys, config.Options{Logger: log})
//
//	cfg := config.NewStore(svc, true) // mounts and loads on first use
//	cfg.SetHostname("device1")
//	if err := cfg.Commit(); err != nil {
//	    return err
//	}
//
// # Crash Safety
//
// Commit writes the primary file, reads it back and verifies it, and only
// then writes the backup. At every point at least one of the two files
// holds a complete document, and loading falls back from primary to
// backup to defaults.
//
// # Concurrency
//
// Settings are guarded by a RWMutex. Commit, Umount and NewStore hold the
// service's file lock for their whole duration.
package config
