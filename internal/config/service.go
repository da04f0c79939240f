package config

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

// Config file names.
const (
	PrimaryFile = "/config.cbor"
	BackupFile  = "/config.cbor~"
)

// FS is the part of [flashfs.FS] the config store uses.
type FS interface {
	Mount() error
	Unmount() error
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte) error
}

// MountState is the filesystem lifecycle as seen by the config store.
type MountState uint8

// Mount states.
const (
	Unmounted MountState = iota
	Mounting
	Mounted
	Unavailable
)

func (m MountState) String() string {
	switch m {
	case Unmounted:
		return "unmounted"
	case Mounting:
		return "mounting"
	case Mounted:
		return "mounted"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("MountState(%d)", uint8(m))
	}
}

// Options configures a [Service].
type Options struct {
	// FileLock serialises multi-step file operations. Share it with every
	// other component that does read-modify-write sequences on the same
	// filesystem. Default: a private mutex.
	FileLock sync.Locker

	// Logger receives lifecycle messages. Default: no-op.
	Logger *zap.Logger
}

// Service owns the config lifecycle for one process: mount state, load
// state and the settings themselves. [Store] values are handles onto it.
//
// Lock order: file lock, then state, then settings.
type Service struct {
	fs       FS
	fileLock sync.Locker
	log      *zap.Logger

	stateMu sync.Mutex
	mount   MountState
	loaded  bool

	mu       sync.RWMutex
	settings Settings
}

// NewService returns a service with default settings and nothing mounted.
func NewService(fsys FS, opts Options) *Service {
	if fsys == nil {
		panic("filesystem is nil")
	}

	if opts.FileLock == nil {
		opts.FileLock = &sync.Mutex{}
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Service{
		fs:       fsys,
		fileLock: opts.FileLock,
		log:      opts.Logger,
		settings: Defaults(),
	}
}

// FileLock returns the shared file lock.
func (svc *Service) FileLock() sync.Locker {
	return svc.fileLock
}

// State returns the mount state and whether settings have been loaded.
func (svc *Service) State() (MountState, bool) {
	svc.stateMu.Lock()
	defer svc.stateMu.Unlock()

	return svc.mount, svc.loaded
}

// Loaded reports whether settings have been loaded (or defaulted).
func (svc *Service) Loaded() bool {
	_, loaded := svc.State()

	return loaded
}

// mountLocked mounts the filesystem unless it is mounted or known to be
// unavailable. Caller holds stateMu.
func (svc *Service) mountLocked() error {
	switch svc.mount {
	case Mounted:
		return nil
	case Unavailable:
		return ErrUnavailable
	case Unmounted, Mounting:
	}

	svc.mount = Mounting
	svc.log.Info("Mounting filesystem")

	err := svc.fs.Mount()
	if err != nil {
		svc.mount = Unavailable
		svc.log.Error("Unable to mount filesystem", zap.Error(err))

		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	svc.mount = Mounted
	svc.log.Info("Mounted filesystem")

	return nil
}

// load tries the primary file, then the backup. Caller holds the file lock
// and stateMu.
func (svc *Service) load() bool {
	for _, name := range []string{PrimaryFile, BackupFile} {
		settings, err := svc.readConfig(name)
		if err != nil {
			continue
		}

		svc.mu.Lock()
		svc.settings = settings
		svc.mu.Unlock()

		svc.log.Info("Loaded config from file", zap.String("file", name))

		return true
	}

	return false
}

// readConfig reads and decodes name on top of the defaults.
func (svc *Service) readConfig(name string) (Settings, error) {
	svc.log.Info("Reading config file", zap.String("file", name))

	data, err := svc.fs.ReadFile(name)
	if err != nil {
		if errors.Is(err, flashfs.ErrNotExist) {
			svc.log.Error("Config file does not exist", zap.String("file", name))
		} else {
			svc.log.Error("Unable to read config file", zap.String("file", name), zap.Error(err))
		}

		return Settings{}, err
	}

	settings, err := Decode(data, Defaults())
	if err != nil {
		svc.log.Error("Failed to parse config file", zap.String("file", name), zap.Error(err))

		return Settings{}, err
	}

	return settings, nil
}

// writeConfig writes data to name.
func (svc *Service) writeConfig(name string, data []byte) error {
	svc.log.Info("Writing config file", zap.String("file", name), zap.Int("bytes", len(data)))

	err := svc.fs.WriteFile(name, data)
	if err != nil {
		svc.log.Error("Failed to write config file", zap.String("file", name), zap.Error(err))

		return fmt.Errorf("write %s: %w", name, err)
	}

	return nil
}

func (svc *Service) snapshot() Settings {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.settings
}

func (svc *Service) update(fn func(*Settings)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	fn(&svc.settings)
}
