package config

import (
	"bytes"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/logging"
)

// Store is a handle onto the settings of a [Service].
//
// Getters and setters work on memory only; [Store.Commit] persists. Any
// number of stores may exist at once; they all see the same settings.
type Store struct {
	svc *Service
}

// NewStore returns a handle onto svc.
//
// With mount set, the first store mounts the filesystem and loads the
// primary file, falling back to the backup and then to defaults. A failed
// mount is remembered and never retried by later stores.
//
// Without mount, the filesystem is never mounted here. If settings have not
// been loaded yet the store serves defaults and an error is logged.
func NewStore(svc *Service, mount bool) *Store {
	svc.fileLock.Lock()
	defer svc.fileLock.Unlock()

	svc.stateMu.Lock()
	defer svc.stateMu.Unlock()

	if mount && svc.mount != Unavailable {
		_ = svc.mountLocked() // logged; state records the failure
	}

	if svc.mount == Mounted && !svc.loaded {
		svc.loaded = svc.load()
	}

	if !svc.loaded {
		if mount {
			svc.log.Error("Config failure, using defaults", zap.Stringer("severity", logging.LevelErr))
			svc.update(func(s *Settings) { *s = Defaults() })
			svc.loaded = true
		} else {
			svc.log.Error("Config accessed before load", zap.Stringer("severity", logging.LevelCrit))
		}
	}

	return &Store{svc: svc}
}

// Service returns the service behind the store.
func (st *Store) Service() *Service {
	return st.svc
}

// Snapshot returns a copy of the current settings.
func (st *Store) Snapshot() Settings {
	return st.svc.snapshot()
}

// Get returns the named field formatted as text.
func (st *Store) Get(name string) (string, error) {
	f, ok := LookupField(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	s := st.svc.snapshot()

	return f.Format(&s), nil
}

// Set parses text into the named field. Memory only.
func (st *Store) Set(name, text string) error {
	f, ok := LookupField(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}

	var err error

	st.svc.update(func(s *Settings) {
		next := *s

		err = f.Parse(&next, text)
		if err == nil {
			*s = next
		}
	})

	return err
}

// Commit writes the settings to the primary file, reads it back, and only
// if that verifies writes the same bytes to the backup file.
//
// The filesystem is mounted on demand. In-memory settings are kept when
// the commit fails.
func (st *Store) Commit() error {
	svc := st.svc

	svc.fileLock.Lock()
	defer svc.fileLock.Unlock()

	svc.stateMu.Lock()
	err := svc.mountLocked()
	svc.stateMu.Unlock()

	if err != nil {
		return err
	}

	data, err := Encode(svc.snapshot())
	if err != nil {
		return err
	}

	err = svc.writeConfig(PrimaryFile, data)
	if err != nil {
		return err
	}

	readBack, err := svc.fs.ReadFile(PrimaryFile)
	if err != nil {
		svc.log.Error("Unable to read back config file", zap.String("file", PrimaryFile), zap.Error(err))

		return fmt.Errorf("%w: read back %s: %w", ErrVerify, PrimaryFile, err)
	}

	err = Verify(readBack)
	if err == nil && !bytes.Equal(readBack, data) {
		err = errors.New("contents differ from what was written")
	}

	if err != nil {
		svc.log.Error("Config file failed verification", zap.String("file", PrimaryFile), zap.Error(err))

		return fmt.Errorf("%w: %s: %w", ErrVerify, PrimaryFile, err)
	}

	return svc.writeConfig(BackupFile, data)
}

// Umount unmounts the filesystem if it is mounted. Loaded settings stay in
// memory; the next Commit mounts again.
func (st *Store) Umount() error {
	svc := st.svc

	svc.fileLock.Lock()
	defer svc.fileLock.Unlock()

	svc.stateMu.Lock()
	defer svc.stateMu.Unlock()

	if svc.mount != Mounted {
		return nil
	}

	svc.log.Info("Unmounting filesystem")

	err := svc.fs.Unmount()
	svc.mount = Unmounted

	if err != nil {
		svc.log.Error("Unmount failed", zap.Error(err))

		return fmt.Errorf("unmount: %w", err)
	}

	svc.log.Info("Unmounted filesystem")

	return nil
}

func (st *Store) getString(get func(*Settings) string) string {
	s := st.svc.snapshot()

	return get(&s)
}

// AdminPassword returns the admin password.
func (st *Store) AdminPassword() string {
	return st.getString(func(s *Settings) string { return s.AdminPassword })
}

// SetAdminPassword sets the admin password.
func (st *Store) SetAdminPassword(v string) {
	st.svc.update(func(s *Settings) { s.AdminPassword = v })
}

// Hostname returns the hostname.
func (st *Store) Hostname() string {
	return st.getString(func(s *Settings) string { return s.Hostname })
}

// SetHostname sets the hostname.
func (st *Store) SetHostname(v string) {
	st.svc.update(func(s *Settings) { s.Hostname = v })
}

// WifiSSID returns the WiFi network name.
func (st *Store) WifiSSID() string {
	return st.getString(func(s *Settings) string { return s.WifiSSID })
}

// SetWifiSSID sets the WiFi network name.
func (st *Store) SetWifiSSID(v string) {
	st.svc.update(func(s *Settings) { s.WifiSSID = v })
}

// WifiPassword returns the WiFi password.
func (st *Store) WifiPassword() string {
	return st.getString(func(s *Settings) string { return s.WifiPassword })
}

// SetWifiPassword sets the WiFi password.
func (st *Store) SetWifiPassword(v string) {
	st.svc.update(func(s *Settings) { s.WifiPassword = v })
}

// SyslogHost returns the syslog server address.
func (st *Store) SyslogHost() string {
	return st.getString(func(s *Settings) string { return s.SyslogHost })
}

// SetSyslogHost stores v if it is an IP address literal and clears the
// setting otherwise.
func (st *Store) SetSyslogHost(v string) {
	v = SanitizeSyslogHost(v)
	st.svc.update(func(s *Settings) { s.SyslogHost = v })
}

// SyslogLevel returns the syslog threshold.
func (st *Store) SyslogLevel() logging.Level {
	return st.svc.snapshot().SyslogLevel
}

// SetSyslogLevel sets the syslog threshold.
func (st *Store) SetSyslogLevel(v logging.Level) {
	st.svc.update(func(s *Settings) { s.SyslogLevel = v })
}

// SyslogMarkInterval returns the mark interval in seconds.
func (st *Store) SyslogMarkInterval() uint32 {
	return st.svc.snapshot().SyslogMarkInterval
}

// SetSyslogMarkInterval sets the mark interval in seconds.
func (st *Store) SetSyslogMarkInterval(v uint32) {
	st.svc.update(func(s *Settings) { s.SyslogMarkInterval = v })
}

// DDNSURL returns the dynamic DNS update URL.
func (st *Store) DDNSURL() string {
	return st.getString(func(s *Settings) string { return s.DDNSURL })
}

// SetDDNSURL sets the dynamic DNS update URL.
func (st *Store) SetDDNSURL(v string) {
	st.svc.update(func(s *Settings) { s.DDNSURL = v })
}

// DDNSPassword returns the dynamic DNS password.
func (st *Store) DDNSPassword() string {
	return st.getString(func(s *Settings) string { return s.DDNSPassword })
}

// SetDDNSPassword sets the dynamic DNS password.
func (st *Store) SetDDNSPassword(v string) {
	st.svc.update(func(s *Settings) { s.DDNSPassword = v })
}

// OTAEnabled reports whether OTA updates are enabled.
func (st *Store) OTAEnabled() bool {
	return st.svc.snapshot().OTAEnabled
}

// SetOTAEnabled enables or disables OTA updates.
func (st *Store) SetOTAEnabled(v bool) {
	st.svc.update(func(s *Settings) { s.OTAEnabled = v })
}

// OTAPassword returns the OTA password.
func (st *Store) OTAPassword() string {
	return st.getString(func(s *Settings) string { return s.OTAPassword })
}

// SetOTAPassword sets the OTA password.
func (st *Store) SetOTAPassword(v string) {
	st.svc.update(func(s *Settings) { s.OTAPassword = v })
}
