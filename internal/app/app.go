package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/board"
	"github.com/calvinalkan/mcu-app/internal/config"
	"github.com/calvinalkan/mcu-app/internal/ddns"
	"github.com/calvinalkan/mcu-app/internal/logging"
	"github.com/calvinalkan/mcu-app/internal/shell"
	"github.com/calvinalkan/mcu-app/pkg/blockcache"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

// DefaultTick is how often Serve runs a loop iteration while idle.
const DefaultTick = 100 * time.Millisecond

// Options configures an [App].
type Options struct {
	Board board.Board

	// Device is the raw flash, sized to Board.Geometry(). Required.
	Device blockdev.Device

	// Logger is the process logger. Default: no-op.
	Logger *logging.Logger

	// Local grants the console local privileges. A device without a WiFi
	// network configured always has a local console.
	Local bool

	// DeviceID identifies the device to the dynamic DNS service.
	DeviceID string

	// Address returns the current IPv4 address. Default: none.
	Address func() netip.Addr

	// HTTP is used for dynamic DNS updates. Default: see [ddns.Options].
	HTTP *http.Client

	Version string

	// Tick is the idle loop interval. Default: [DefaultTick].
	Tick time.Duration

	// Now is the clock. Default: time.Now.
	Now func() time.Time
}

// App wires the components of one device: flash, cache, filesystem,
// config, logging, dynamic DNS and the console.
type App struct {
	opts  Options
	log   *logging.Logger
	cache *blockcache.Cache
	fs    *flashfs.FS
	svc   *config.Service
	store *config.Store
	ddns  *ddns.Client

	started   time.Time
	lastMark  time.Time
	syslogDst string
}

// New builds the component graph. Nothing touches the flash until Start.
func New(opts Options) (*App, error) {
	if opts.Device == nil {
		return nil, errors.New("app: device is nil")
	}

	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	if opts.Address == nil {
		opts.Address = func() netip.Addr { return netip.Addr{} }
	}

	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	geo := opts.Board.Geometry()

	err := geo.Validate()
	if err != nil {
		return nil, fmt.Errorf("board %s: %w", opts.Board.Name, err)
	}

	a := &App{opts: opts, log: opts.Logger}

	device := opts.Device

	if blocks := opts.Board.CacheBlocks(); blocks > 0 {
		a.cache, err = blockcache.New(device, blockcache.Options{Geometry: geo, CacheBlocks: blocks})
		if err != nil {
			return nil, fmt.Errorf("block cache: %w", err)
		}

		device = a.cache
	}

	a.fs = flashfs.New(device, geo, flashfs.Options{FormatOnFail: true})
	a.svc = config.NewService(a.fs, config.Options{Logger: a.log.Named("config")})

	return a, nil
}

// Start mounts the filesystem, loads the config and applies it.
func (a *App) Start() {
	a.started = a.opts.Now()
	a.lastMark = a.started

	a.log.Named("app").Info("System startup", zap.String("app", shell.AppName), zap.String("version", a.opts.Version),
		zap.String("board", a.opts.Board.Name))

	a.store = config.NewStore(a.svc, true)

	if a.store.WifiSSID() == "" {
		a.opts.Local = true
	}

	a.ddns = ddns.New(a.store, ddns.Options{
		DeviceID: a.opts.DeviceID,
		Address:  a.opts.Address,
		HTTP:     a.opts.HTTP,
		Logger:   a.log.Named("ddns"),
	})

	a.ConfigureSyslog()
}

// Config returns the config service.
func (a *App) Config() *config.Service { return a.svc }

// FS returns the filesystem.
func (a *App) FS() *flashfs.FS { return a.fs }

// Cache returns the block cache, or nil if the board has none.
func (a *App) Cache() *blockcache.Cache { return a.cache }

// Local reports whether the console has local privileges.
func (a *App) Local() bool { return a.opts.Local }

// ConfigureSyslog applies the syslog settings to the logger.
func (a *App) ConfigureSyslog() {
	st := config.NewStore(a.svc, false)

	a.log.SetSyslogLevel(st.SyslogLevel())

	if dst := st.SyslogHost(); dst != a.syslogDst {
		a.syslogDst = dst
		a.log.Named("syslog").Info("Syslog destination changed", zap.String("host", dst), zap.String("hostname", st.Hostname()))
	}
}

// Loop runs one cooperative iteration. It never blocks on I/O.
func (a *App) Loop() {
	now := a.opts.Now()

	a.ddns.Loop(now)

	a.ConfigureSyslog()

	interval := time.Duration(a.store.SyslogMarkInterval()) * time.Second
	if interval > 0 && now.Sub(a.lastMark) >= interval {
		a.lastMark = now
		a.log.Mark()
	}
}

// Terminal is the console the app serves.
type Terminal interface {
	shell.Terminal
	Prompt(prompt string) (string, error)
}

type input struct {
	line string
	err  error
}

// NewShell returns a console session on term.
func (a *App) NewShell(term shell.Terminal, out io.Writer) *shell.Shell {
	return shell.New(shell.Deps{
		Config:        a.svc,
		FS:            a.fs,
		Cache:         a.cache,
		Logger:        a.log,
		SyslogChanged: a.ConfigureSyslog,
	}, term, out, shell.Options{
		Local:    a.opts.Local,
		Hostname: a.opts.DeviceID,
		Version:  a.opts.Version,
		Started:  a.started,
	})
}

// Serve runs the loop and the console session sh until the session ends or
// ctx is cancelled. Lines are read from term on a separate goroutine and
// executed on the loop goroutine, one at a time.
func (a *App) Serve(ctx context.Context, sh *shell.Shell, term Terminal) error {
	sh.Start()

	defer sh.Stop()

	prompts := make(chan string)
	lines := make(chan input, 1)

	go func() {
		for p := range prompts {
			line, err := term.Prompt(p)
			lines <- input{line: line, err: err}
		}
	}()

	defer close(prompts)

	ticker := time.NewTicker(a.opts.Tick)
	defer ticker.Stop()

	a.Loop()

	prompts <- sh.Prompt()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.Loop()
		case in := <-lines:
			switch {
			case in.err == nil:
				sh.Exec(in.line)
			case errors.Is(in.err, io.EOF):
				sh.EndOfTransmission()
			case errors.Is(in.err, shell.ErrAborted):
			default:
				return fmt.Errorf("console: %w", in.err)
			}

			a.Loop()

			if sh.Stopped() {
				return nil
			}

			prompts <- sh.Prompt()
		}
	}
}

// Close stops background work and unmounts the filesystem.
func (a *App) Close() error {
	if a.ddns != nil {
		a.ddns.Close()
	}

	if a.store == nil {
		return nil
	}

	err := a.store.Umount()
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return nil
}
