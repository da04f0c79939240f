package cli

import (
	"io"
	"net/netip"
	"os"

	"github.com/calvinalkan/mcu-app/internal/app"
	"github.com/calvinalkan/mcu-app/internal/board"
	"github.com/calvinalkan/mcu-app/internal/logging"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// runtime is what commands share once global flags and config are resolved.
type runtime struct {
	cfg    Config
	board  board.Board
	in     io.Reader
	errOut io.Writer
}

func (rt *runtime) imagePath() string {
	return rt.cfg.Path(rt.cfg.Image)
}

func (rt *runtime) newLogger() (*logging.Logger, error) {
	return logging.New(logging.Options{
		Console:    rt.errOut,
		Format:     rt.cfg.LogFormat,
		SyslogPath: rt.cfg.Path(rt.cfg.LogFile),
	})
}

// openImage opens the flash image for exclusive read-write use.
func (rt *runtime) openImage() (*blockdev.File, error) {
	return blockdev.OpenFile(rt.imagePath(), rt.board.Geometry())
}

func (rt *runtime) address() func() netip.Addr {
	switch rt.cfg.Address {
	case AddressAuto:
		return app.InterfaceAddress
	case AddressNone:
		return app.StaticAddress(netip.Addr{})
	default:
		addr, _ := rt.cfg.StaticAddress()

		return app.StaticAddress(addr)
	}
}

// interactive reports whether the console input is a terminal.
func (rt *runtime) interactive() bool {
	f, ok := rt.in.(*os.File)
	if !ok || f != os.Stdin {
		return false
	}

	info, err := f.Stat()
	if err != nil {
		return false
	}

	return info.Mode()&os.ModeCharDevice != 0
}
