package cli

import (
	"context"
	"fmt"

	flag "github.com/spf13/pflag"
	"go.uber.org/multierr"

	"github.com/calvinalkan/mcu-app/internal/app"
	"github.com/calvinalkan/mcu-app/internal/shell"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
)

// ShellCmd returns the shell command.
func ShellCmd(rt *runtime) *Command {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	snapshot := fs.Bool("snapshot", false, "Run on an in-memory copy of the image, saved when the session ends")

	return &Command{
		Flags: fs,
		Usage: "shell [flags]",
		Short: "Boot the device and open its console (default)",
		Long: `Boot the device from the flash image and open its console.

The image is locked for the whole session and every flash write goes
straight to the file. With --snapshot the image is loaded into memory and
written back atomically when the session ends, so an interrupted session
leaves the previous image intact.`,
		Exec: func(ctx context.Context, o *IO, _ []string) error {
			return execShell(ctx, o, rt, *snapshot)
		},
	}
}

type closableTerminal interface {
	app.Terminal
	Close() error
}

type lineTerminal struct{ *shell.LineTerminal }

func (lineTerminal) Close() error { return nil }

func execShell(ctx context.Context, o *IO, rt *runtime, snapshot bool) (err error) {
	log, err := rt.newLogger()
	if err != nil {
		return err
	}

	defer multierr.AppendInvoke(&err, multierr.Close(log))

	var (
		dev  blockdev.Device
		mem  *blockdev.Mem
		file *blockdev.File
	)

	if snapshot {
		mem, _, err = blockdev.LoadImage(rt.imagePath(), rt.board.Geometry())
		dev = mem
	} else {
		file, err = rt.openImage()
		dev = file
	}

	if err != nil {
		return err
	}

	if file != nil {
		defer multierr.AppendInvoke(&err, multierr.Close(file))
	}

	a, err := app.New(app.Options{
		Board:    rt.board,
		Device:   dev,
		Logger:   log,
		Local:    rt.cfg.LocalConsole(rt.board),
		DeviceID: app.HardwareID(),
		Address:  rt.address(),
		Version:  Version,
	})
	if err != nil {
		return err
	}

	a.Start()

	var sh *shell.Shell

	complete := func(line string) []string {
		if sh == nil {
			return nil
		}

		return sh.Complete(line)
	}

	var term closableTerminal = lineTerminal{shell.NewLineTerminal(rt.in, o)}
	if rt.interactive() {
		term = shell.OpenTerminal(rt.cfg.Path(rt.cfg.History), complete)
	}

	sh = a.NewShell(term, o)

	err = a.Serve(ctx, sh, term)
	err = multierr.Combine(err, term.Close(), a.Close())

	if mem != nil && err == nil {
		err = blockdev.SaveImage(rt.imagePath(), mem)
	}

	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}

	return nil
}
