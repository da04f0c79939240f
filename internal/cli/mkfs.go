package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/app"
)

// MkfsCmd returns the mkfs command.
func MkfsCmd(rt *runtime) *Command {
	return &Command{
		Flags: flag.NewFlagSet("mkfs", flag.ContinueOnError),
		Usage: "mkfs",
		Short: "Format the filesystem on the flash image",
		Long:  "Write an empty filesystem to the flash image, creating the image if needed. All files, including the config, are lost.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execMkfs(o, rt)
		},
	}
}

func execMkfs(o *IO, rt *runtime) (err error) {
	log, err := rt.newLogger()
	if err != nil {
		return err
	}

	defer multierr.AppendInvoke(&err, multierr.Close(log))

	file, err := rt.openImage()
	if err != nil {
		return err
	}

	defer multierr.AppendInvoke(&err, multierr.Close(file))

	a, err := app.New(app.Options{Board: rt.board, Device: file, Logger: log})
	if err != nil {
		return err
	}

	lock := a.Config().FileLock()
	lock.Lock()
	defer lock.Unlock()

	log.Warn("Formatting filesystem", zap.String("image", rt.imagePath()))

	err = a.FS().Format()
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}

	err = file.Sync()
	if err != nil {
		return fmt.Errorf("mkfs: %w", err)
	}

	log.Warn("Formatted filesystem")

	geo := rt.board.Geometry()
	o.Printf("%s: %s filesystem, %d blocks of %s\n", rt.imagePath(),
		humanize.IBytes(uint64(geo.Size())), geo.BlockCount, humanize.IBytes(uint64(geo.BlockSize)))

	return nil
}
