package cli

import (
	"context"
	"errors"
	"fmt"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mcu-app/internal/config"
	"github.com/calvinalkan/mcu-app/pkg/blockdev"
	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

const masked = "********"

// DumpConfigCmd returns the dump-config command.
func DumpConfigCmd(rt *runtime) *Command {
	fs := flag.NewFlagSet("dump-config", flag.ContinueOnError)
	secrets := fs.Bool("secrets", false, "Show passwords in the effective settings")
	raw := fs.Bool("raw", false, "Also print each file in CBOR diagnostic notation, secrets included")

	return &Command{
		Flags: fs,
		Usage: "dump-config [flags]",
		Short: "Show the config files stored on the flash image",
		Long: `Show whether each config file on the flash image decodes, and the
settings the device would load from them.

The image is read, never written, so this is safe while a shell is running.`,
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execDumpConfig(o, rt, *secrets, *raw)
		},
	}
}

func execDumpConfig(o *IO, rt *runtime, secrets, raw bool) error {
	mem, created, err := blockdev.LoadImage(rt.imagePath(), rt.board.Geometry())
	if err != nil {
		return err
	}

	if created {
		return fmt.Errorf("%w: %s does not exist", ErrNoFilesystem, rt.imagePath())
	}

	fsys := flashfs.New(mem, rt.board.Geometry(), flashfs.Options{})

	err = fsys.Mount()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoFilesystem, err)
	}

	found := 0

	for _, name := range []string{config.PrimaryFile, config.BackupFile} {
		data, err := fsys.ReadFile(name)
		if errors.Is(err, flashfs.ErrNotExist) {
			o.Printf("# %s: missing\n", name)

			continue
		}

		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		found++

		status := "valid"

		verr := config.Verify(data)
		if verr != nil {
			status = "invalid: " + verr.Error()
			o.Warn(name+" does not decode", "the device will fall back to the other file or defaults")
		}

		o.Printf("# %s: %d bytes, %s\n", name, len(data), status)

		if !raw {
			continue
		}

		notation, err := config.Diagnose(data)
		if err != nil {
			o.Printf("(%v)\n", err)

			continue
		}

		o.Printf("%s\n", notation)
	}

	if found == 0 {
		return ErrNotConfigured
	}

	settings := config.NewStore(config.NewService(fsys, config.Options{}), true).Snapshot()

	o.Println("")
	o.Println("# effective")

	for _, f := range config.Fields {
		value := f.Format(&settings)
		if f.Secret && !secrets && value != "" {
			value = masked
		}

		o.Printf("%s=%s\n", f.Name, value)
	}

	return nil
}
