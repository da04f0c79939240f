package cli

import (
	"context"

	"github.com/dustin/go-humanize"
	flag "github.com/spf13/pflag"
)

// PrintConfigCmd returns the print-config command.
func PrintConfigCmd(rt *runtime) *Command {
	return &Command{
		Flags: flag.NewFlagSet("print-config", flag.ContinueOnError),
		Usage: "print-config",
		Short: "Show resolved configuration",
		Long:  "Display the effective host configuration, the board it selects and which files it was loaded from.",
		Exec: func(_ context.Context, o *IO, _ []string) error {
			return execPrintConfig(o, rt)
		},
	}
}

func execPrintConfig(o *IO, rt *runtime) error {
	cfg := rt.cfg

	o.Println(FormatConfig(cfg, rt.board))

	o.Println("")
	o.Println("# board")
	o.Println("description=" + rt.board.Description)
	o.Println("flash=" + humanize.IBytes(uint64(rt.board.FSSize)))
	o.Println("block_size=" + humanize.IBytes(uint64(rt.board.BlockSize)))
	o.Println("cache=" + humanize.IBytes(uint64(rt.board.CacheSize)))

	o.Println("")
	o.Println("# sources")

	if cfg.Sources.Global == "" && cfg.Sources.Project == "" {
		o.Println("(defaults only)")
	} else {
		if cfg.Sources.Global != "" {
			o.Println("global_config=" + cfg.Sources.Global)
		}

		if cfg.Sources.Project != "" {
			o.Println("project_config=" + cfg.Sources.Project)
		}
	}

	return nil
}
