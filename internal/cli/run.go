package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mcu-app/internal/board"
)

// Version is reported by --version and the console banner.
var Version = "dev"

const defaultCommand = "shell"

// Run is the main entry point. Returns exit code.
//
// A signal on sigCh cancels the running command. sigCh may be nil.
func Run(in io.Reader, out io.Writer, errOut io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	global := flag.NewFlagSet("mcu-app", flag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(&strings.Builder{})

	var (
		workDir    string
		configPath string
		overrides  Config
		local      bool
		help       bool
		version    bool
	)

	global.StringVarP(&workDir, "cwd", "C", "", "Run as if started in `dir`")
	global.StringVarP(&configPath, "config", "c", "", "Use specified config `file`")
	global.StringVar(&overrides.Board, "board", "", "Board to emulate ("+strings.Join(board.Names(), ", ")+")")
	global.StringVar(&overrides.Image, "image", "", "Flash image `file`")
	global.StringVar(&overrides.History, "history", "", "Console history `file`")
	global.StringVar(&overrides.LogFile, "log-file", "", "Syslog output `file`")
	global.StringVar(&overrides.LogFormat, "log-format", "", "Log format (console, json)")
	global.StringVar(&overrides.Address, "address", "", "IPv4 address reported to dynamic DNS (auto, none or an address)")
	global.BoolVar(&local, "local", false, "Give the console local privileges")
	global.BoolVarP(&help, "help", "h", false, "Show help")
	global.BoolVar(&version, "version", false, "Show version")

	err := global.Parse(args[1:])
	if err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut, global, nil)

		return 1
	}

	if global.Changed("local") {
		overrides.Local = &local
	}

	if version {
		fprintln(out, "mcu-app", Version)

		return 0
	}

	if in == nil {
		in = strings.NewReader("")
	}

	rt := &runtime{in: in, errOut: errOut}
	commands := []*Command{
		ShellCmd(rt),
		MkfsCmd(rt),
		DumpConfigCmd(rt),
		PrintConfigCmd(rt),
	}

	if help {
		printUsage(out, global, commands)

		return 0
	}

	name := defaultCommand
	rest := global.Args()

	if len(rest) > 0 {
		name, rest = rest[0], rest[1:]
	}

	var cmd *Command

	for _, c := range commands {
		if c.Name() == name {
			cmd = c
		}
	}

	if cmd == nil {
		fprintln(errOut, "error:", fmt.Errorf("%w: %s", ErrUnknownCmd, name))
		printUsage(errOut, global, commands)

		return 1
	}

	rt.cfg, err = LoadConfig(LoadConfigInput{
		WorkDirOverride: workDir,
		ConfigPath:      configPath,
		Overrides:       overrides,
		Env:             env,
	})
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	rt.board, err = board.Lookup(rt.cfg.Board)
	if err != nil {
		fprintln(errOut, "error:", err)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if sigCh != nil {
		go func() {
			select {
			case <-sigCh:
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	o := NewIO(out, errOut)

	code := cmd.Run(ctx, o, rest)
	if code != 0 {
		return code
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		fprintln(errOut, "interrupted")
	}

	return o.Finish()
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer, global *flag.FlagSet, commands []*Command) {
	fprintln(w, `mcu-app - device firmware running on the host

Usage: mcu-app [options] [command] [args]

Options:`)

	var buf strings.Builder
	global.SetOutput(&buf)
	global.PrintDefaults()
	global.SetOutput(&strings.Builder{})
	_, _ = io.WriteString(w, buf.String())

	if len(commands) == 0 {
		return
	}

	fprintln(w)
	fprintln(w, "Commands:")

	for _, c := range commands {
		fprintln(w, c.HelpLine())
	}
}
