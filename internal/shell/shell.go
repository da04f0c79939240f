package shell

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/shlex"
	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/config"
	"github.com/calvinalkan/mcu-app/internal/logging"
	"github.com/calvinalkan/mcu-app/pkg/blockcache"
	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

// AppName is shown in the session banner.
const AppName = "mcu-app"

// InvalidPasswordDelay is how long su waits before rejecting a password.
const InvalidPasswordDelay = 3 * time.Second

// Flags are session privileges. A command runs only if the session holds
// all of its flags.
type Flags uint8

// Session flags.
const (
	FlagUser Flags = 1 << iota
	FlagAdmin
	FlagLocal
)

// Terminal reads passwords for commands that ask for one.
// [*LineEditor] and [*LineTerminal] satisfy it.
type Terminal interface {
	PasswordPrompt(prompt string) (string, error)
}

// Deps are the components commands operate on.
type Deps struct {
	Config *config.Service
	FS     *flashfs.FS

	// Cache is nil on boards without a block cache.
	Cache *blockcache.Cache

	// Logger is the process logger; the shell logs under "shell" and
	// "auth".
	Logger *logging.Logger

	// SyslogChanged is called after hostname or syslog settings change.
	SyslogChanged func()
}

// Options configures a [Shell].
type Options struct {
	// Console names the session in log messages. Default: "ttyS0".
	Console string

	// Local sessions may run local-only commands and become admin
	// without a password.
	Local bool

	// Hostname is shown in the prompt when none is configured.
	Hostname string

	Version string
	Started time.Time

	// Delay is used instead of [InvalidPasswordDelay] when positive.
	Delay time.Duration
	Sleep func(time.Duration)
}

// Shell executes command lines for one console session.
//
// A Shell is not safe for concurrent use; the app loop owns it.
type Shell struct {
	deps  Deps
	term  Terminal
	out   io.Writer
	opts  Options
	log   *zap.Logger
	auth  *zap.Logger
	flags Flags

	commands []*Command
	stopped  bool
}

// New returns a shell writing to out and reading passwords from term.
func New(deps Deps, term Terminal, out io.Writer, opts Options) *Shell {
	if deps.Config == nil || deps.FS == nil {
		panic("shell: config and filesystem are required")
	}

	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	if deps.SyslogChanged == nil {
		deps.SyslogChanged = func() {}
	}

	if opts.Console == "" {
		opts.Console = "ttyS0"
	}

	if opts.Hostname == "" {
		opts.Hostname = "native"
	}

	if opts.Started.IsZero() {
		opts.Started = time.Now()
	}

	if opts.Delay <= 0 {
		opts.Delay = InvalidPasswordDelay
	}

	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}

	sh := &Shell{
		deps:  deps,
		term:  term,
		out:   out,
		opts:  opts,
		log:   deps.Logger.Named("shell"),
		auth:  deps.Logger.Named("auth"),
		flags: FlagUser,
	}

	if opts.Local {
		sh.flags |= FlagLocal
	}

	sh.commands = builtinCommands()

	return sh
}

// Has reports whether the session holds every flag in f.
func (sh *Shell) Has(f Flags) bool {
	return sh.flags&f == f
}

// Admin reports whether the session is privileged.
func (sh *Shell) Admin() bool {
	return sh.Has(FlagAdmin)
}

// Stopped reports whether the session has ended.
func (sh *Shell) Stopped() bool {
	return sh.stopped
}

// Start logs the session opening.
func (sh *Shell) Start() {
	sh.printf("%s %s\n\n", AppName, sh.opts.Version)
	sh.log.Info("User session opened", zap.String("console", sh.opts.Console))
}

// Stop ends the session.
func (sh *Shell) Stop() {
	if sh.stopped {
		return
	}

	if sh.Admin() {
		sh.dropAdmin()
	}

	sh.stopped = true
	sh.log.Info("User session closed", zap.String("console", sh.opts.Console))
}

// Prompt returns the prompt for the next line: host:/$ or host:/# for
// admin sessions.
func (sh *Shell) Prompt() string {
	host := sh.opts.Hostname

	if sh.deps.Config.Loaded() {
		if configured := config.NewStore(sh.deps.Config, false).Hostname(); configured != "" {
			host = configured
		}
	}

	suffix := "$"
	if sh.Admin() {
		suffix = "#"
	}

	return host + ":/" + suffix + " "
}

// EndOfTransmission handles ^D: leave admin first, then log out.
func (sh *Shell) EndOfTransmission() {
	sh.println("")

	if sh.Admin() {
		sh.dropAdmin()

		return
	}

	sh.Stop()
}

// Exec runs one command line. Errors are printed; the session continues
// unless the command ended it.
func (sh *Shell) Exec(line string) {
	if sh.stopped {
		return
	}

	args, err := shlex.Split(line)
	if err != nil {
		sh.printf("error: %v\n", err)

		return
	}

	if len(args) == 0 {
		return
	}

	cmd, rest := sh.lookup(args)
	if cmd == nil {
		sh.println("Command not found")

		return
	}

	if !sh.Has(cmd.Flags) {
		sh.println("Permission denied")

		return
	}

	if len(rest) < cmd.MinArgs {
		sh.println("Not enough arguments")

		return
	}

	if cmd.MaxArgs >= 0 && len(rest) > cmd.MaxArgs {
		sh.println("Too many arguments")

		return
	}

	err = cmd.Run(sh, rest)
	if err != nil {
		sh.printf("error: %v\n", err)
	}
}

// lookup matches the longest command path that prefixes args.
func (sh *Shell) lookup(args []string) (*Command, []string) {
	var best *Command

	for _, cmd := range sh.commands {
		if len(cmd.Path) > len(args) || (best != nil && len(cmd.Path) <= len(best.Path)) {
			continue
		}

		if slices.Equal(cmd.Path, args[:len(cmd.Path)]) {
			best = cmd
		}
	}

	if best == nil {
		return nil, nil
	}

	return best, args[len(best.Path):]
}

// Available returns the commands the session may run, in table order.
func (sh *Shell) Available() []*Command {
	var out []*Command

	for _, cmd := range sh.commands {
		if sh.Has(cmd.Flags) {
			out = append(out, cmd)
		}
	}

	return out
}

// Complete returns completions for a partial line.
func (sh *Shell) Complete(line string) []string {
	words := strings.Fields(line)
	trailing := line == "" || strings.HasSuffix(line, " ")

	var partial string
	if !trailing && len(words) > 0 {
		partial = words[len(words)-1]
		words = words[:len(words)-1]
	}

	prefix := strings.Join(words, " ")
	if prefix != "" {
		prefix += " "
	}

	var out []string

	seen := map[string]bool{}

	for _, cmd := range sh.Available() {
		if len(cmd.Path) > len(words) {
			if !slices.Equal(cmd.Path[:len(words)], words) {
				continue
			}

			next := cmd.Path[len(words)]
			if strings.HasPrefix(next, partial) && !seen[next] {
				seen[next] = true
				out = append(out, prefix+next)
			}

			continue
		}

		if cmd.Complete == nil || !slices.Equal(cmd.Path, words[:len(cmd.Path)]) {
			continue
		}

		for _, c := range cmd.Complete(sh, words[len(cmd.Path):]) {
			if strings.HasPrefix(c, partial) && !seen[c] {
				seen[c] = true
				out = append(out, prefix+c)
			}
		}
	}

	return out
}

func (sh *Shell) becomeAdmin() {
	sh.auth.Info("Admin session opened", zap.String("console", sh.opts.Console))
	sh.flags |= FlagAdmin
}

func (sh *Shell) dropAdmin() {
	sh.auth.Info("Admin session closed", zap.String("console", sh.opts.Console))
	sh.flags &^= FlagAdmin
}

// store returns a config handle, mounting and loading on first use.
func (sh *Shell) store() *config.Store {
	return config.NewStore(sh.deps.Config, true)
}

// newPassword asks for a password twice. ok is false when input was
// aborted or the entries differ.
func (sh *Shell) newPassword() (string, bool) {
	first, err := sh.term.PasswordPrompt("Enter new password: ")
	if err != nil {
		return "", false
	}

	second, err := sh.term.PasswordPrompt("Retype new password: ")
	if err != nil {
		return "", false
	}

	if first != second {
		sh.println("Passwords do not match")

		return "", false
	}

	return first, true
}

// commit persists settings, reporting failure without undoing the change.
func (sh *Shell) commit(st *config.Store) error {
	err := st.Commit()
	if err != nil {
		if errors.Is(err, config.ErrUnavailable) {
			return fmt.Errorf("settings not saved, filesystem unavailable: %w", err)
		}

		return fmt.Errorf("settings not saved: %w", err)
	}

	return nil
}

func (sh *Shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(sh.out, format, args...)
}

func (sh *Shell) println(s string) {
	_, _ = io.WriteString(sh.out, s+"\n")
}
