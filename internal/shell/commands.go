package shell

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/config"
	"github.com/calvinalkan/mcu-app/internal/logging"
)

// Command is one entry in the command table.
type Command struct {
	// Path is the command name; multi-word commands are matched by
	// longest prefix.
	Path []string

	// Usage describes the arguments, e.g. "<filename> [text]".
	Usage string

	Flags   Flags
	MinArgs int
	MaxArgs int // -1 for no limit

	Run func(sh *Shell, args []string) error

	// Complete, if set, proposes the next argument.
	Complete func(sh *Shell, args []string) []string
}

// Name returns the path joined by spaces.
func (c *Command) Name() string {
	return strings.Join(c.Path, " ")
}

func (c *Command) completing(fn func(*Shell, []string) []string) *Command {
	c.Complete = fn

	return c
}

const (
	asterisks = "********"
	unset     = "<unset>"
)

func orUnset(v string) string {
	if v == "" {
		return unset
	}

	return v
}

func masked(v string) string {
	if v == "" {
		return unset
	}

	return asterisks
}

func cmd(path string, flags Flags, usage string, minArgs, maxArgs int, run func(*Shell, []string) error) *Command {
	return &Command{
		Path:    strings.Fields(path),
		Usage:   usage,
		Flags:   flags,
		MinArgs: minArgs,
		MaxArgs: maxArgs,
		Run:     run,
	}
}

func builtinCommands() []*Command {
	user := FlagUser
	admin := FlagUser | FlagAdmin
	localAdmin := FlagUser | FlagAdmin | FlagLocal

	commands := []*Command{
		cmd("help", user, "", 0, 0, runHelp),
		cmd("exit", user, "", 0, 0, runExit),
		cmd("logout", user, "", 0, 0, runLogout),
		cmd("su", user, "", 0, 0, runSu),
		cmd("passwd", admin, "", 0, 0, runPasswd),

		cmd("show", user, "", 0, 0, runShowAll),
		cmd("show config", user, "", 0, 0, runShowConfig),
		cmd("show cache", user, "", 0, 0, runShowCache),
		cmd("show fs", user, "", 0, 0, runShowFS),
		cmd("show uptime", user, "", 0, 0, runShowUptime),
		cmd("show version", user, "", 0, 0, runShowVersion),

		cmd("set", user, "", 0, 0, runSetSummary),
		cmd("set hostname", admin, "[name]", 0, 1, runSetHostname),
		cmd("set wifi ssid", localAdmin, "<name>", 1, 1, runSetWifiSSID),
		cmd("set wifi password", localAdmin, "", 0, 0, runSetWifiPassword),
		cmd("set ddns url", admin, "<url>", 1, 1, runSetDDNSURL),
		cmd("set ddns password", admin, "", 0, 0, runSetDDNSPassword),
		cmd("set ota off", admin, "", 0, 0, runSetOTA(false)),
		cmd("set ota on", localAdmin, "", 0, 0, runSetOTA(true)),
		cmd("set ota password", localAdmin, "", 0, 0, runSetOTAPassword),

		cmd("syslog host", admin, "[IP address]", 0, 1, runSyslogHost),
		cmd("syslog level", admin, "[level]", 0, 1, runSyslogLevel).completing(completeLevels),
		cmd("syslog mark", admin, "[seconds]", 0, 1, runSyslogMark),
	}

	return append(commands, fsCommands()...)
}

func runHelp(sh *Shell, _ []string) error {
	for _, c := range sh.Available() {
		line := c.Name()
		if c.Usage != "" {
			line += " " + c.Usage
		}

		sh.println(line)
	}

	return nil
}

func runExit(sh *Shell, _ []string) error {
	if sh.Admin() {
		sh.dropAdmin()
	} else {
		sh.Stop()
	}

	return nil
}

func runLogout(sh *Shell, _ []string) error {
	sh.Stop()

	return nil
}

func runSu(sh *Shell, _ []string) error {
	if sh.Admin() {
		return nil
	}

	if sh.Has(FlagLocal) {
		sh.becomeAdmin()

		return nil
	}

	password, err := sh.term.PasswordPrompt("Password: ")
	if err != nil {
		return nil //nolint:nilerr // aborted prompt
	}

	if password != "" && password == sh.store().AdminPassword() {
		sh.becomeAdmin()

		return nil
	}

	sh.opts.Sleep(sh.opts.Delay)
	sh.auth.Warn("Invalid admin password", zap.String("console", sh.opts.Console))
	sh.println("su: incorrect password")

	return nil
}

func runPasswd(sh *Shell, _ []string) error {
	password, ok := sh.newPassword()
	if !ok {
		return nil
	}

	st := sh.store()
	st.SetAdminPassword(password)

	err := sh.commit(st)
	if err != nil {
		return err
	}

	sh.println("Admin password updated")

	return nil
}

// runShowAll runs every argument-free "show" subcommand.
func runShowAll(sh *Shell, _ []string) error {
	first := true

	for _, c := range sh.Available() {
		if len(c.Path) != 2 || c.Path[0] != "show" || c.MaxArgs != 0 {
			continue
		}

		if !first {
			sh.println("")
		}

		first = false

		err := c.Run(sh, nil)
		if err != nil {
			sh.printf("error: %v\n", err)
		}
	}

	return nil
}

func runShowConfig(sh *Shell, _ []string) error {
	s := sh.store().Snapshot()

	for _, f := range config.Fields {
		v := f.Format(&s)
		if f.Secret {
			v = masked(v)
		} else if f.Kind == config.KindString {
			v = orUnset(v)
		}

		sh.printf("%-22s %s\n", f.Name, v)
	}

	return nil
}

func runShowCache(sh *Shell, _ []string) error {
	c := sh.deps.Cache
	if c == nil {
		sh.println("Block cache: none")

		return nil
	}

	st := c.Stats()
	bs := uint64(c.Geometry().BlockSize)

	state := "enabled"
	if st.Disabled {
		state = "disabled"
	}

	sh.printf("Block cache:   %s, %d/%d blocks (%s of %s)\n", state, st.Occupied, st.Capacity,
		humanize.IBytes(uint64(st.Occupied)*bs), humanize.IBytes(uint64(st.Capacity)*bs))

	ratio := 0.0
	if total := st.Hits + st.Misses; total > 0 {
		ratio = float64(st.Hits) / float64(total) * 100
	}

	sh.printf("Hits:          %s (%.2f%%)\n", humanize.Comma(int64(st.Hits)), ratio)
	sh.printf("Misses:        %s\n", humanize.Comma(int64(st.Misses)))
	sh.printf("Replacements:  %s\n", humanize.Comma(int64(st.Replacements)))
	sh.printf("Invalidations: %s\n", humanize.Comma(int64(st.Invalidations)))
	sh.printf("Passthrough:   %s\n", humanize.Comma(int64(st.Passthrough)))
	sh.printf("Read errors:   %s\n", humanize.Comma(int64(st.ReadErrors)))

	if err := c.InitErr(); err != nil {
		sh.printf("Init error:    %v\n", err)
	}

	return nil
}

func runShowFS(sh *Shell, _ []string) error {
	u, err := sh.deps.FS.Usage()
	if err != nil {
		return fmt.Errorf("filesystem: %w", err)
	}

	sh.printf("FS size:       %s (block size %d bytes)\n", humanize.IBytes(uint64(u.TotalBytes())), u.BlockSize)
	sh.printf("FS used:       %s (%.2f%%)\n", humanize.IBytes(uint64(u.UsedBytes())),
		float64(u.UsedBlocks)/float64(u.TotalBlocks)*100)
	sh.printf("Files:         %d\n", u.Files)

	if vol, err := sh.deps.FS.Volume(); err == nil {
		sh.printf("Volume:        %s\n", vol)
	}

	return nil
}

func runShowUptime(sh *Shell, _ []string) error {
	sh.printf("Uptime: %s\n", time.Since(sh.opts.Started).Truncate(time.Millisecond))

	return nil
}

func runShowVersion(sh *Shell, _ []string) error {
	sh.printf("Version: %s\n", sh.opts.Version)

	return nil
}

// runSetSummary prints the settings the session may change.
func runSetSummary(sh *Shell, _ []string) error {
	st := sh.store()

	if sh.Has(FlagAdmin | FlagLocal) {
		sh.printf("WiFi SSID = %s\n", orUnset(st.WifiSSID()))
		sh.printf("WiFi Password = %s\n", masked(st.WifiPassword()))
	}

	if sh.Admin() {
		sh.printf("DDNS URL = %s\n", orUnset(st.DDNSURL()))
		sh.printf("DDNS Password = %s\n", masked(st.DDNSPassword()))

		if st.OTAEnabled() {
			sh.println("OTA enabled")
		} else {
			sh.println("OTA disabled")
		}
	}

	if sh.Has(FlagAdmin | FlagLocal) {
		sh.printf("OTA Password = %s\n", masked(st.OTAPassword()))
	}

	return nil
}

func runSetHostname(sh *Shell, args []string) error {
	st := sh.store()

	name := ""
	if len(args) > 0 {
		name = args[0]
	}

	st.SetHostname(name)

	err := sh.commit(st)
	if err != nil {
		return err
	}

	sh.printf("Hostname = %s\n", orUnset(st.Hostname()))
	sh.deps.SyslogChanged()

	return nil
}

func runSetWifiSSID(sh *Shell, args []string) error {
	st := sh.store()
	st.SetWifiSSID(args[0])

	err := sh.commit(st)
	if err != nil {
		return err
	}

	sh.printf("WiFi SSID = %s\n", orUnset(st.WifiSSID()))

	return nil
}

// setPassword prompts twice, stores the result with set and commits.
func setPassword(sh *Shell, set func(*config.Store, string), done string) error {
	password, ok := sh.newPassword()
	if !ok {
		return nil
	}

	st := sh.store()
	set(st, password)

	err := sh.commit(st)
	if err != nil {
		return err
	}

	sh.println(done)

	return nil
}

func runSetWifiPassword(sh *Shell, _ []string) error {
	return setPassword(sh, (*config.Store).SetWifiPassword, "WiFi password updated")
}

func runSetDDNSURL(sh *Shell, args []string) error {
	st := sh.store()
	st.SetDDNSURL(args[0])

	err := sh.commit(st)
	if err != nil {
		return err
	}

	sh.printf("DDNS URL = %s\n", orUnset(st.DDNSURL()))

	return nil
}

func runSetDDNSPassword(sh *Shell, _ []string) error {
	return setPassword(sh, (*config.Store).SetDDNSPassword, "DDNS password updated")
}

func runSetOTA(enabled bool) func(*Shell, []string) error {
	return func(sh *Shell, _ []string) error {
		st := sh.store()
		st.SetOTAEnabled(enabled)

		err := sh.commit(st)
		if err != nil {
			return err
		}

		if enabled {
			sh.println("OTA enabled")
		} else {
			sh.println("OTA disabled")
		}

		return nil
	}
}

func runSetOTAPassword(sh *Shell, _ []string) error {
	return setPassword(sh, (*config.Store).SetOTAPassword, "OTA password updated")
}

func runSyslogHost(sh *Shell, args []string) error {
	st := sh.store()

	if len(args) > 0 {
		st.SetSyslogHost(args[0])

		err := sh.commit(st)
		if err != nil {
			return err
		}
	}

	sh.printf("Host = %s\n", orUnset(st.SyslogHost()))
	sh.deps.SyslogChanged()

	return nil
}

func runSyslogLevel(sh *Shell, args []string) error {
	st := sh.store()

	if len(args) > 0 {
		level, err := logging.ParseLevel(args[0])
		if err != nil {
			sh.println("Invalid log level")

			return nil //nolint:nilerr // reported above
		}

		st.SetSyslogLevel(level)

		err = sh.commit(st)
		if err != nil {
			return err
		}

		sh.deps.SyslogChanged()
	}

	sh.printf("Log level = %s\n", st.SyslogLevel())

	return nil
}

func completeLevels(_ *Shell, args []string) []string {
	if len(args) > 0 {
		return nil
	}

	levels := logging.Levels()
	names := make([]string, 0, len(levels))

	for _, l := range levels {
		names = append(names, strings.ToLower(l.String()))
	}

	return names
}

func runSyslogMark(sh *Shell, args []string) error {
	st := sh.store()

	if len(args) > 0 {
		seconds, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid interval %q", args[0])
		}

		st.SetSyslogMarkInterval(uint32(seconds))

		err = sh.commit(st)
		if err != nil {
			return err
		}
	}

	sh.printf("Mark interval = %ds\n", st.SyslogMarkInterval())
	sh.deps.SyslogChanged()

	return nil
}
