package shell

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/calvinalkan/mcu-app/internal/config"
	"github.com/calvinalkan/mcu-app/pkg/flashfs"
)

// protectedPrefix marks files only local sessions may touch.
const protectedPrefix = "/config."

func fsCommands() []*Command {
	admin := FlagUser | FlagAdmin
	localAdmin := FlagUser | FlagAdmin | FlagLocal

	return []*Command{
		cmd("fs ls", admin, "[-l] [dirname]", 0, -1, runFSList).completing(completeFiles),
		cmd("fs cat", admin, "<filename>", 1, 1, runFSCat).completing(completeFiles),
		cmd("fs write", admin, "<filename> <text>", 2, -1, runFSWrite).completing(completeFiles),
		cmd("fs rm", admin, "<filename>", 1, 1, runFSRemove).completing(completeFiles),
		cmd("fs mv", admin, "<filename> <filename>", 2, 2, runFSMove).completing(completeFiles),
		cmd("fs cp", admin, "<filename> <filename>", 2, 2, runFSCopy).completing(completeFiles),
		cmd("fs mkfs", localAdmin, "", 0, 0, runFSFormat),
		cmd("umount", admin, "", 0, 0, runUmount),
	}
}

// normalise makes name absolute.
func normalise(name string) string {
	if !strings.HasPrefix(name, "/") {
		return "/" + name
	}

	return name
}

// allowed reports whether the session may access name. Remote sessions
// cannot reach the config files.
func (sh *Shell) allowed(name string) bool {
	return sh.Has(FlagLocal) || !strings.HasPrefix(normalise(name), protectedPrefix)
}

// fileError prints the conventional "<name>: reason" line for err.
func (sh *Shell) fileError(name string, err error) error {
	switch {
	case errors.Is(err, flashfs.ErrNotExist):
		sh.printf("%s: file not found\n", name)
	case errors.Is(err, flashfs.ErrNoSpace):
		sh.printf("%s: no space left\n", name)
	default:
		return fmt.Errorf("%s: %w", name, err)
	}

	return nil
}

// withFileLock runs fn holding the shared file lock.
func (sh *Shell) withFileLock(fn func() error) error {
	lock := sh.deps.Config.FileLock()
	lock.Lock()
	defer lock.Unlock()

	return fn()
}

func runFSList(sh *Shell, args []string) error {
	flags := pflag.NewFlagSet("fs ls", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	long := flags.BoolP("long", "l", false, "show sizes")

	err := flags.Parse(args)
	if err != nil {
		return err
	}

	if flags.NArg() > 1 {
		sh.println("Too many arguments")

		return nil
	}

	dir := "/"
	if flags.NArg() == 1 {
		dir = flags.Arg(0)
	}

	var infos []flashfs.FileInfo

	err = sh.withFileLock(func() error {
		var err error

		infos, err = sh.deps.FS.ReadDir(dir)

		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", dir, err)
	}

	for _, fi := range infos {
		if !*long {
			sh.println(fi.Name)

			continue
		}

		sh.printf("- %7d %8s %s\n", fi.Size, humanize.IBytes(uint64(fi.Size)), fi.Name)
	}

	return nil
}

func runFSCat(sh *Shell, args []string) error {
	name := normalise(args[0])
	if !sh.allowed(name) {
		sh.printf("%s: access denied\n", name)

		return nil
	}

	var data []byte

	err := sh.withFileLock(func() error {
		var err error

		data, err = sh.deps.FS.ReadFile(name)

		return err
	})
	if err != nil {
		return sh.fileError(name, err)
	}

	_, _ = sh.out.Write(data)

	if len(data) > 0 && data[len(data)-1] != '\n' {
		sh.println("")
	}

	return nil
}

func runFSWrite(sh *Shell, args []string) error {
	name := normalise(args[0])
	if !sh.allowed(name) {
		sh.printf("%s: access denied\n", name)

		return nil
	}

	data := []byte(strings.Join(args[1:], " ") + "\n")

	err := sh.withFileLock(func() error {
		return sh.deps.FS.WriteFile(name, data)
	})
	if err != nil {
		return sh.fileError(name, err)
	}

	sh.printf("%s: write %d\n", name, len(data))

	return nil
}

func runFSRemove(sh *Shell, args []string) error {
	name := normalise(args[0])
	if !sh.allowed(name) {
		sh.printf("%s: access denied\n", name)

		return nil
	}

	err := sh.withFileLock(func() error {
		return sh.deps.FS.Remove(name)
	})
	if err != nil {
		return sh.fileError(name, err)
	}

	return nil
}

// moveOrCopy checks access to both names and runs op under the file lock.
func moveOrCopy(sh *Shell, args []string, op func(from, to string) error) error {
	from, to := normalise(args[0]), normalise(args[1])

	for _, name := range []string{from, to} {
		if !sh.allowed(name) {
			sh.printf("%s: access denied\n", name)

			return nil
		}
	}

	err := sh.withFileLock(func() error {
		return op(from, to)
	})
	if err != nil {
		return sh.fileError(from, err)
	}

	return nil
}

func runFSMove(sh *Shell, args []string) error {
	return moveOrCopy(sh, args, sh.deps.FS.Rename)
}

func runFSCopy(sh *Shell, args []string) error {
	return moveOrCopy(sh, args, sh.deps.FS.Copy)
}

func runFSFormat(sh *Shell, _ []string) error {
	sh.log.Warn("Formatting filesystem")

	err := sh.withFileLock(sh.deps.FS.Format)
	if err != nil {
		sh.log.Error("Error formatting filesystem", zap.Error(err))
		sh.println("Error formatting filesystem")

		return nil
	}

	sh.log.Warn("Formatted filesystem")
	sh.println("Formatted filesystem")

	return nil
}

func runUmount(sh *Shell, _ []string) error {
	state, _ := sh.deps.Config.State()
	if state != config.Mounted {
		sh.println("Filesystem not mounted")

		return nil
	}

	err := config.NewStore(sh.deps.Config, false).Umount()
	if err != nil {
		return err
	}

	sh.println("Unmounted filesystem")

	return nil
}

// completeFiles proposes file names for the next argument.
func completeFiles(sh *Shell, _ []string) []string {
	infos, err := sh.deps.FS.ReadDir("/")
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(infos))

	for _, fi := range infos {
		if sh.allowed(fi.Name) {
			names = append(names, fi.Name)
		}
	}

	return names
}
