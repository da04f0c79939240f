package cli_test

import (
	"os"
	"strings"
	"testing"

	"github.com/calvinalkan/mcu-app/internal/cli"
)

func Test_Run_Prints_Usage_When_Help_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("--help")

	for _, want := range []string{"Usage: mcu-app", "--board", "shell [flags]", "mkfs", "dump-config", "print-config"} {
		cli.AssertContains(t, stdout, want)
	}
}

func Test_Run_Prints_Command_Help_When_Help_Flag_Follows_Command(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.MustRun("dump-config", "--help")

	cli.AssertContains(t, stdout, "Usage: mcu-app dump-config [flags]")
	cli.AssertContains(t, stdout, "--secrets")
}

func Test_Run_Prints_Version_When_Version_Flag_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)

	if got, want := c.MustRun("--version"), "mcu-app "+cli.Version; got != want {
		t.Fatalf("version=%q, want=%q", got, want)
	}
}

func Test_Run_Fails_When_Command_Unknown(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("reboot")

	cli.AssertContains(t, stderr, "unknown command: reboot")
	cli.AssertContains(t, stderr, "Commands:")
}

func Test_Run_Fails_When_Flag_Unknown(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("--baud", "115200")

	cli.AssertContains(t, stderr, "unknown flag: --baud")
}

func Test_Run_Fails_When_Command_Flag_Unknown(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, stderr, code := c.Run("mkfs", "--force")

	if code != 1 {
		t.Fatalf("exit=%d, want=1", code)
	}

	cli.AssertContains(t, stderr, "unknown flag: --force")
}

func Test_Run_Starts_Shell_When_No_Command_Given(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout, stderr, code := c.RunWithInput("show version\nlogout\n")

	if code != 0 {
		t.Fatalf("exit=%d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stdout, "mcu-app "+cli.Version)

	_, err := os.Stat(c.ImagePath())
	if err != nil {
		t.Fatalf("image not created: %v", err)
	}

	if strings.Count(stdout, ":/$ ") != 2 {
		t.Errorf("want 2 prompts, stdout:\n%s", stdout)
	}
}
