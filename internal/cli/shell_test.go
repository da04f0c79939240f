package cli_test

import (
	"os"
	"testing"

	"github.com/calvinalkan/mcu-app/internal/cli"
)

func Test_Shell_Persists_Settings_When_Run_Twice(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Shell("su", "set hostname bench", "logout")

	stdout := c.Shell("show config", "logout")

	cli.AssertContains(t, stdout, "bench:/$ ")
	cli.AssertContains(t, stdout, "bench")
}

func Test_Shell_Reads_Passwords_From_Input_When_Not_A_Terminal(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stdout := c.Shell("su", "passwd", "hunter2", "hunter2", "logout")

	cli.AssertContains(t, stdout, "Enter new password: \n")
	cli.AssertContains(t, stdout, "Admin password updated")

	effective := c.MustRun("dump-config", "--secrets")
	cli.AssertContains(t, effective, "admin_password=hunter2")
}

func Test_Shell_Snapshot_Writes_Image_When_Session_Ends(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("mkfs")

	before, err := os.ReadFile(c.ImagePath())
	if err != nil {
		t.Fatal(err)
	}

	stdout, stderr, code := c.RunWithInput("su\nset hostname snap\nlogout\n", "shell", "--snapshot")
	if code != 0 {
		t.Fatalf("exit=%d\nstderr: %s\nstdout: %s", code, stderr, stdout)
	}

	after, err := os.ReadFile(c.ImagePath())
	if err != nil {
		t.Fatal(err)
	}

	if string(before) == string(after) {
		t.Fatal("image unchanged after snapshot session")
	}

	cli.AssertContains(t, c.MustRun("dump-config"), "hostname=snap")
}

func Test_Shell_Logs_Startup_To_Stderr_When_Started(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	_, stderr, code := c.RunWithInput("logout\n", "--log-format", "json")

	if code != 0 {
		t.Fatalf("exit=%d\nstderr: %s", code, stderr)
	}

	cli.AssertContains(t, stderr, `"msg":"System startup"`)
	cli.AssertContains(t, stderr, `"msg":"User session closed"`)
}
