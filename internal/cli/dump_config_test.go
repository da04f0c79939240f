package cli_test

import (
	"testing"

	"github.com/calvinalkan/mcu-app/internal/cli"
)

func Test_Dump_Config_Fails_When_Image_Missing(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	stderr := c.MustFail("dump-config")

	cli.AssertContains(t, stderr, "no filesystem on image")
}

func Test_Dump_Config_Fails_When_Filesystem_Empty(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.MustRun("mkfs")

	stderr := c.MustFail("dump-config")

	cli.AssertContains(t, stderr, "no config file on image")
}

func Test_Dump_Config_Masks_Secrets_When_Not_Requested(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Shell("su", "set hostname dumped", "passwd", "s3cret", "s3cret", "logout")

	stdout := c.MustRun("dump-config")

	cli.AssertContains(t, stdout, "# /config.cbor: ")
	cli.AssertContains(t, stdout, "valid")
	cli.AssertContains(t, stdout, "hostname=dumped")
	cli.AssertContains(t, stdout, "admin_password=********")
	cli.AssertContains(t, stdout, "wifi_password=\n")
	cli.AssertNotContains(t, stdout, "s3cret")
}

func Test_Dump_Config_Prints_Diagnostic_Notation_When_Raw(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Shell("su", "set hostname rawhost", "logout")

	stdout := c.MustRun("dump-config", "--raw")

	cli.AssertContains(t, stdout, `"hostname": "rawhost"`)
}

func Test_Mkfs_Erases_Config_When_Run(t *testing.T) {
	t.Parallel()

	c := cli.NewCLI(t)
	c.Shell("su", "set hostname gone", "logout")

	stdout := c.MustRun("mkfs")
	cli.AssertContains(t, stdout, "256 KiB filesystem, 64 blocks of 4.0 KiB")

	c.MustFail("dump-config")
}
