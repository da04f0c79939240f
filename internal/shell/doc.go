// Package shell is the device console: a command interpreter over the
// config store, filesystem and block cache.
//
// Lines are split like a POSIX shell and matched against a command table by
// longest prefix, so "set wifi ssid home" runs the "set wifi ssid" command
// with one argument. Sessions start with user privileges; su grants admin,
// without a password on the local console.
//
// # Basic Usage
//
//	term := shell.OpenTerminal(historyPath, nil)
//	sh := shell.New(deps, term, os.Stdout, shell.Options{Local: true})
//	sh.Start()
//	for !sh.Stopped() {
//	    line, err := term.Prompt(sh.Prompt())
//	    ...
//	    sh.Exec(line)
//	}
//
// # Concurrency
//
// A [Shell] belongs to one goroutine. Commands that touch files hold the
// config service's file lock, so they are atomic with respect to config
// commits made elsewhere.
package shell
