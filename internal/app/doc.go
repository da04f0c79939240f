// Package app assembles a device from its parts and runs its main loop.
//
// The flash device is wrapped in a block cache when the board has one, the
// filesystem is mounted on top, and the config service, dynamic DNS client
// and console are built over that.
//
// # Basic Usage
//
//	a, err := app.New(app.Options{Board: b, Device: dev, Logger: log})
//	...
//	a.Start()
//	defer a.Close()
//	err = a.Serve(ctx, a.NewShell(term, os.Stdout), term)
//
// # Concurrency
//
// Loop and console commands run on the goroutine that calls [App.Serve].
// Only terminal reads happen elsewhere, so components see the same
// single-threaded schedule they would on the device.
package app
