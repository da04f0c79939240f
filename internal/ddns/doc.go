// Package ddns keeps a dynamic DNS record pointed at the device.
//
// The request is a CBOR map {hostname, password, ip4} posted as
// application/cbor. The reply is a CBOR array whose first element reports
// success; on failure the second element is a message for the log.
//
// # Basic Usage
//
//	c := ddns.New(store, ddns.Options{DeviceID: "a0b1c2d3e4f5", Address: addr})
//	for {
//	    c.Loop(time.Now())
//	    ...
//	}
//
// # Concurrency
//
// Loop starts at most one update goroutine and joins it on a later call once
// an atomic flag reports it finished. Loop, Published, Wait and Close belong
// to the caller's goroutine.
package ddns
