package ddns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"
)

// Defaults.
const (
	RetryInterval  = time.Minute
	RequestTimeout = 30 * time.Second

	// maxResponse bounds how much of a reply body is read.
	maxResponse = 256

	contentType = "application/cbor"
)

// CBOR encoding details checked by hand.
const (
	majorText  = 3
	majorArray = 4
	indefinite = 31
	cborFalse  = 0xf4
	cborTrue   = 0xf5
)

// Credentials supplies the update endpoint. It is consulted on every Loop so
// configuration changes take effect without a restart. [*config.Store]
// satisfies it.
type Credentials interface {
	DDNSURL() string
	DDNSPassword() string
}

// Options configures a [Client].
type Options struct {
	// DeviceID is sent as the hostname: the MAC address without colons.
	DeviceID string

	// Address returns the current IPv4 address, or the zero Addr when the
	// network is down. Required.
	Address func() netip.Addr

	// HTTP performs the request. Default: a client with RequestTimeout
	// that does not follow redirects.
	HTTP *http.Client

	// RetryInterval is the minimum time between attempts. Default:
	// [RetryInterval].
	RetryInterval time.Duration

	// Logger receives progress messages. Default: no-op.
	Logger *zap.Logger
}

// Client publishes the device address to a dynamic DNS endpoint.
//
// Loop and Published must be called from the same goroutine. The update
// itself runs on a goroutine of its own.
type Client struct {
	creds Credentials
	opts  Options
	log   *zap.Logger
	enc   cbor.EncMode
	dec   cbor.DecMode

	running atomic.Bool
	done    chan struct{}
	result  netip.Addr // written by the update goroutine before done closes
	cancel  context.CancelFunc

	remote      netip.Addr
	lastAttempt time.Time
	attempted   bool
}

// New returns a client that reads its endpoint from creds.
func New(creds Credentials, opts Options) *Client {
	if creds == nil {
		panic("credentials are nil")
	}

	if opts.Address == nil {
		panic("address func is nil")
	}

	if opts.HTTP == nil {
		opts.HTTP = &http.Client{
			Timeout: RequestTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}

	if opts.RetryInterval <= 0 {
		opts.RetryInterval = RetryInterval
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	enc, err := cbor.EncOptions{Sort: cbor.SortCoreDeterministic}.EncMode()
	if err != nil {
		panic(err)
	}

	dec, err := cbor.DecOptions{IndefLength: cbor.IndefLengthForbidden}.DecMode()
	if err != nil {
		panic(err)
	}

	return &Client{
		creds: creds,
		opts:  opts,
		log:   opts.Logger,
		enc:   enc,
		dec:   dec,
	}
}

// Published returns the last address the endpoint accepted.
func (c *Client) Published() netip.Addr {
	return c.remote
}

// Running reports whether an update is in flight.
func (c *Client) Running() bool {
	return c.running.Load()
}

// Loop runs one iteration. It never blocks on the network.
func (c *Client) Loop(now time.Time) {
	if c.running.Load() {
		return
	}

	if c.done != nil {
		<-c.done
		c.done = nil
		c.cancel()

		if c.result.IsValid() {
			c.remote = c.result
		}

		c.lastAttempt = now
	}

	current := c.opts.Address()
	if !current.Is4() || current.IsUnspecified() || current == c.remote {
		return
	}

	if c.attempted && now.Sub(c.lastAttempt) <= c.opts.RetryInterval {
		return
	}

	c.attempted = true

	url := c.creds.DDNSURL()
	password := c.creds.DDNSPassword()

	if url == "" || password == "" {
		c.lastAttempt = now

		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.result = netip.Addr{}
	c.running.Store(true)

	go func() {
		defer close(done)
		defer c.running.Store(false)

		c.result = c.run(ctx, url, password, current)
	}()
}

// Wait blocks until the update in flight, if any, has finished. The result
// is picked up by the next Loop.
func (c *Client) Wait() {
	if c.done != nil {
		<-c.done
	}
}

// Close cancels the update in flight and waits for it.
func (c *Client) Close() {
	if c.done == nil {
		return
	}

	c.cancel()
	<-c.done
	c.done = nil
}

// run performs one update and returns the address on success.
func (c *Client) run(ctx context.Context, url, password string, addr netip.Addr) netip.Addr {
	c.log.Debug("Updating...", zap.Stringer("ip", addr))

	err := c.update(ctx, url, password, addr)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			c.log.Error("Error", zap.String("message", rejected.Message))
		} else {
			c.log.Debug("Update failed", zap.Error(err))
		}

		return netip.Addr{}
	}

	c.log.Info("Updated IP", zap.Stringer("ip", addr))

	return addr
}

type request struct {
	Hostname string `cbor:"hostname"`
	Password string `cbor:"password"`
	IP4      string `cbor:"ip4"`
}

func (c *Client) update(ctx context.Context, url, password string, addr netip.Addr) error {
	body, err := c.enc.Marshal(request{
		Hostname: c.opts.DeviceID,
		Password: password,
		IP4:      addr.String(),
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}

	req.Header.Set("Content-Type", contentType)

	resp, err := c.opts.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	return c.parse(reply)
}

// parse interprets a reply of the form [ok, message].
func (c *Client) parse(reply []byte) error {
	if len(reply) == 0 || reply[0]>>5 != majorArray || reply[0]&0x1f == indefinite {
		return fmt.Errorf("%w: response does not contain a definite length array", ErrResponse)
	}

	var items []cbor.RawMessage

	_, err := c.dec.UnmarshalFirst(reply, &items)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrResponse, err)
	}

	if len(items) == 0 {
		return fmt.Errorf("%w: response does not contain a result", ErrResponse)
	}

	if len(items[0]) != 1 || (items[0][0] != cborFalse && items[0][0] != cborTrue) {
		return fmt.Errorf("%w: result is not a boolean", ErrResponse)
	}

	if items[0][0] == cborTrue {
		return nil
	}

	var message string

	if len(items) < 2 || items[1][0]>>5 != majorText || c.dec.Unmarshal(items[1], &message) != nil {
		return fmt.Errorf("%w: message is not a string", ErrResponse)
	}

	return &RejectedError{Message: message}
}
