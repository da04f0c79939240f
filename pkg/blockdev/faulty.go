package blockdev

import (
	"errors"
	"fmt"
)

// ErrInjected is the default error returned by [Faulty] when a fault fires.
var ErrInjected = errors.New("blockdev: injected I/O error")

// Op identifies a device operation for fault injection.
type Op uint8

// Device operations.
const (
	OpRead Op = iota + 1
	OpProgram
	OpErase
	OpSync
)

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpProgram:
		return "program"
	case OpErase:
		return "erase"
	case OpSync:
		return "sync"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// InjectedError marks an error as intentionally injected by [Faulty].
//
// It wraps the underlying error so errors.Is/As continue to work.
type InjectedError struct {
	Op    Op
	Block uint32
	Err   error
}

// Error returns a message naming the operation and block.
func (e *InjectedError) Error() string {
	return fmt.Sprintf("%s block %d: %v", e.Op, e.Block, e.Err)
}

// Unwrap returns the underlying error.
func (e *InjectedError) Unwrap() error {
	return e.Err
}

// IsInjected reports whether err (or any wrapped error) was injected by
// [Faulty]. Returns false if err is nil.
func IsInjected(err error) bool {
	if err == nil {
		return false
	}

	var injected *InjectedError

	return errors.As(err, &injected)
}

// FaultFunc decides whether an operation fails. It returns nil to let the
// operation through, or the error to inject.
type FaultFunc func(op Op, block, off uint32, n int) error

// Faulty wraps a device and fails selected operations.
//
// The zero set of rules passes everything through. Rules are checked before
// the inner device is touched, so a failed program or erase leaves the
// medium unchanged.
type Faulty struct {
	inner Device
	rules []FaultFunc
	calls map[Op]int
}

// NewFaulty wraps inner. Panics if inner is nil.
func NewFaulty(inner Device) *Faulty {
	if inner == nil {
		panic("inner device is nil")
	}

	return &Faulty{inner: inner, calls: make(map[Op]int)}
}

// Inject adds a rule. Rules are evaluated in insertion order; the first
// non-nil error wins.
func (f *Faulty) Inject(rule FaultFunc) {
	f.rules = append(f.rules, rule)
}

// Reset removes all rules.
func (f *Faulty) Reset() {
	f.rules = nil
}

// Calls returns how many times op reached the wrapper.
func (f *Faulty) Calls(op Op) int {
	return f.calls[op]
}

// FailBlock fails every op on block.
func FailBlock(op Op, block uint32) FaultFunc {
	return func(o Op, b, _ uint32, _ int) error {
		if o == op && b == block {
			return ErrInjected
		}

		return nil
	}
}

// FailAfter lets n matching operations through and fails every one after.
func FailAfter(op Op, n int) FaultFunc {
	seen := 0

	return func(o Op, _, _ uint32, _ int) error {
		if o != op {
			return nil
		}

		seen++
		if seen > n {
			return ErrInjected
		}

		return nil
	}
}

// FailAll fails every op.
func FailAll(op Op) FaultFunc {
	return func(o Op, _, _ uint32, _ int) error {
		if o == op {
			return ErrInjected
		}

		return nil
	}
}

func (f *Faulty) check(op Op, block, off uint32, n int) error {
	f.calls[op]++

	for _, rule := range f.rules {
		if err := rule(op, block, off, n); err != nil {
			return &InjectedError{Op: op, Block: block, Err: err}
		}
	}

	return nil
}

// ReadBlock implements [Device].
func (f *Faulty) ReadBlock(block, off uint32, buf []byte) error {
	if err := f.check(OpRead, block, off, len(buf)); err != nil {
		return err
	}

	return f.inner.ReadBlock(block, off, buf)
}

// ProgramBlock implements [Device].
func (f *Faulty) ProgramBlock(block, off uint32, buf []byte) error {
	if err := f.check(OpProgram, block, off, len(buf)); err != nil {
		return err
	}

	return f.inner.ProgramBlock(block, off, buf)
}

// EraseBlock implements [Device].
func (f *Faulty) EraseBlock(block uint32) error {
	if err := f.check(OpErase, block, 0, 0); err != nil {
		return err
	}

	return f.inner.EraseBlock(block)
}

// Sync implements [Device].
func (f *Faulty) Sync() error {
	if err := f.check(OpSync, 0, 0, 0); err != nil {
		return err
	}

	return f.inner.Sync()
}

var _ Device = (*Faulty)(nil)
