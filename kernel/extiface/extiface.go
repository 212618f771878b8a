// Package extiface names the external interface contracts this kernel
// consumes from outside its own core packages: a byte-sink console and
// a block I/O request, both listed in the boundary's EXTERNAL
// INTERFACES section. Neither has a concrete driver in this port (no
// serial TTY, no disk controller); this package exists so the contract
// itself — what a console or a block driver must satisfy — has a home
// independent of any one implementation, the same role
// driver/tty.Tty played before the display console it was built for
// was dropped (see DESIGN.md).
package extiface

import (
	"io"

	"almos/kernel/completion"
)

// Console is the minimal byte sink a TSAR serial line satisfies — the
// Go analogue of driver/tty.Tty trimmed to what a serial TTY actually
// has: no cursor position, no screen to clear, since those are
// display-console concepts a kernel log stream or ksh session over a
// serial link doesn't have.
type Console interface {
	io.Writer
	io.ByteWriter
}

// BlockFlag is a bit in a BlockRequest's Flags, the Go analogue of the
// request struct's flags bit-set.
type BlockFlag uint

const (
	// BlockNoBlock asks the driver to fail with EAGAIN rather than
	// queue the request if it cannot start immediately.
	BlockNoBlock BlockFlag = 1 << iota
)

// BlockRequest is the Go analogue of the block I/O request contract a
// driver consumes: a source LBA range, a destination buffer, and a
// completion the driver signals once service finishes — standing in
// for waking the waiter directly or posting an event to the
// originator's CPU, both of which this port already expresses as
// completion.Completion.Signal.
type BlockRequest struct {
	SrcLBA uint64
	Dst    []byte
	Count  uint
	Flags  BlockFlag

	Done *completion.Completion
}

// NewBlockRequest builds a request ready to submit to a BlockDriver.
func NewBlockRequest(srcLBA uint64, dst []byte, count uint, flags BlockFlag) *BlockRequest {
	return &BlockRequest{
		SrcLBA: srcLBA,
		Dst:    dst,
		Count:  count,
		Flags:  flags,
		Done:   completion.New(),
	}
}

// BlockDriver is implemented by a block device: Submit enqueues req and
// returns once it has been accepted (not once it has completed — the
// caller waits on req.Done for that, the Go analogue of sched_sleep
// plus the driver's wakeup_one/E_BLK completion signal).
type BlockDriver interface {
	Submit(req *BlockRequest) error
}
