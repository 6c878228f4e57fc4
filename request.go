// Package nvsim implements a cycle-accurate simulator for a tiered NVRAM
// (non-volatile memory) subsystem: an address-indirection buffer and a
// read-modify-write buffer sit in front of a command-level DDR4 media
// model, driven by a monotonic integer clock one tick at a time.
//
// The simulator is timing-only: no data payload is modeled, only the
// latency and event counters a trace of reads and writes produces as it
// flows down through the component tree.
package nvsim

import "fmt"

// Clock is the simulator's monotonic tick counter.
type Clock int64

// InvalidClock is the sentinel for "unset / not yet known".
const InvalidClock Clock = -1

// Addr is a byte address in the system's flat logical address space.
type Addr uint64

// Kind distinguishes a read request from a write request.
type Kind uint8

const (
	Read Kind = iota
	Write
)

func (k Kind) String() string {
	if k == Write {
		return "W"
	}
	return "R"
}

// Callback is invoked with the completed address and completion clock
// when a request finishes asynchronously. Writes that are acknowledged
// synchronously may leave this nil.
type Callback func(addr Addr, clk Clock)

// Request is immutable after creation. It flows down the component tree
// from the router to whichever media leaf ultimately serves it.
type Request struct {
	Kind      Kind
	Addr      Addr
	ArriveClk Clock
	DepartClk Clock
	Callback  Callback

	// OrigAddr is the address as seen at the root of the tree, before
	// any component subtracted its configured start_addr to produce a
	// child-local address. Completion callbacks report this address
	// rather than the (possibly remapped) Addr a leaf ultimately saw,
	// so a caller several levels up the tree always recognizes its own
	// request. Set once at the root and carried unchanged thereafter.
	OrigAddr Addr
}

func (r *Request) String() string {
	return fmt.Sprintf("%s@0x%x[arrive=%d]", r.Kind, r.Addr, r.ArriveClk)
}

// Response is returned from IssueRequest.
//
//   - Accepted=false: the request was not taken; the sender must retry.
//   - Accepted=true, Deterministic=true: the request completes exactly
//     at NextClk.
//   - Accepted=true, Deterministic=false: completion is signaled later
//     via the request's Callback; NextClk is InvalidClock.
type Response struct {
	Accepted      bool
	Deterministic bool
	NextClk       Clock
}

// Rejected is the canonical back-pressure response.
var Rejected = Response{Accepted: false}

// deterministicAt builds an accepted, deterministic response.
func deterministicAt(clk Clock) Response {
	return Response{Accepted: true, Deterministic: true, NextClk: clk}
}

// deferred builds an accepted response whose completion arrives later
// via callback.
var deferred = Response{Accepted: true, Deterministic: false, NextClk: InvalidClock}
