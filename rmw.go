package nvsim

// RMW block addressing: logical address with low 8 bits cleared
// (256-B alignment), per §3.1. Cache-line index is the 2 bits selecting
// one of four 64-B lines within the block.
func rmwBlockAddr(a Addr) Addr { return a &^ 0xFF }
func rmwCLIndex(a Addr) int    { return int((a >> 6) & 0x3) }

type rmwState int

const (
	rmwInit rmwState = iota
	rmwPendingRead
	rmwPendingModify
	rmwPendingWrite
	rmwPendingReadout
	rmwPendingAitR
	rmwPendingAitW
	rmwEnd
)

type rmwReqType int

const (
	rmwReadCold rmwReqType = iota
	rmwReadFF
	rmwWriteRMW
	rmwWriteComb
	rmwWritePatch
	rmwFlushBack
)

func (t rmwReqType) isWrite() bool {
	return t == rmwWriteRMW || t == rmwWriteComb || t == rmwWritePatch || t == rmwFlushBack
}

// rmwPendingRequest is the §3.2-shaped request currently driving an
// entry's state machine.
type rmwPendingRequest struct {
	typ       rmwReqType
	logicalAddr Addr
	arriveClk Clock
}

// rmwEntry is one 256-B RMW buffer entry, keyed by block address. Field
// names follow §3.3 verbatim.
type rmwEntry struct {
	blockAddr Addr

	lastUsedClk   Clock
	nextActionClk Clock

	pending                bool
	validToRead            bool
	dirty                  bool
	waitingActionClkUpdate bool

	clBitmap uint8 // 4 bits: which cache lines were dirtied this request

	callbacks     [4]Callback
	callbackAddrs [4]Addr
	cbBitmap      uint8

	pendingReqClIndex []int // FIFO of cl indices awaiting readout

	pendingRequest rmwPendingRequest
	state          rmwState
}

// roqEntry is a completed read waiting out its deterministic depart
// clock in the ROQ (§3.6).
type roqEntry struct {
	departClk Clock
	addr      Addr
	cb        Callback
}

// RMWController implements §4.2: the 256-B read-modify-write buffer
// fronting persistent media, with write combining, write patching, read
// fast-forwarding and LRU eviction.
type RMWController struct {
	name string

	capacity int
	buffer   map[Addr]*rmwEntry

	lsq *Queue[*Request]
	roq *Queue[*roqEntry]

	evicting bool

	nextLevel   Component // AIT: indirection round-trip
	localMedia  Component // persistent media this buffer fronts

	aitToRmwLatency Clock
	rmwToAitLatency Clock

	children []Component
	counters *Counters
}

// RMWConfig holds the construction-time parameters for an RMWController,
// drawn from the component's config section (§6.2).
type RMWConfig struct {
	BufferEntries   int
	LSQEntries      int
	ROQEntries      int
	AitToRmwLatency Clock
	RmwToAitLatency Clock
}

// NewRMWController builds an RMW controller fronting localMedia (its
// persistent data store) and routing indirection/metadata traffic to
// nextLevel (the AIT controller).
func NewRMWController(name string, cfg RMWConfig, nextLevel, localMedia Component) *RMWController {
	return &RMWController{
		name:            name,
		capacity:        cfg.BufferEntries,
		buffer:          make(map[Addr]*rmwEntry),
		lsq:             NewQueue[*Request](cfg.LSQEntries),
		roq:             NewQueue[*roqEntry](cfg.ROQEntries),
		nextLevel:       nextLevel,
		localMedia:      localMedia,
		aitToRmwLatency: cfg.AitToRmwLatency,
		rmwToAitLatency: cfg.RmwToAitLatency,
		children:        []Component{nextLevel, localMedia},
		counters:        NewCounters("rmw", name),
	}
}

func (c *RMWController) Name() string            { return c.name }
func (c *RMWController) Children() []Component   { return c.children }
func (c *RMWController) Counters() *Counters     { return c.counters }

// IssueRequest enqueues onto the LSQ and returns immediately; per §4.2.1
// this never completes synchronously.
func (c *RMWController) IssueRequest(req *Request) Response {
	if !c.lsq.Push(req) {
		return Rejected
	}
	return deferred
}

// DrainCurrent flips every dirty entry sitting in state end back to
// init as a flush_back request; the ordinary tick loop then flushes
// each back to the media. Per the design notes this does not reject new
// IssueRequest calls after draining.
func (c *RMWController) DrainCurrent() {
	for _, e := range c.buffer {
		if e.state == rmwEnd && e.dirty {
			e.pendingRequest = rmwPendingRequest{typ: rmwFlushBack, logicalAddr: e.blockAddr}
			e.state = rmwInit
			e.pending = true
		}
	}
}

// TickSelf runs the §4.2.1 per-cycle order: ROQ drain, then LSQ
// processing, then internal buffer state-machine advance.
func (c *RMWController) TickSelf(clk Clock) {
	c.roqDrain(clk)
	c.lsqProcess(clk)
	c.bufferAdvance(clk)
}

func (c *RMWController) roqDrain(clk Clock) {
	for {
		head, ok := c.roq.Front()
		if !ok || head.departClk > clk {
			return
		}
		c.roq.Pop()
		if head.cb != nil {
			head.cb(head.addr, clk)
		}
	}
}

// --- LSQ processing (§4.2.3) ---

func (c *RMWController) lsqProcess(clk Clock) {
	head, ok := c.lsq.Front()
	if !ok {
		return
	}
	if head.Kind == Read {
		c.processReadHead(head, clk)
	} else {
		c.processWriteHead(head, clk)
	}
}

func (c *RMWController) processReadHead(req *Request, clk Clock) {
	a := rmwBlockAddr(req.Addr)
	i := rmwCLIndex(req.Addr)

	e, exists := c.buffer[a]
	if !exists {
		if !c.checkAndEvict(clk) {
			return
		}
		e = &rmwEntry{blockAddr: a, state: rmwEnd}
		c.buffer[a] = e
		c.assignNewRequest(e, rmwReadCold, req.Addr, clk)
		e.pendingReqClIndex = append(e.pendingReqClIndex, i)
		c.registerCallback(e, i, req)
		c.counters.Inc("read_access")
		c.counters.Inc("read_cold")
		c.lsq.Pop()
		return
	}

	if (e.pendingRequest.typ == rmwReadCold || e.pendingRequest.typ == rmwReadFF) &&
		len(e.pendingReqClIndex) < 4 && e.cbBitmap&(1<<uint(i)) == 0 {
		e.pendingReqClIndex = append(e.pendingReqClIndex, i)
		c.registerCallback(e, i, req)
		c.counters.Inc("read_access")
		c.counters.Inc("read_patch")
		c.lsq.Pop()
		return
	}

	if e.validToRead && !e.pending {
		c.assignNewRequest(e, rmwReadFF, req.Addr, clk)
		e.pendingReqClIndex = append(e.pendingReqClIndex, i)
		c.registerCallback(e, i, req)
		c.counters.Inc("read_access")
		c.counters.Inc("read_ff")
		c.lsq.Pop()
		return
	}
	// Else: LSQ stalls on this head.
}

// registerCallback records the original caller's completion callback at
// cache-line slot i. The caller is responsible for queuing i onto
// pendingReqClIndex.
func (c *RMWController) registerCallback(e *rmwEntry, i int, req *Request) {
	e.callbacks[i] = req.Callback
	e.callbackAddrs[i] = req.OrigAddr
	e.cbBitmap |= 1 << uint(i)
}

func (c *RMWController) processWriteHead(head *Request, clk Clock) {
	a := rmwBlockAddr(head.Addr)

	e, exists := c.buffer[a]
	if exists && (e.state == rmwPendingRead || e.state == rmwPendingModify) {
		e.clBitmap |= 1 << uint(rmwCLIndex(head.Addr))
		c.counters.Inc("patch_rmw")
		c.counters.Inc("write_access")
		c.lsq.Pop()
		return
	}
	if exists && e.pending {
		// Entry is mid-flight on an unrelated request outside the
		// patch_rmw window (e.g. still draining a read_cold); stall
		// until it settles.
		return
	}

	fresh := !exists
	if fresh {
		if !c.checkAndEvict(clk) {
			return
		}
	}

	combined := uint8(1 << uint(rmwCLIndex(head.Addr)))
	matched := []int{0}
	for idx := 1; idx < c.lsq.Len(); idx++ {
		r, _ := c.lsq.At(idx)
		if rmwBlockAddr(r.Addr) != a {
			continue
		}
		if r.Kind == Read {
			break
		}
		combined |= 1 << uint(rmwCLIndex(r.Addr))
		matched = append(matched, idx)
	}

	var typ rmwReqType
	switch {
	case combined == 0xF:
		typ = rmwWriteComb
	case fresh:
		typ = rmwWriteRMW
	default:
		typ = rmwWritePatch
	}

	if fresh {
		e = &rmwEntry{blockAddr: a, state: rmwEnd}
		c.buffer[a] = e
	}
	c.assignNewRequest(e, typ, head.Addr, clk)
	e.clBitmap = combined
	e.dirty = true

	for k := len(matched) - 1; k >= 0; k-- {
		c.lsq.RemoveAt(matched[k])
	}

	switch typ {
	case rmwWriteComb:
		c.counters.Inc("write_comb")
	case rmwWritePatch:
		c.counters.Inc("write_patch")
	case rmwWriteRMW:
		c.counters.Inc("write_rmw")
	}
	c.counters.Inc("write_access")
}

// --- Eviction (§4.2.4) ---

func (c *RMWController) checkAndEvict(clk Clock) bool {
	if len(c.buffer) < c.capacity {
		return true
	}
	if c.evicting {
		return false
	}

	var victim *rmwEntry
	var victimAddr Addr
	found := false
	for addr, e := range c.buffer {
		if e.state != rmwEnd {
			continue
		}
		if !found || e.lastUsedClk < victim.lastUsedClk {
			victim, victimAddr, found = e, addr, true
		}
	}
	if !found {
		return false
	}

	if victim.dirty {
		victim.pendingRequest = rmwPendingRequest{typ: rmwFlushBack, logicalAddr: victim.blockAddr}
		victim.state = rmwInit
		victim.pending = true
		c.evicting = true
		return false
	}

	delete(c.buffer, victimAddr)
	c.counters.Inc("eviction")
	return true
}

// --- Buffer state advance (§4.2.5/§4.2.6) ---

func (c *RMWController) assignNewRequest(e *rmwEntry, typ rmwReqType, addr Addr, clk Clock) {
	if e.pending {
		Abort("nvsim: rmw assign_new_request on still-pending entry 0x%x", e.blockAddr)
	}
	e.pendingRequest = rmwPendingRequest{typ: typ, logicalAddr: addr, arriveClk: clk}
	e.clBitmap = 0
	e.cbBitmap = 0
	e.pendingReqClIndex = e.pendingReqClIndex[:0]
	e.pending = true
	e.state = rmwInit
	e.waitingActionClkUpdate = false
	e.nextActionClk = clk
	e.lastUsedClk = clk
}

func (c *RMWController) nextLevelCallback(blockAddr Addr) Callback {
	return func(addr Addr, clk Clock) {
		e, ok := c.buffer[blockAddr]
		if !ok {
			return
		}
		e.waitingActionClkUpdate = false
		e.nextActionClk = clk + 1
	}
}

func (c *RMWController) issueToNextLevel(e *rmwEntry, kind Kind, clk Clock) bool {
	req := &Request{Kind: kind, Addr: e.blockAddr, ArriveClk: clk, Callback: c.nextLevelCallback(e.blockAddr)}
	resp := c.nextLevel.IssueRequest(req)
	if !resp.Accepted {
		c.counters.Inc("next_level_issue_fail")
		return false
	}
	if resp.Deterministic {
		e.waitingActionClkUpdate = false
		e.nextActionClk = resp.NextClk + 1
	} else {
		e.waitingActionClkUpdate = true
		e.nextActionClk = InvalidClock
	}
	return true
}

func (c *RMWController) issueToLocalMedia(e *rmwEntry, kind Kind, clk Clock) bool {
	req := &Request{Kind: kind, Addr: e.blockAddr, ArriveClk: clk, Callback: c.nextLevelCallback(e.blockAddr)}
	resp := c.localMedia.IssueRequest(req)
	if !resp.Accepted {
		c.counters.Inc("local_memory_issue_fail")
		return false
	}
	if resp.Deterministic {
		e.waitingActionClkUpdate = false
		e.nextActionClk = resp.NextClk + 1
	} else {
		e.waitingActionClkUpdate = true
		e.nextActionClk = InvalidClock
	}
	return true
}

func (c *RMWController) waitLocal(e *rmwEntry, latency Clock, clk Clock, next rmwState) {
	e.state = next
	e.waitingActionClkUpdate = false
	e.nextActionClk = clk + latency
}

// bufferAdvance runs each entry's handler when gated per §4.2.6: state
// init always runs; otherwise the entry must be pending, not awaiting an
// external callback, and due. Iteration order over entries is
// unspecified (map order) and must not be depended upon.
func (c *RMWController) bufferAdvance(clk Clock) {
	for _, e := range c.buffer {
		if e.state != rmwInit {
			if !e.pending || e.waitingActionClkUpdate {
				continue
			}
			if e.nextActionClk == InvalidClock {
				Abort("nvsim: rmw entry 0x%x reached state-advance with invalid next_action_clk", e.blockAddr)
			}
			if e.nextActionClk > clk {
				continue
			}
		}
		c.advanceEntry(e, clk)
	}
}

func (c *RMWController) advanceEntry(e *rmwEntry, clk Clock) {
	switch e.pendingRequest.typ {
	case rmwWriteRMW:
		c.advanceWriteRMW(e, clk)
	case rmwWriteComb, rmwWritePatch:
		c.advanceWriteComb(e, clk)
	case rmwFlushBack:
		c.advanceFlushBack(e, clk)
	case rmwReadCold:
		c.advanceReadCold(e, clk)
	case rmwReadFF:
		c.advanceReadFF(e, clk)
	}
}

func (c *RMWController) advanceWriteRMW(e *rmwEntry, clk Clock) {
	switch e.state {
	case rmwInit:
		if c.issueToNextLevel(e, Read, clk) {
			e.state = rmwPendingAitR
			e.pending = true
		}
	case rmwPendingAitR:
		c.waitLocal(e, c.aitToRmwLatency, clk, rmwPendingRead)
	case rmwPendingRead:
		if c.issueToLocalMedia(e, Write, clk) {
			e.state = rmwPendingAitW
		}
	case rmwPendingAitW:
		c.waitLocal(e, c.rmwToAitLatency, clk, rmwPendingModify)
	case rmwPendingModify:
		if c.issueToNextLevel(e, Write, clk) {
			e.state = rmwPendingWrite
			e.validToRead = true
			e.waitingActionClkUpdate = false
			e.nextActionClk = clk + 1
		}
	case rmwPendingWrite:
		e.state = rmwEnd
		e.dirty = false
		e.pending = false
	}
}

func (c *RMWController) advanceWriteComb(e *rmwEntry, clk Clock) {
	switch e.state {
	case rmwInit:
		if c.issueToLocalMedia(e, Write, clk) {
			e.state = rmwPendingAitW
		}
	case rmwPendingAitW:
		c.waitLocal(e, c.rmwToAitLatency, clk, rmwPendingModify)
	case rmwPendingModify:
		if c.issueToNextLevel(e, Write, clk) {
			e.state = rmwPendingWrite
			e.validToRead = true
			e.waitingActionClkUpdate = false
			e.nextActionClk = clk + 1
		}
	case rmwPendingWrite:
		e.state = rmwEnd
		e.dirty = false
		e.pending = false
	}
}

func (c *RMWController) advanceFlushBack(e *rmwEntry, clk Clock) {
	switch e.state {
	case rmwInit:
		if c.issueToNextLevel(e, Write, clk) {
			e.state = rmwPendingAitW
		}
	case rmwPendingAitW:
		c.waitLocal(e, c.rmwToAitLatency, clk, rmwPendingWrite)
	case rmwPendingWrite:
		e.state = rmwEnd
		e.dirty = false
		e.pending = false
		c.evicting = false
		c.counters.Inc("flush_back")
	}
}

func (c *RMWController) advanceReadCold(e *rmwEntry, clk Clock) {
	switch e.state {
	case rmwInit:
		if c.issueToNextLevel(e, Read, clk) {
			e.state = rmwPendingAitR
			e.pending = true
		}
	case rmwPendingAitR:
		c.waitLocal(e, c.aitToRmwLatency, clk, rmwPendingRead)
	case rmwPendingRead:
		if c.issueToLocalMedia(e, Read, clk) {
			e.state = rmwPendingReadout
		}
	case rmwPendingReadout:
		c.readout(e, clk, rmwPendingRead)
	}
}

func (c *RMWController) advanceReadFF(e *rmwEntry, clk Clock) {
	switch e.state {
	case rmwInit:
		if c.issueToLocalMedia(e, Read, clk) {
			e.state = rmwPendingReadout
			e.pending = true
		}
	case rmwPendingReadout:
		c.readout(e, clk, rmwInit)
	}
}

// readout pops the oldest queued cache-line index, pushes its
// completion onto the ROQ, and either re-enters reissueState (if more
// indices remain queued) or ends. The reissue target differs between
// read_cold (pending_read) and read_ff (init) — asymmetric and
// intentional per the design notes.
func (c *RMWController) readout(e *rmwEntry, clk Clock, reissueState rmwState) {
	if len(e.pendingReqClIndex) == 0 {
		e.state = rmwEnd
		e.pending = false
		return
	}
	i := e.pendingReqClIndex[0]
	e.pendingReqClIndex = e.pendingReqClIndex[1:]

	if !c.roq.Push(&roqEntry{departClk: clk + 1, addr: e.callbackAddrs[i], cb: e.callbacks[i]}) {
		c.counters.Inc("roq_full")
		// put the index back; retry next tick
		e.pendingReqClIndex = append([]int{i}, e.pendingReqClIndex...)
		return
	}
	e.callbacks[i] = nil
	e.cbBitmap &^= 1 << uint(i)

	if len(e.pendingReqClIndex) > 0 {
		e.state = reissueState
		e.waitingActionClkUpdate = false
		e.nextActionClk = clk + 1
	} else {
		e.state = rmwEnd
		e.pending = false
	}
}
