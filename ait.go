package nvsim

// aitBlockAddr rounds addr down to its containing 4096-B AIT block.
func aitBlockAddr(addr Addr) Addr { return addr &^ 0xfff }

// aitRMWBit returns the bit index (0-15) of the 256-B RMW block that
// addr falls into within its containing AIT block.
func aitRMWBit(addr Addr) uint {
	return uint((addr & 0xfff) >> 8)
}

type aitState uint8

const (
	aitInit aitState = iota
	aitPendingReadMedia
	aitPendingWriteMedia
	aitPendingReadDRAM
	aitPendingWriteDRAM
	aitPendingMigration
	aitEnd
)

type aitReqType uint8

const (
	aitReadHit aitReqType = iota
	aitReadMiss
	aitWriteHit
	aitWriteMiss
)

func (t aitReqType) isWrite() bool { return t == aitWriteHit || t == aitWriteMiss }

type aitPendingRequest struct {
	typ       aitReqType
	addr      Addr
	arriveClk Clock
}

// aitEntry is one 4096-B indirection-table buffer entry (§3.4).
type aitEntry struct {
	blockAddr Addr

	lastUsedClk            Clock
	nextActionClk          Clock
	pending                bool
	validToRead            bool
	dirty                  bool
	waitingActionClkUpdate bool
	evicting               bool

	rmwBitmap        uint16 // which contained 256-B RMW blocks were touched
	indirectionTable uint32 // write count, drives wear-leveling

	state          aitState
	pendingRequest aitPendingRequest

	// AIT entries never coalesce multiple in-flight LSQ requests (no
	// read patching, no write combining), so a single callback slot
	// suffices, unlike RMW's per-cache-line slots.
	callback     Callback
	callbackAddr Addr
}

func newAITEntry(a Addr) *aitEntry {
	return &aitEntry{
		blockAddr:     a,
		state:         aitEnd,
		nextActionClk: InvalidClock,
	}
}

// AITConfig holds the tunables read from the [ait] section of the
// config (§6.2).
type AITConfig struct {
	BufferEntries         int
	LSQEntries            int
	LMEMQEntries          int
	WearLevelingThreshold uint32
	MigrationBlockEntries int
	MigrationLatency      Clock
}

// AITController is the address-indirection buffer sitting between the
// RMW buffer and the DDR4 media controller (§4.3).
type AITController struct {
	name   string
	cfg    AITConfig
	buffer map[Addr]*aitEntry

	lsq   *Queue[*Request]
	lmemq *Queue[*lmemqJob]

	evicting  bool
	nextLevel Component
	counters  *Counters
}

func NewAITController(name string, cfg AITConfig, nextLevel Component) *AITController {
	return &AITController{
		name:      name,
		cfg:       cfg,
		buffer:    make(map[Addr]*aitEntry),
		lsq:       NewQueue[*Request](cfg.LSQEntries),
		lmemq:     NewQueue[*lmemqJob](cfg.LMEMQEntries),
		nextLevel: nextLevel,
		counters:  NewCounters("ait", name),
	}
}

func (c *AITController) Name() string { return c.name }

func (c *AITController) IssueRequest(req *Request) Response {
	if !c.lsq.Push(req) {
		return Rejected
	}
	return deferred
}

func (c *AITController) TickSelf(clk Clock) {
	c.lmemqProcess(clk)
	c.lsqProcess(clk)
	c.bufferAdvance(clk)
}

func (c *AITController) Children() []Component {
	if c.nextLevel == nil {
		return nil
	}
	return []Component{c.nextLevel}
}

func (c *AITController) Counters() *Counters { return c.counters }

func (c *AITController) lsqProcess(clk Clock) {
	head, ok := c.lsq.Front()
	if !ok {
		return
	}
	a := aitBlockAddr(head.Addr)
	e, exists := c.buffer[a]

	if head.Kind == Read {
		if exists && e.validToRead && !e.pending {
			c.assignNewRequest(e, aitReadHit, head.Addr, clk)
			c.registerCallback(e, head)
			c.counters.Inc("read_hit")
			c.lsq.Pop()
			return
		}
		if exists {
			return // mid-flight on another request; AIT does not patch reads
		}
		if !c.checkAndEvict(clk) {
			return
		}
		e = newAITEntry(a)
		c.buffer[a] = e
		c.assignNewRequest(e, aitReadMiss, head.Addr, clk)
		c.registerCallback(e, head)
		c.counters.Inc("read_miss")
		c.lsq.Pop()
		return
	}

	// Write.
	if exists && e.pending {
		return
	}
	if exists {
		c.assignNewRequest(e, aitWriteHit, head.Addr, clk)
		c.registerCallback(e, head)
		c.counters.Inc("write_hit")
		c.lsq.Pop()
		return
	}
	if !c.checkAndEvict(clk) {
		return
	}
	e = newAITEntry(a)
	c.buffer[a] = e
	c.assignNewRequest(e, aitWriteMiss, head.Addr, clk)
	c.registerCallback(e, head)
	c.counters.Inc("write_miss")
	c.lsq.Pop()
}

func (c *AITController) registerCallback(e *aitEntry, req *Request) {
	e.callback = req.Callback
	e.callbackAddr = req.OrigAddr
}

func (c *AITController) assignNewRequest(e *aitEntry, typ aitReqType, addr Addr, clk Clock) {
	if e.pending {
		Abort("nvsim: ait %s: assigning new request to still-pending entry 0x%x", c.name, e.blockAddr)
	}
	e.pending = true
	e.state = aitInit
	e.nextActionClk = clk
	e.lastUsedClk = clk
	e.pendingRequest = aitPendingRequest{typ: typ, addr: addr, arriveClk: clk}
	e.rmwBitmap |= 1 << aitRMWBit(addr)
	if typ.isWrite() {
		e.dirty = true
	}
}

// checkAndEvict ensures buffer has a free slot, evicting the LRU clean
// entry (or converting a dirty LRU victim in place into a write_hit
// write-back, mirroring RMW's flush_back in its checkAndEvict) if the
// buffer is already at capacity.
// Returns false while an eviction is still draining.
func (c *AITController) checkAndEvict(clk Clock) bool {
	if len(c.buffer) < c.cfg.BufferEntries {
		return true
	}
	if c.evicting {
		return false
	}

	var victim *aitEntry
	for _, e := range c.buffer {
		if e.pending || e.evicting {
			continue
		}
		if victim == nil || e.lastUsedClk < victim.lastUsedClk {
			victim = e
		}
	}
	if victim == nil {
		return false
	}

	if !victim.dirty {
		delete(c.buffer, victim.blockAddr)
		c.counters.Inc("eviction")
		return len(c.buffer) < c.cfg.BufferEntries
	}

	victim.evicting = true
	c.evicting = true
	c.assignNewRequest(victim, aitWriteHit, victim.blockAddr, clk)
	return false
}

func (c *AITController) issueToNextLevel(req *Request) Response {
	resp := c.nextLevel.IssueRequest(req)
	if !resp.Accepted {
		c.counters.Inc("next_level_issue_fail")
	}
	return resp
}

func (c *AITController) checkWearLeveling(e *aitEntry, clk Clock) {
	cnt := e.indirectionTable
	e.indirectionTable++
	if c.cfg.WearLevelingThreshold > 0 && (cnt+1)%c.cfg.WearLevelingThreshold == 0 {
		e.nextActionClk = clk + 1 + c.cfg.MigrationLatency*Clock(c.cfg.MigrationBlockEntries)
		c.counters.Inc("migration")
		return
	}
	e.nextActionClk = clk + 1
}

func (c *AITController) bufferAdvance(clk Clock) {
	for _, e := range c.buffer {
		if !e.pending || e.waitingActionClkUpdate {
			continue
		}
		if e.nextActionClk == InvalidClock {
			Abort("nvsim: ait %s: entry 0x%x reached bufferAdvance with no next_action_clk", c.name, e.blockAddr)
		}
		if clk < e.nextActionClk {
			continue
		}
		c.advanceEntry(e, clk)
	}
}

func (c *AITController) advanceEntry(e *aitEntry, clk Clock) {
	switch e.pendingRequest.typ {
	case aitReadHit:
		c.advanceReadDRAM(e, clk, aitEnd)
	case aitReadMiss:
		c.advanceReadMiss(e, clk)
	case aitWriteHit:
		c.advanceWriteDRAM(e, clk)
	case aitWriteMiss:
		c.advanceWriteMiss(e, clk)
	}
}

func (c *AITController) advanceReadMiss(e *aitEntry, clk Clock) {
	if e.state == aitInit {
		req := &Request{Kind: Read, Addr: e.blockAddr, ArriveClk: clk}
		e.state = aitPendingReadMedia
		c.issueMediaStep(e, req, clk)
		return
	}
	// aitPendingReadMedia (media round trip just completed): push the
	// LMEMQ job. aitPendingReadDRAM: the job has completed, finish up.
	// advanceReadDRAM itself distinguishes the two by entry state.
	c.advanceReadDRAM(e, clk, aitEnd)
}

func (c *AITController) advanceWriteMiss(e *aitEntry, clk Clock) {
	if e.state == aitInit {
		req := &Request{Kind: Write, Addr: e.blockAddr, ArriveClk: clk}
		e.state = aitPendingWriteMedia
		c.issueMediaStep(e, req, clk)
		return
	}
	// aitPendingWriteMedia, aitPendingWriteDRAM and aitPendingMigration
	// are all handled by advanceWriteDRAM's own state switch.
	c.advanceWriteDRAM(e, clk)
}

// issueMediaStep issues req to the DDR4 media and arranges for
// waitingActionClkUpdate to clear (and nextActionClk to advance) once it
// completes, whether that completion is deterministic or callback-based.
func (c *AITController) issueMediaStep(e *aitEntry, req *Request, clk Clock) {
	addr := e.blockAddr
	req.Callback = func(a Addr, completeClk Clock) {
		if owner, ok := c.buffer[addr]; ok {
			owner.waitingActionClkUpdate = false
			owner.nextActionClk = completeClk + 1
		}
	}
	resp := c.issueToNextLevel(req)
	if !resp.Accepted {
		e.state = aitInit // retry next tick by re-entering the issuing state on next pass
		e.nextActionClk = clk + 1
		return
	}
	if resp.Deterministic {
		e.nextActionClk = resp.NextClk
		return
	}
	e.waitingActionClkUpdate = true
}

// advanceReadDRAM drives the LMEMQ sub-request job that reads the
// cached metadata for e's block, then transitions to finish.
func (c *AITController) advanceReadDRAM(e *aitEntry, clk Clock, finish aitState) {
	if e.state != aitPendingReadDRAM {
		job := newLMEMQJob(e.blockAddr, Read, e.blockAddr)
		if !c.lmemq.Push(job) {
			e.nextActionClk = clk + 1
			c.counters.Inc("lmemq_full")
			return // state unchanged: retry the push next tick
		}
		e.state = aitPendingReadDRAM
		e.waitingActionClkUpdate = true
		return
	}
	e.validToRead = true
	e.pending = false
	e.state = finish
	c.fireCallback(e, clk)
}

func (c *AITController) advanceWriteDRAM(e *aitEntry, clk Clock) {
	switch e.state {
	case aitPendingMigration:
		c.advanceMigration(e, clk)
	case aitPendingWriteDRAM:
		e.state = aitPendingMigration
		c.checkWearLeveling(e, clk)
	default:
		job := newLMEMQJob(e.blockAddr, Write, e.blockAddr)
		if !c.lmemq.Push(job) {
			c.counters.Inc("lmemq_full")
			e.nextActionClk = clk + 1
			return // state unchanged: retry the push next tick, don't re-issue the media write
		}
		e.state = aitPendingWriteDRAM
		e.waitingActionClkUpdate = true
	}
}

func (c *AITController) advanceMigration(e *aitEntry, clk Clock) {
	e.validToRead = true
	e.pending = false
	e.dirty = false
	e.state = aitEnd
	if e.evicting {
		e.evicting = false
		c.evicting = false
		delete(c.buffer, e.blockAddr)
		c.counters.Inc("eviction")
	}
	c.fireCallback(e, clk)
}

func (c *AITController) fireCallback(e *aitEntry, clk Clock) {
	if e.callback != nil {
		e.callback(e.callbackAddr, clk)
	}
	e.callback = nil
}
