package nvsim

// ddr4Addr decomposes a logical address into the rank/bank/row
// coordinates the hierarchy decodes against. The exact bit split is an
// internal addressing convention (not specified by the command-timing
// model itself): low bits select column/cache-line, the next select
// bank, the next select rank, and the remainder is the row id.
type ddr4Addr struct {
	rank int
	bank int
	row  int
}

func (c *DDR4Controller) decomposeAddr(addr Addr) ddr4Addr {
	a := uint64(addr) >> 6 // 64-B cache-line granularity
	bank := 0
	if c.cfg.NumBanks > 0 {
		bank = int(a % uint64(c.cfg.NumBanks))
		a /= uint64(c.cfg.NumBanks)
	}
	rank := 0
	if c.cfg.NumRanks > 0 {
		rank = int(a % uint64(c.cfg.NumRanks))
		a /= uint64(c.cfg.NumRanks)
	}
	return ddr4Addr{rank: rank, bank: bank, row: int(a)}
}

type ddr4QueueEntry struct {
	req       *Request
	addr      ddr4Addr
	arriveClk Clock

	// miscTarget is the command a misc_queue entry ultimately wants
	// issued: REF for periodic refresh, PDE/SRE for a power-management
	// entry request. Unused by the act/read/write queues.
	miscTarget ddr4Command
}

type ddr4PendingEntry struct {
	departClk Clock
	addr      Addr
	cb        Callback
}

// DDR4Config holds a component's construction-time parameters, drawn
// from its config section (§6.2).
type DDR4Config struct {
	NumRanks int
	NumBanks int
	Timing   DDR4Timing

	ActQueueCap     int
	MiscQueueCap    int
	ReadQueueCap    int
	WriteQueueCap   int
	PendingQueueCap int

	ReadLatency Clock

	// PowerDownIdleTicks/SelfRefreshIdleTicks, when nonzero, make an
	// otherwise-idle rank (all four queues empty) enter power-down or
	// self-refresh after that many consecutive idle ticks. Zero disables
	// the corresponding entry policy, matching how ADREpoch==0 disables
	// IMC's ADR flush.
	PowerDownIdleTicks   Clock
	SelfRefreshIdleTicks Clock
}

// DDR4Controller implements §4.4: command-level DDR4 media timing atop
// a rank/bank hierarchy, with FR-FCFS-ish arbitration, write-priority
// mode, periodic refresh, and write-to-read fast-forwarding.
type DDR4Controller struct {
	name string
	cfg  DDR4Config

	table timingTable
	ranks []*hierarchyNode

	act, misc, read, write *Queue[*ddr4QueueEntry]
	pending                *Queue[*ddr4PendingEntry]

	writePriority    bool
	lastRefreshedClk Clock

	idleTicks       Clock
	pendingPowerReq []bool // per-rank: a PDE/SRE entry is already queued or in flight

	counters *Counters
}

func NewDDR4Controller(name string, cfg DDR4Config) *DDR4Controller {
	if cfg.Timing == (DDR4Timing{}) {
		cfg.Timing = defaultDDR4Timing()
	}
	if cfg.NumRanks <= 0 {
		cfg.NumRanks = 1
	}
	if cfg.NumBanks <= 0 {
		cfg.NumBanks = 1
	}

	c := &DDR4Controller{
		name:     name,
		cfg:      cfg,
		table:    buildTimingTable(cfg.Timing),
		act:      NewQueue[*ddr4QueueEntry](cfg.ActQueueCap),
		misc:     NewQueue[*ddr4QueueEntry](cfg.MiscQueueCap),
		read:     NewQueue[*ddr4QueueEntry](cfg.ReadQueueCap),
		write:    NewQueue[*ddr4QueueEntry](cfg.WriteQueueCap),
		pending:  NewQueue[*ddr4PendingEntry](cfg.PendingQueueCap),
		counters: NewCounters("ddr4", name),
	}
	for r := 0; r < cfg.NumRanks; r++ {
		rankNode := newHierarchyNode(levelRank)
		for b := 0; b < cfg.NumBanks; b++ {
			bankNode := newHierarchyNode(levelBank)
			bankNode.state = stateClosed
			bankNode.parent = rankNode
			rankNode.children = append(rankNode.children, bankNode)
		}
		c.ranks = append(c.ranks, rankNode)
	}
	c.pendingPowerReq = make([]bool, cfg.NumRanks)
	return c
}

func (c *DDR4Controller) Name() string          { return c.name }
func (c *DDR4Controller) Children() []Component { return nil }
func (c *DDR4Controller) Counters() *Counters   { return c.counters }

func (c *DDR4Controller) IssueRequest(req *Request) Response {
	a := c.decomposeAddr(req.Addr)
	e := &ddr4QueueEntry{req: req, addr: a, arriveClk: req.ArriveClk}
	if req.Kind == Read {
		if c.fastForward(e, req.ArriveClk) {
			return deferred
		}
		if !c.read.Push(e) {
			return Rejected
		}
		c.counters.Inc("read_access")
		return deferred
	}
	if !c.write.Push(e) {
		return Rejected
	}
	c.counters.Inc("write_access")
	return deferred
}

// fastForward implements §4.4.5: a newly-enqueued read that hits an
// address still sitting in the write queue is served directly by the
// pending store, bypassing the command pipeline entirely.
func (c *DDR4Controller) fastForward(e *ddr4QueueEntry, clk Clock) bool {
	for i := 0; i < c.write.Len(); i++ {
		w, _ := c.write.At(i)
		if w.req.Addr != e.req.Addr {
			continue
		}
		c.pending.MustPushOrAbort(&ddr4PendingEntry{
			departClk: clk + 1,
			addr:      e.req.OrigAddr,
			cb:        e.req.Callback,
		}, "ddr4 pending_queue")
		c.counters.Inc("fast_forward")
		return true
	}
	return false
}

func (c *DDR4Controller) TickSelf(clk Clock) {
	c.drainPending(clk)
	c.maybeInjectRefresh(clk)
	c.maybeInjectPowerState(clk)
	c.arbitrateAndIssue(clk)
}

func (c *DDR4Controller) drainPending(clk Clock) {
	for {
		head, ok := c.pending.Front()
		if !ok || head.departClk > clk {
			return
		}
		c.pending.Pop()
		if head.cb != nil {
			head.cb(head.addr, clk)
		}
	}
}

func (c *DDR4Controller) maybeInjectRefresh(clk Clock) {
	if clk-c.lastRefreshedClk < c.cfg.Timing.NREFI {
		return
	}
	c.lastRefreshedClk = clk
	for r := range c.ranks {
		entry := &ddr4QueueEntry{addr: ddr4Addr{rank: r}, arriveClk: clk, miscTarget: cmdREF}
		if !c.misc.Push(entry) {
			c.counters.Inc("misc_queue_full")
		}
	}
}

// maybeInjectPowerState drives the §3.5 power-down/self-refresh entry
// policy: an otherwise-idle rank (all four queues empty) enters
// power-down, then self-refresh, after the configured number of
// consecutive idle ticks. Neither threshold has a natural counterpart in
// the command-timing model itself (only refresh is periodic); this is a
// request-rate policy layered on top of it, gated off by default
// (PowerDownIdleTicks/SelfRefreshIdleTicks == 0).
func (c *DDR4Controller) maybeInjectPowerState(clk Clock) {
	if c.cfg.PowerDownIdleTicks == 0 && c.cfg.SelfRefreshIdleTicks == 0 {
		return
	}
	if !c.act.Empty() || !c.misc.Empty() || !c.read.Empty() || !c.write.Empty() {
		c.idleTicks = 0
		return
	}
	c.idleTicks++

	for r, rank := range c.ranks {
		if c.pendingPowerReq[r] {
			continue
		}
		var target ddr4Command
		switch {
		case c.cfg.SelfRefreshIdleTicks > 0 && c.idleTicks >= c.cfg.SelfRefreshIdleTicks:
			if rank.state == stateSelfRefresh {
				continue
			}
			target = cmdSRE
		case c.cfg.PowerDownIdleTicks > 0 && c.idleTicks >= c.cfg.PowerDownIdleTicks:
			if rank.state == statePrePwrDown || rank.state == stateActPwrDown || rank.state == stateSelfRefresh {
				continue
			}
			target = cmdPDE
		default:
			continue
		}
		entry := &ddr4QueueEntry{addr: ddr4Addr{rank: r}, arriveClk: clk, miscTarget: target}
		if c.misc.Push(entry) {
			c.pendingPowerReq[r] = true
		} else {
			c.counters.Inc("misc_queue_full")
		}
	}
}

func (c *DDR4Controller) arbitrateAndIssue(clk Clock) {
	switch {
	case !c.act.Empty():
		c.issueHead(c.act, clk)
	case !c.misc.Empty():
		c.issueHead(c.misc, clk)
	default:
		c.updateWritePriority()
		if c.writePriority && !c.write.Empty() {
			c.issueHead(c.write, clk)
		} else if !c.read.Empty() {
			c.issueHead(c.read, clk)
		} else if !c.write.Empty() {
			c.issueHead(c.write, clk)
		}
	}
}

// updateWritePriority: enter write-priority when the read queue is
// empty or the write head arrived before the read head; exit otherwise.
func (c *DDR4Controller) updateWritePriority() {
	was := c.writePriority
	switch {
	case c.write.Empty():
		c.writePriority = false
	case c.read.Empty():
		c.writePriority = true
	default:
		wHead, _ := c.write.Front()
		rHead, _ := c.read.Front()
		c.writePriority = wHead.arriveClk < rHead.arriveClk
	}
	if c.writePriority && !was {
		c.counters.Inc("write_priority_enter")
	} else if was && !c.writePriority {
		c.counters.Inc("write_priority_exit")
	}
}

func (c *DDR4Controller) issueHead(q *Queue[*ddr4QueueEntry], clk Clock) {
	head, ok := q.Front()
	if !ok {
		return
	}

	target := c.targetCommand(head, q)
	cmd, node := c.decode(head.addr, target, clk)
	if !c.check(head.addr, cmd, clk) {
		return
	}
	c.issue(head.addr, cmd, clk)
	c.counters.Inc(cmd.String())

	switch cmd {
	case cmdACT:
		node.state = stateOpened
		node.openRow = head.addr.row
		q.Pop()
		c.act.MustPushOrAbort(head, "ddr4 act_queue")
	case cmdPRE, cmdPREA:
		node.state = stateClosed
	case cmdSRX:
		node.state = statePwrUp
	case cmdSRE:
		node.state = stateSelfRefresh
		q.Pop()
		c.pendingPowerReq[head.addr.rank] = false
	case cmdPDX:
		node.state = statePwrUp
	case cmdPDE:
		node.state = statePrePwrDown
		for _, bank := range node.children {
			if bank.state == stateOpened {
				node.state = stateActPwrDown
				break
			}
		}
		q.Pop()
		c.pendingPowerReq[head.addr.rank] = false
	case cmdRD, cmdRDA:
		q.Pop()
		c.pending.MustPushOrAbort(&ddr4PendingEntry{
			departClk: clk + c.cfg.ReadLatency,
			addr:      head.req.OrigAddr,
			cb:        head.req.Callback,
		}, "ddr4 pending_queue")
		if cmd == cmdRDA {
			node.state = stateClosed
		}
	case cmdWR, cmdWRA:
		q.Pop()
		if head.req.Callback != nil {
			head.req.Callback(head.req.OrigAddr, clk)
		}
		if cmd == cmdWRA {
			node.state = stateClosed
		}
	case cmdREF:
		q.Pop()
		c.counters.Inc("refresh_issued")
	}
}

// targetCommand is the command a queue's head entry ultimately wants
// issued, before prerequisite substitution.
func (c *DDR4Controller) targetCommand(e *ddr4QueueEntry, q *Queue[*ddr4QueueEntry]) ddr4Command {
	switch q {
	case c.read:
		return cmdRD
	case c.write:
		return cmdWR
	case c.misc:
		return e.miscTarget
	default: // act queue: request is already open, re-decode its original kind
		if e.req != nil && e.req.Kind == Write {
			return cmdWR
		}
		return cmdRD
	}
}

// decode implements §4.4.2: walk the hierarchy from rank to bank,
// substituting a prerequisite command when the current node's state
// forbids the target.
func (c *DDR4Controller) decode(a ddr4Addr, target ddr4Command, clk Clock) (ddr4Command, *hierarchyNode) {
	rank := c.ranks[a.rank]
	if rank.state == stateSelfRefresh && target != cmdSRX {
		return cmdSRX, rank
	}
	if (rank.state == statePrePwrDown || rank.state == stateActPwrDown) && target != cmdPDX {
		return cmdPDX, rank
	}
	switch target {
	case cmdREF, cmdPDE, cmdSRE:
		return target, rank
	}

	bank := rank.children[a.bank]
	if bank.state == stateClosed && (target == cmdRD || target == cmdWR) {
		return cmdACT, bank
	}
	if bank.state == stateOpened && bank.openRow != a.row {
		return cmdPRE, bank
	}
	return target, bank
}

// check implements §4.4.3: the command is feasible iff clk >= next[cmd]
// at every node on the path from the root down to its scope level.
func (c *DDR4Controller) check(a ddr4Addr, cmd ddr4Command, clk Clock) bool {
	rank := c.ranks[a.rank]
	if clk < rank.nextClk(cmd) {
		return false
	}
	if cmd == cmdREF || cmd == cmdPREA || cmd == cmdSRE || cmd == cmdSRX || cmd == cmdPDE || cmd == cmdPDX {
		return true
	}
	bank := rank.children[a.bank]
	return clk >= bank.nextClk(cmd)
}

// issue implements §4.4.1: apply every timing-table rule for (level,
// cmd), updating next[consequent] at the issuing node (and, when
// appliesToSiblings, every sibling at that level) from the
// distance-th most recent issuance of cmd.
func (c *DDR4Controller) issue(a ddr4Addr, cmd ddr4Command, clk Clock) {
	rank := c.ranks[a.rank]
	bank := rank.children[a.bank]

	// Record first: distance=1 in the timing table means "this very
	// issuance", so the ring buffer must already contain it when the
	// rules below look up past_clk.
	rank.recordIssue(cmd, clk, 8)
	bank.recordIssue(cmd, clk, 8)

	c.applyRules(rank, levelRank, cmd, clk, rank.children)
	c.applyRules(bank, levelBank, cmd, clk, rank.children)
}

func (c *DDR4Controller) applyRules(node *hierarchyNode, level ddr4Level, cmd ddr4Command, clk Clock, siblings []*hierarchyNode) {
	rules := c.table[timingKey{level: level, cmd: cmd}]
	for _, r := range rules {
		past := node.pastClk(cmd, r.distance)
		if r.distance > 1 && past == InvalidClock {
			continue // not enough history yet to enforce this window
		}
		if past == InvalidClock {
			past = clk
		}
		target := past + r.delay
		if node.nextClk(r.consequent) < target {
			node.next[r.consequent] = target
		}
		if r.appliesToSiblings {
			for _, sib := range siblings {
				if sib == node {
					continue
				}
				if sib.nextClk(r.consequent) < target {
					sib.next[r.consequent] = target
				}
			}
		}
	}
}
