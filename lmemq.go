package nvsim

// lmemqJob is one local-memory access queued on the LMEMQ: an AIT
// entry's 256-B sub-block access to the DRAM-backed metadata cache,
// split into 4 sub-requests of 64 B each, issued strictly in order
// (§4.3 "LMEMQ sub-request engine").
type lmemqJob struct {
	ownerAddr Addr // AIT block address owning this job
	kind      Kind
	baseAddr  Addr

	subreqIndex    int
	subreqServed   [4]bool
	subreqReadyClk [4]Clock // used for deterministic sub-responses
}

func newLMEMQJob(owner Addr, kind Kind, baseAddr Addr) *lmemqJob {
	j := &lmemqJob{ownerAddr: owner, kind: kind, baseAddr: baseAddr}
	for i := range j.subreqReadyClk {
		j.subreqReadyClk[i] = InvalidClock
	}
	return j
}

func (j *lmemqJob) served(i int, clk Clock) bool {
	if j.subreqServed[i] {
		return true
	}
	return j.subreqReadyClk[i] != InvalidClock && clk >= j.subreqReadyClk[i]
}

// lmemqProcess advances the LMEMQ head job by (at most) one sub-request
// per tick: it issues the next unserved sub-request, or notices the
// current one has completed and moves on. When all 4 have served, it
// updates the owning AIT entry and pops the head, per §4.3.
func (c *AITController) lmemqProcess(clk Clock) {
	job, ok := c.lmemq.Front()
	if !ok {
		return
	}

	if job.subreqIndex < 4 && job.served(job.subreqIndex, clk) {
		job.subreqIndex++
	}

	if job.subreqIndex >= 4 {
		c.lmemq.Pop()
		if owner, ok := c.buffer[job.ownerAddr]; ok {
			owner.waitingActionClkUpdate = false
			owner.nextActionClk = clk + 1
		}
		return
	}

	idx := job.subreqIndex
	if job.subreqServed[idx] || job.subreqReadyClk[idx] != InvalidClock {
		return // already issued, awaiting completion
	}

	subAddr := job.baseAddr + Addr(idx*64)
	req := &Request{Kind: job.kind, Addr: subAddr, ArriveClk: clk}
	if job.kind == Write {
		resp := c.nextLevel.IssueRequest(req)
		if !resp.Accepted {
			c.counters.Inc("next_level_issue_fail")
			return
		}
		c.counters.Inc("lmem_write_access")
		// Writes are considered complete immediately after issue.
		job.subreqServed[idx] = true
		return
	}

	req.Callback = func(addr Addr, completeClk Clock) {
		job.subreqServed[idx] = true
	}
	resp := c.nextLevel.IssueRequest(req)
	if !resp.Accepted {
		c.counters.Inc("next_level_issue_fail")
		return
	}
	c.counters.Inc("lmem_read_access")
	if resp.Deterministic {
		job.subreqReadyClk[idx] = resp.NextClk
	}
}
