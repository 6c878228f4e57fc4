package nvsim

// StaticMedia is a constant-latency leaf media, a placeholder for fast
// local memory (§4.5). It never queues and never blocks: IssueRequest
// always accepts and reports a deterministic completion clock.
type StaticMedia struct {
	name         string
	readLatency  Clock
	writeLatency Clock
	counters     *Counters
}

// NewStaticMedia builds a static media leaf with the given read/write
// latencies in ticks.
func NewStaticMedia(name string, readLatency, writeLatency Clock) *StaticMedia {
	return &StaticMedia{
		name:         name,
		readLatency:  readLatency,
		writeLatency: writeLatency,
		counters:     NewCounters("static", name),
	}
}

func (m *StaticMedia) Name() string { return m.name }

func (m *StaticMedia) IssueRequest(req *Request) Response {
	lat := m.writeLatency
	if req.Kind == Read {
		lat = m.readLatency
		m.counters.Inc("read_access")
	} else {
		m.counters.Inc("write_access")
	}
	return deterministicAt(req.ArriveClk + lat)
}

// TickSelf is a no-op: static media has no internal state machine.
func (m *StaticMedia) TickSelf(clk Clock) {}

func (m *StaticMedia) Children() []Component { return nil }

func (m *StaticMedia) Counters() *Counters { return m.counters }
