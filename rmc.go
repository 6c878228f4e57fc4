package nvsim

// RMC is the stateless top-level router of §4.1: it subtracts its
// configured start address, applies an address-mapping function to
// pick a child and a child-local address, and forwards. It holds no
// buffering of its own; backpressure passes straight through from
// whichever child is selected.
type RMC struct {
	name      string
	startAddr Addr
	mapping   MappingFunc
	children  []Component
	counters  *Counters
}

// NewRMC builds a router with the given start address, mapping
// function, and ordered children (the mapping's childIdx indexes into
// this slice).
func NewRMC(name string, startAddr Addr, mapping MappingFunc, children []Component) *RMC {
	return &RMC{
		name:      name,
		startAddr: startAddr,
		mapping:   mapping,
		children:  children,
		counters:  NewCounters("rmc", name),
	}
}

func (r *RMC) Name() string          { return r.name }
func (r *RMC) Children() []Component { return r.children }
func (r *RMC) Counters() *Counters   { return r.counters }

// TickSelf is a no-op: RMC has no internal state, only its children
// advance via the tree walker.
func (r *RMC) TickSelf(clk Clock) {}

func (r *RMC) IssueRequest(req *Request) Response {
	if req.Addr < r.startAddr {
		Abort("nvsim: rmc %s: request address 0x%x below start_addr 0x%x", r.name, req.Addr, r.startAddr)
	}
	local := req.Addr - r.startAddr
	childAddr, idx := r.mapping(local, len(r.children))
	if idx < 0 || idx >= len(r.children) {
		Abort("nvsim: rmc %s: mapping function selected out-of-range child %d of %d", r.name, idx, len(r.children))
	}

	forwarded := *req
	forwarded.Addr = childAddr
	return r.children[idx].IssueRequest(&forwarded)
}
