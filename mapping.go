package nvsim

// MappingFunc selects a child index and child-local address for a
// logical address, per §6.2's component_mapping_func and §6.5.
type MappingFunc func(addr Addr, n int) (childAddr Addr, childIdx int)

// NoneMapping always routes to child 0 and leaves the address unchanged.
func NoneMapping(addr Addr, n int) (Addr, int) {
	return addr, 0
}

// StrideMapping4096 spreads 4 KiB pages across n parallel
// sub-hierarchies: stride_mapping_4096(addr, n) = (((addr>>12)/n)<<12 |
// (addr&0xfff), (addr>>12) % n), per §6.5.
func StrideMapping4096(addr Addr, n int) (Addr, int) {
	if n <= 0 {
		Abort("nvsim: stride_mapping_4096 called with n=%d", n)
	}
	page := uint64(addr) >> 12
	childAddr := Addr(((page / uint64(n)) << 12) | (uint64(addr) & 0xfff))
	childIdx := int(page % uint64(n))
	return childAddr, childIdx
}

// mappingFuncs is the registry of mapping functions addressable by
// config key (component_mapping_func). stride_mapping(4096) is the
// spec's only parameterized mapping; we special-case its one supported
// block size.
var mappingFuncs = map[string]MappingFunc{
	"none_mapping":          NoneMapping,
	"stride_mapping(4096)":  StrideMapping4096,
	"stride_mapping_4096":   StrideMapping4096,
}

// lookupMappingFunc resolves a configured mapping function name, or
// aborts fatally per §7 ("unknown mapping function").
func lookupMappingFunc(name string) MappingFunc {
	f, ok := mappingFuncs[name]
	if !ok {
		Abort("nvsim: unknown mapping function %q", name)
	}
	return f
}
