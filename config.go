package nvsim

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Config is a loaded, parsed configuration file (§6.2): INI sections
// for `basic`, `dump`, `organization`, and one per component type.
type Config struct {
	file *ini.File
	org  map[string][]orgChild
	root string
}

// orgChild is one `count*child_type` term from an organization line. A
// component type may list more than one term (comma-separated) when it
// needs children playing distinct roles — RMW's AIT round trip and its
// local persistent media, for instance — which the literal
// `imc: 1*rmw` example in §6.2 doesn't itself illustrate but the
// component designs in §4 require.
type orgChild struct {
	count     int
	childType string
}

// LoadConfig reads and parses the config file at path. Malformed input
// is a §7 fatal error, reported as a plain error here (main.go turns it
// into the exit-1 diagnostic).
func LoadConfig(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("nvsim: loading config %s: %w", path, err)
	}

	cfg := &Config{file: f, org: make(map[string][]orgChild)}

	orgSec, err := f.GetSection("organization")
	if err != nil {
		return nil, fmt.Errorf("nvsim: config %s missing required [organization] section", path)
	}
	for _, key := range orgSec.Keys() {
		children, err := parseOrgValue(key.Value())
		if err != nil {
			return nil, fmt.Errorf("nvsim: config %s: organization.%s: %w", path, key.Name(), err)
		}
		cfg.org[key.Name()] = children
	}

	basic, err := f.GetSection("basic")
	if err != nil {
		return nil, fmt.Errorf("nvsim: config %s missing required [basic] section", path)
	}
	cfg.root = basic.Key("root").MustString("rmc")

	if _, err := f.GetSection("dump"); err != nil {
		return nil, fmt.Errorf("nvsim: config %s missing required [dump] section", path)
	}

	return cfg, nil
}

func parseOrgValue(v string) ([]orgChild, error) {
	var out []orgChild
	for _, term := range strings.Split(v, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		parts := strings.SplitN(term, "*", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed organization term %q, want count*child_type", term)
		}
		n, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("malformed organization count in %q", term)
		}
		out = append(out, orgChild{count: n, childType: strings.TrimSpace(parts[1])})
	}
	return out, nil
}

func (c *Config) section(typ string) *ini.Section {
	sec, err := c.file.GetSection(typ)
	if err != nil {
		Abort("nvsim: config missing required component section [%s]", typ)
	}
	return sec
}

func (c *Config) keyInt(sec *ini.Section, key string, def int) int {
	return sec.Key(key).MustInt(def)
}

func (c *Config) keyClock(sec *ini.Section, key string, def Clock) Clock {
	return Clock(sec.Key(key).MustInt64(int64(def)))
}

// keyAddr reads a key as a full 64-bit address. Addr is uint64-wide;
// routing it through keyInt's plain int would truncate a base address
// with bits set above bit 31 on a 32-bit int platform.
func (c *Config) keyAddr(sec *ini.Section, key string, def Addr) Addr {
	return Addr(sec.Key(key).MustUint64(uint64(def)))
}

// BuildTree constructs the component tree described by the
// organization section, starting from the configured root type, and
// returns its root. Per-type config sections supply construction
// tunables (§6.2's "Selected keys").
func (c *Config) BuildTree() Component {
	return c.build(c.root, []int{0})
}

func (c *Config) build(typ string, path []int) Component {
	name := instanceName(typ, path)
	children := c.buildChildren(typ, path)

	switch typ {
	case "static":
		sec := c.section(typ)
		return NewStaticMedia(name,
			c.keyClock(sec, "read_latency", 10),
			c.keyClock(sec, "write_latency", 10))

	case "ddr4":
		sec := c.section(typ)
		return NewDDR4Controller(name, DDR4Config{
			NumRanks:        c.keyInt(sec, "rank", 1),
			NumBanks:        c.keyInt(sec, "bank", 8),
			ActQueueCap:     c.keyInt(sec, "act_entries", 16),
			MiscQueueCap:    c.keyInt(sec, "misc_entries", 8),
			ReadQueueCap:    c.keyInt(sec, "read_entries", 32),
			WriteQueueCap:   c.keyInt(sec, "write_entries", 32),
			PendingQueueCap: c.keyInt(sec, "pending_entries", 32),
			ReadLatency:     c.keyClock(sec, "read_latency", 20),
			Timing:          defaultDDR4Timing(),

			PowerDownIdleTicks:   c.keyClock(sec, "power_down_idle_ticks", 0),
			SelfRefreshIdleTicks: c.keyClock(sec, "self_refresh_idle_ticks", 0),
		})

	case "ait":
		sec := c.section(typ)
		next := firstChild(children)
		return NewAITController(name, AITConfig{
			BufferEntries:         c.keyInt(sec, "buffer_entries", 64),
			LSQEntries:            c.keyInt(sec, "lsq_entries", 16),
			LMEMQEntries:          c.keyInt(sec, "lmemq_entries", 16),
			WearLevelingThreshold: uint32(c.keyInt(sec, "wear_leveling_threshold", 1000)),
			MigrationBlockEntries: c.keyInt(sec, "migration_block_entries", 16),
			MigrationLatency:      c.keyClock(sec, "migration_latency", 100),
		}, next)

	case "rmw":
		sec := c.section(typ)
		next := childByType(children, "ait")
		local := childByType(children, "static")
		return NewRMWController(name, RMWConfig{
			BufferEntries:   c.keyInt(sec, "buffer_entries", 64),
			LSQEntries:      c.keyInt(sec, "lsq_entries", 16),
			ROQEntries:      c.keyInt(sec, "roq_entries", 16),
			AitToRmwLatency: c.keyClock(sec, "ait_to_rmw_latency", 5),
			RmwToAitLatency: c.keyClock(sec, "rmw_to_ait_latency", 5),
		}, next, local)

	case "imc":
		sec := c.section(typ)
		next := firstChild(children)
		return NewIMC(name, IMCConfig{
			WPQEntries: c.keyInt(sec, "wpq_entries", 32),
			RPQEntries: c.keyInt(sec, "rpq_entries", 32),
			ADREpoch:   c.keyClock(sec, "adr_epoch", 0),
		}, next)

	case "rmc":
		sec := c.section(typ)
		startAddr := c.keyAddr(sec, "start_addr", 0)
		mapping := lookupMappingFunc(sec.Key("component_mapping_func").MustString("none_mapping"))
		return NewRMC(name, startAddr, mapping, children)

	default:
		Abort("nvsim: config: unknown component type %q", typ)
		return nil
	}
}

func (c *Config) buildChildren(typ string, path []int) []Component {
	var out []Component
	for _, term := range c.org[typ] {
		for i := 0; i < term.count; i++ {
			childPath := append(append([]int{}, path...), i)
			out = append(out, c.build(term.childType, childPath))
		}
	}
	return out
}

func instanceName(typ string, path []int) string {
	parts := make([]string, len(path))
	for i, p := range path {
		parts[i] = strconv.Itoa(p)
	}
	return typ + "_" + strings.Join(parts, "_")
}

func firstChild(children []Component) Component {
	if len(children) == 0 {
		return nil
	}
	return children[0]
}

// childByType picks the first built child whose own reported type
// prefix (the part of its instance name before the first underscore)
// matches typ.
func childByType(children []Component, typ string) Component {
	for _, ch := range children {
		if strings.HasPrefix(ch.Name(), typ+"_") {
			return ch
		}
	}
	return nil
}
