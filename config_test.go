package nvsim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"
)

const testConfigINI = `
[basic]
root = rmc

[dump]
target = none

[organization]
rmc = 1*imc
imc = 1*rmw
rmw = 1*ait, 1*static
ait = 1*ddr4

[rmc]
start_addr = 0
component_mapping_func = none_mapping

[imc]
wpq_entries = 8
rpq_entries = 8

[rmw]
buffer_entries = 4
lsq_entries = 8
roq_entries = 8
ait_to_rmw_latency = 2
rmw_to_ait_latency = 2

[ait]
buffer_entries = 4
lsq_entries = 8
lmemq_entries = 4
wear_leveling_threshold = 100
migration_block_entries = 4
migration_latency = 10

[static]
read_latency = 5
write_latency = 5

[ddr4]
rank = 1
bank = 2
read_latency = 10
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "nvsim.ini")
	require.NoError(t, os.WriteFile(p, []byte(testConfigINI), 0o644))
	return p
}

func TestLoadConfigBuildsTreeShape(t *testing.T) {
	path := writeTestConfig(t)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	root := cfg.BuildTree()
	require.Equal(t, "rmc_0", root.Name())
	require.Len(t, root.Children(), 1)

	imc := root.Children()[0]
	require.Equal(t, "imc_0_0", imc.Name())
	require.Len(t, imc.Children(), 1)
	require.Equal(t, "rmw_0_0_0", imc.Children()[0].Name())
}

func TestLoadConfigMissingOrganizationSectionErrors(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(p, []byte("[basic]\nroot = rmc\n[dump]\ntarget = none\n"), 0o644))

	_, err := LoadConfig(p)
	require.Error(t, err)
}

func TestLoadConfigMissingDumpSectionErrors(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "bad.ini")
	require.NoError(t, os.WriteFile(p, []byte("[basic]\nroot = rmc\n[organization]\nrmc = 1*static\n"), 0o644))

	_, err := LoadConfig(p)
	require.Error(t, err)
}

func TestParseOrgValueMultipleChildTypes(t *testing.T) {
	children, err := parseOrgValue("1*ait, 1*static")
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, "ait", children[0].childType)
	require.Equal(t, 1, children[0].count)
	require.Equal(t, "static", children[1].childType)
}

func TestParseOrgValueRejectsMalformedTerm(t *testing.T) {
	_, err := parseOrgValue("1-ait")
	require.Error(t, err)
}

// TestConfigKeyAddrPreservesHighBits guards against start_addr (and any
// other Addr-valued key) losing bits above 32 by being routed through
// keyInt's plain int, as a value like 0x1_0000_0000 would on a platform
// where int is 32 bits wide.
func TestConfigKeyAddrPreservesHighBits(t *testing.T) {
	f, err := ini.Load([]byte("[rmc]\nstart_addr = 4294967296\n"))
	require.NoError(t, err)
	sec, err := f.GetSection("rmc")
	require.NoError(t, err)

	c := &Config{file: f}
	got := c.keyAddr(sec, "start_addr", 0)
	require.Equal(t, Addr(0x1_0000_0000), got)
}
