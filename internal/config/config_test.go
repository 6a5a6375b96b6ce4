package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingDirYieldsDefaults(t *testing.T) {
	b := Load(filepath.Join(t.TempDir(), "does-not-exist"))

	assert.Equal(t, DefaultPLC(), b.PLC)
	assert.Equal(t, DefaultRuntime(), b.Runtime)
	assert.Equal(t, DefaultModels(), b.Models)
	assert.Equal(t, DefaultHealth(), b.Health)
	assert.Equal(t, DefaultIPC(), b.IPC)
}

func TestLoadPartialDocumentKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	// Only the threshold is set; everything else must keep defaults.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtime.yaml"),
		[]byte("threshold: 0.7\n"), 0o644))

	b := Load(dir)
	assert.Equal(t, 0.7, b.Runtime.Threshold)
	assert.Equal(t, "7d", b.Runtime.FeatureMode)
	assert.Equal(t, "ldpj_data.db", b.Runtime.Database.Path)
	assert.Equal(t, DefaultPLC(), b.PLC)
}

func TestLoadMalformedDocumentYieldsDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plc.yaml"),
		[]byte("connection: [not: valid: yaml\n"), 0o644))

	b := Load(dir)
	assert.Equal(t, DefaultPLC(), b.PLC)
}

func TestLoadFullPLCDocument(t *testing.T) {
	dir := t.TempDir()
	doc := `
connection:
  ip: "10.0.0.5"
  rack: 0
  slot: 2
  reconnect_interval_s: 3
polling:
  interval_ms: 20
  buffer_size: 500
cabin_array:
  db_number: 11
  start_offset: 4
  cabin_count: 8
  cabin_size_bytes: 12
write_back:
  db_number: 11
  byte_offset: 100
  scale: 100
  base: 10
fault_write:
  db_number: 11
  byte_offset: 102
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plc.yaml"), []byte(doc), 0o644))

	b := Load(dir)
	assert.Equal(t, "10.0.0.5", b.PLC.Connection.IP)
	assert.Equal(t, 2, b.PLC.Connection.Slot)
	assert.Equal(t, 20, b.PLC.Polling.IntervalMs)
	assert.Equal(t, 8, b.PLC.CabinArray.CabinCount)
	assert.Equal(t, 100, b.PLC.WriteBack.Scale)
	assert.Equal(t, 102, b.PLC.FaultWrite.ByteOffset)
}

func TestCheckSpecDefaultsEnabled(t *testing.T) {
	var spec CheckSpec
	assert.True(t, spec.On())

	off := false
	spec.Enabled = &off
	assert.False(t, spec.On())

	on := true
	spec.Enabled = &on
	assert.True(t, spec.On())
}

func TestLoadHealthChecks(t *testing.T) {
	dir := t.TempDir()
	doc := `
enabled: true
check_interval_s: 30
checks:
  disk_space:
    min_free_mb: 250
  inference_latency:
    enabled: false
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "health.yaml"), []byte(doc), 0o644))

	b := Load(dir)
	assert.Equal(t, 30.0, b.Health.CheckIntervalS)
	assert.Equal(t, 250.0, b.Health.Checks["disk_space"].MinFreeMB)
	assert.False(t, b.Health.Checks["inference_latency"].On())
	// Unlisted probes stay enabled.
	assert.True(t, b.Health.Checks["plc_connection"].On())
}
