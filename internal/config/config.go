// Package config holds the typed configuration documents for the leak
// detection backend. Five YAML documents are recognized: plc.yaml,
// runtime.yaml, models.yaml, health.yaml and ipc.yaml. A missing or
// malformed document yields its defaults so the system can always start.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// PLCConfig is the content of plc.yaml.
type PLCConfig struct {
	Connection ConnectionConfig `yaml:"connection"`
	Polling    PollingConfig    `yaml:"polling"`
	CabinArray CabinArrayConfig `yaml:"cabin_array"`
	WriteBack  WriteBackConfig  `yaml:"write_back"`
	FaultWrite FaultWriteConfig `yaml:"fault_write"`
}

type ConnectionConfig struct {
	IP                 string  `yaml:"ip"`
	Rack               int     `yaml:"rack"`
	Slot               int     `yaml:"slot"`
	ReconnectIntervalS float64 `yaml:"reconnect_interval_s"`
}

type PollingConfig struct {
	IntervalMs int `yaml:"interval_ms"`
	BufferSize int `yaml:"buffer_size"`
}

type CabinArrayConfig struct {
	DBNumber       int `yaml:"db_number"`
	StartOffset    int `yaml:"start_offset"`
	CabinCount     int `yaml:"cabin_count"`
	CabinSizeBytes int `yaml:"cabin_size_bytes"`
}

type WriteBackConfig struct {
	DBNumber   int `yaml:"db_number"`
	ByteOffset int `yaml:"byte_offset"`
	Scale      int `yaml:"scale"`
	Base       int `yaml:"base"`
}

type FaultWriteConfig struct {
	DBNumber   int `yaml:"db_number"`
	ByteOffset int `yaml:"byte_offset"`
}

// RuntimeConfig is the content of runtime.yaml.
type RuntimeConfig struct {
	Threshold      float64        `yaml:"threshold"`
	FeatureMode    string         `yaml:"feature_mode"` // "7d" or "6d"
	LoopIntervalS  float64        `yaml:"loop_interval"`
	CycleDetection CycleConfig    `yaml:"cycle_detection"`
	Database       DatabaseConfig `yaml:"database"`
}

type CycleConfig struct {
	StartPressureDrop      float64 `yaml:"start_pressure_drop"`
	EndPressureRise        float64 `yaml:"end_pressure_rise"`
	MinCollectionPoints    int     `yaml:"min_collection_points"`
	MaxCollectionPoints    int     `yaml:"max_collection_points"`
	MaxCollectionDurationS float64 `yaml:"max_collection_duration_s"`
	CollectionTimeoutS     float64 `yaml:"collection_timeout_s"`

	// Reserved: parsed but not consulted by the FSM.
	IdlePressureMin float64 `yaml:"idle_pressure_min"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ModelsConfig is the content of models.yaml.
type ModelsConfig struct {
	Current ModelArtifacts `yaml:"current"`
}

type ModelArtifacts struct {
	ModelPath  string `yaml:"model_path"`
	ScalerPath string `yaml:"scaler_path"`
	Version    string `yaml:"version"`
}

// HealthConfig is the content of health.yaml.
type HealthConfig struct {
	Enabled        bool                 `yaml:"enabled"`
	CheckIntervalS float64              `yaml:"check_interval_s"`
	Checks         map[string]CheckSpec `yaml:"checks"`
}

// CheckSpec configures one health probe. Threshold fields are shared
// across probes; each probe reads the ones it cares about.
type CheckSpec struct {
	Enabled           *bool   `yaml:"enabled"`
	MinFreeMB         float64 `yaml:"min_free_mb"`
	MaxMs             float64 `yaml:"max_ms"`
	MaxStuckDurationS float64 `yaml:"max_stuck_duration_s"`
}

// On reports whether the probe is enabled; probes default to enabled.
func (c CheckSpec) On() bool {
	return c.Enabled == nil || *c.Enabled
}

// IPCConfig is the content of ipc.yaml.
type IPCConfig struct {
	APIServer   APIServerConfig   `yaml:"api_server"`
	AlarmPusher AlarmPusherConfig `yaml:"alarm_pusher"`
}

type APIServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	APIKey  string `yaml:"api_key"`
}

type AlarmPusherConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Targets             []AlarmTarget `yaml:"targets"`
	PushOnLeak          bool          `yaml:"push_on_leak"`
	MinFaultLevelToPush string        `yaml:"min_fault_level_to_push"`
}

type AlarmTarget struct {
	URL      string  `yaml:"url"`
	TimeoutS float64 `yaml:"timeout_s"`
	Retries  int     `yaml:"retries"`
}

// Bundle groups the five loaded documents.
type Bundle struct {
	PLC     PLCConfig
	Runtime RuntimeConfig
	Models  ModelsConfig
	Health  HealthConfig
	IPC     IPCConfig
}

// ============================================================================
// DEFAULTS
// ============================================================================

func DefaultPLC() PLCConfig {
	return PLCConfig{
		Connection: ConnectionConfig{IP: "192.168.0.10", Rack: 0, Slot: 1, ReconnectIntervalS: 5},
		Polling:    PollingConfig{IntervalMs: 10, BufferSize: 10000},
		CabinArray: CabinArrayConfig{DBNumber: 9, StartOffset: 0, CabinCount: 25, CabinSizeBytes: 12},
		WriteBack:  WriteBackConfig{DBNumber: 9, ByteOffset: 200, Scale: 10, Base: 0},
		FaultWrite: FaultWriteConfig{DBNumber: 9, ByteOffset: 202},
	}
}

func DefaultRuntime() RuntimeConfig {
	return RuntimeConfig{
		Threshold:     0.3,
		FeatureMode:   "7d",
		LoopIntervalS: 0.05,
		CycleDetection: CycleConfig{
			StartPressureDrop:      50,
			EndPressureRise:        50,
			MinCollectionPoints:    100,
			MaxCollectionPoints:    3000,
			MaxCollectionDurationS: 45,
			CollectionTimeoutS:     60,
			IdlePressureMin:        900,
		},
		Database: DatabaseConfig{Path: "ldpj_data.db"},
	}
}

func DefaultModels() ModelsConfig {
	return ModelsConfig{
		Current: ModelArtifacts{
			ModelPath:  "models/artifacts/current/gbt_model.json",
			ScalerPath: "models/artifacts/current/gbt_scaler.json",
			Version:    "unknown",
		},
	}
}

func DefaultHealth() HealthConfig {
	return HealthConfig{
		Enabled:        true,
		CheckIntervalS: 60,
		Checks:         map[string]CheckSpec{},
	}
}

func DefaultIPC() IPCConfig {
	return IPCConfig{
		APIServer: APIServerConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    8000,
			APIKey:  "change-me-in-production",
		},
		AlarmPusher: AlarmPusherConfig{
			Enabled:             false,
			PushOnLeak:          false,
			MinFaultLevelToPush: "ERROR",
		},
	}
}

// ============================================================================
// LOADING
// ============================================================================

// Load reads all five documents from dir. Any document that is missing
// or fails to parse is replaced by its defaults; Load never fails.
func Load(dir string) *Bundle {
	b := &Bundle{
		PLC:     DefaultPLC(),
		Runtime: DefaultRuntime(),
		Models:  DefaultModels(),
		Health:  DefaultHealth(),
		IPC:     DefaultIPC(),
	}
	loadDoc(filepath.Join(dir, "plc.yaml"), &b.PLC)
	loadDoc(filepath.Join(dir, "runtime.yaml"), &b.Runtime)
	loadDoc(filepath.Join(dir, "models.yaml"), &b.Models)
	loadDoc(filepath.Join(dir, "health.yaml"), &b.Health)
	loadDoc(filepath.Join(dir, "ipc.yaml"), &b.IPC)
	return b
}

// loadDoc decodes path over a copy of out and commits only on success,
// so a missing or malformed document leaves the defaults untouched.
func loadDoc[T any](path string, out *T) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	tmp := *out
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return
	}
	*out = tmp
}
