package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"handover-sim/internal/topology"
)

// Config holds all configuration for one scenario run.
type Config struct {
	Scenario ScenarioConfig `yaml:"scenario" mapstructure:"scenario"`
	Network  NetworkConfig  `yaml:"network"  mapstructure:"network"`
	Traffic  TrafficConfig  `yaml:"traffic"  mapstructure:"traffic"`
	Bearer   BearerConfig   `yaml:"bearer"   mapstructure:"bearer"`
	Output   OutputConfig   `yaml:"output"   mapstructure:"output"`
	Store    StoreConfig    `yaml:"store"    mapstructure:"store"`
	Logging  LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	Stats    StatsConfig    `yaml:"stats"    mapstructure:"stats"`
}

type ScenarioConfig struct {
	EndpointCount      int                    `yaml:"endpoint_count"       mapstructure:"endpoint_count"`
	StationCount       int                    `yaml:"station_count"        mapstructure:"station_count"`
	BearersPerEndpoint int                    `yaml:"bearers_per_endpoint" mapstructure:"bearers_per_endpoint"`
	SimDuration        time.Duration          `yaml:"sim_duration"         mapstructure:"sim_duration"`
	JitterMax          time.Duration          `yaml:"jitter_max"           mapstructure:"jitter_max"`
	Seed               uint64                 `yaml:"seed"                 mapstructure:"seed"`
	ScriptFile         string                 `yaml:"script_file"          mapstructure:"script_file"`
	MobilityTrace      string                 `yaml:"mobility_trace"       mapstructure:"mobility_trace"`
	AttachCell         int                    `yaml:"attach_cell"          mapstructure:"attach_cell"`
	Stations           []topology.StationSpec `yaml:"stations"             mapstructure:"stations"`
}

type NetworkConfig struct {
	UEPool       string `yaml:"ue_pool"       mapstructure:"ue_pool"`
	InternetPool string `yaml:"internet_pool" mapstructure:"internet_pool"`
	DLPortBase   int    `yaml:"dl_port_base"  mapstructure:"dl_port_base"`
	ULPortBase   int    `yaml:"ul_port_base"  mapstructure:"ul_port_base"`
}

type TrafficConfig struct {
	Interval   time.Duration `yaml:"interval"    mapstructure:"interval"`
	MaxPackets int           `yaml:"max_packets" mapstructure:"max_packets"`
	PacketSize int           `yaml:"packet_size" mapstructure:"packet_size"`
	QoSClass   string        `yaml:"qos_class"   mapstructure:"qos_class"`
}

type BearerConfig struct {
	Backend           string `yaml:"backend"             mapstructure:"backend"`
	MaxPerEndpoint    int    `yaml:"max_per_endpoint"    mapstructure:"max_per_endpoint"`
	RejectEvery       int    `yaml:"reject_every"        mapstructure:"reject_every"`
	SMFAddress        string `yaml:"smf_address"         mapstructure:"smf_address"`
	UPFAddress        string `yaml:"upf_address"         mapstructure:"upf_address"`
	Association       bool   `yaml:"association"         mapstructure:"association"`
	SEIDStart         uint64 `yaml:"seid_start"          mapstructure:"seid_start"`
	SEIDStrategy      string `yaml:"seid_strategy"       mapstructure:"seid_strategy"`
	ResponseTimeoutMs int    `yaml:"response_timeout_ms" mapstructure:"response_timeout_ms"`
	MaxRetries        int    `yaml:"max_retries"         mapstructure:"max_retries"`
}

type OutputConfig struct {
	EventsFile  string `yaml:"events_file"  mapstructure:"events_file"`
	FlowTrace   string `yaml:"flow_trace"   mapstructure:"flow_trace"`
	AnimFile    string `yaml:"anim_file"    mapstructure:"anim_file"`
	MetricsFile string `yaml:"metrics_file" mapstructure:"metrics_file"`
}

type StoreConfig struct {
	Backend       string `yaml:"backend"        mapstructure:"backend"`
	RedisAddr     string `yaml:"redis_addr"     mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db"       mapstructure:"redis_db"`
}

type LoggingConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file"  mapstructure:"file"`
}

type StatsConfig struct {
	Enabled    bool   `yaml:"enabled"     mapstructure:"enabled"`
	ExportFile string `yaml:"export_file" mapstructure:"export_file"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("scenario.endpoint_count", 94)
	v.SetDefault("scenario.station_count", 12)
	v.SetDefault("scenario.bearers_per_endpoint", 2)
	v.SetDefault("scenario.sim_duration", "100s")
	v.SetDefault("scenario.jitter_max", "1s")
	v.SetDefault("scenario.seed", 1)
	v.SetDefault("scenario.attach_cell", 1)
	v.SetDefault("scenario.stations", defaultStations())

	v.SetDefault("network.ue_pool", "7.0.0.0/8")
	v.SetDefault("network.internet_pool", "1.0.0.0/8")
	v.SetDefault("network.dl_port_base", 10000)
	v.SetDefault("network.ul_port_base", 20000)

	v.SetDefault("traffic.interval", "10s")
	v.SetDefault("traffic.max_packets", 100)
	v.SetDefault("traffic.packet_size", 1024)
	v.SetDefault("traffic.qos_class", "NGBR_VIDEO_TCP_DEFAULT")

	v.SetDefault("bearer.backend", "local")
	v.SetDefault("bearer.max_per_endpoint", 10)
	v.SetDefault("bearer.smf_address", "127.0.0.1:8806")
	v.SetDefault("bearer.upf_address", "127.0.0.1:8805")
	v.SetDefault("bearer.association", true)
	v.SetDefault("bearer.seid_start", 1)
	v.SetDefault("bearer.seid_strategy", "sequential")
	v.SetDefault("bearer.response_timeout_ms", 5000)
	v.SetDefault("bearer.max_retries", 3)

	v.SetDefault("output.anim_file", "lte-simulation-script.xml")

	v.SetDefault("store.backend", "memory")
	v.SetDefault("store.redis_addr", "127.0.0.1:6379")

	v.SetDefault("logging.level", "info")
	v.SetDefault("stats.enabled", true)
}

func defaultStations() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(topology.DefaultStations))
	for _, s := range topology.DefaultStations {
		out = append(out, map[string]interface{}{"label": s.Label, "x": s.X, "y": s.Y, "z": s.Z})
	}
	return out
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return LoadWithViper(v)
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ActiveStations returns the stations the scenario deploys.
func (c *Config) ActiveStations() []topology.StationSpec {
	if c.Scenario.StationCount <= 0 || c.Scenario.StationCount >= len(c.Scenario.Stations) {
		return c.Scenario.Stations
	}
	return c.Scenario.Stations[:c.Scenario.StationCount]
}

// ResponseTimeout returns the PFCP response timeout.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Bearer.ResponseTimeoutMs) * time.Millisecond
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Endpoints:     %d x %d bearers\n", c.Scenario.EndpointCount, c.Scenario.BearersPerEndpoint))
	sb.WriteString(fmt.Sprintf("  Stations:      %d (attach to cell %d)\n", len(c.ActiveStations()), c.Scenario.AttachCell))
	sb.WriteString(fmt.Sprintf("  Duration:      %s (jitter %s, seed %d)\n", c.Scenario.SimDuration, c.Scenario.JitterMax, c.Scenario.Seed))
	sb.WriteString(fmt.Sprintf("  Script:        %s\n", orNone(c.Scenario.ScriptFile)))
	sb.WriteString(fmt.Sprintf("  Pools:         ue=%s internet=%s\n", c.Network.UEPool, c.Network.InternetPool))
	sb.WriteString(fmt.Sprintf("  Port bases:    dl=%d ul=%d\n", c.Network.DLPortBase, c.Network.ULPortBase))
	sb.WriteString(fmt.Sprintf("  Traffic:       %d x %dB every %s (%s)\n", c.Traffic.MaxPackets, c.Traffic.PacketSize, c.Traffic.Interval, c.Traffic.QoSClass))
	if c.Bearer.Backend == "pfcp" {
		sb.WriteString(fmt.Sprintf("  Bearers:       pfcp %s -> %s (association=%v)\n", c.Bearer.SMFAddress, c.Bearer.UPFAddress, c.Bearer.Association))
		sb.WriteString(fmt.Sprintf("  Timeout:       %dms (retries: %d)\n", c.Bearer.ResponseTimeoutMs, c.Bearer.MaxRetries))
	} else {
		sb.WriteString(fmt.Sprintf("  Bearers:       local (max %d per endpoint)\n", c.Bearer.MaxPerEndpoint))
	}
	sb.WriteString(fmt.Sprintf("  Store:         %s\n", c.Store.Backend))
	sb.WriteString(fmt.Sprintf("  Events:        %s\n", orDefault(c.Output.EventsFile, "stdout")))
	sb.WriteString(fmt.Sprintf("  Flow trace:    %s\n", orNone(c.Output.FlowTrace)))
	sb.WriteString(fmt.Sprintf("  Animation:     %s\n", orNone(c.Output.AnimFile)))
	return sb.String()
}

func orNone(s string) string {
	return orDefault(s, "(none)")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
