package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"

	"handover-sim/pkg/types"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Scenario shape
	if c.Scenario.EndpointCount < 0 {
		errs = append(errs, fmt.Sprintf("scenario.endpoint_count must be >= 0, got %d", c.Scenario.EndpointCount))
	}
	if c.Scenario.BearersPerEndpoint < 0 {
		errs = append(errs, fmt.Sprintf("scenario.bearers_per_endpoint must be >= 0, got %d", c.Scenario.BearersPerEndpoint))
	}
	if c.Scenario.SimDuration <= 0 {
		errs = append(errs, "scenario.sim_duration must be > 0")
	}
	if c.Scenario.JitterMax < 0 {
		errs = append(errs, "scenario.jitter_max must be >= 0")
	}
	if len(c.Scenario.Stations) == 0 {
		errs = append(errs, "scenario.stations must list at least one station")
	}
	if c.Scenario.StationCount > len(c.Scenario.Stations) {
		errs = append(errs, fmt.Sprintf("scenario.station_count %d exceeds the %d configured stations",
			c.Scenario.StationCount, len(c.Scenario.Stations)))
	}
	// 0 disables the synthetic attach events
	if n := len(c.ActiveStations()); c.Scenario.AttachCell < 0 || c.Scenario.AttachCell > n {
		errs = append(errs, fmt.Sprintf("scenario.attach_cell must be between 0 and %d, got %d", n, c.Scenario.AttachCell))
	}
	for _, f := range []struct{ key, path string }{
		{"scenario.script_file", c.Scenario.ScriptFile},
		{"scenario.mobility_trace", c.Scenario.MobilityTrace},
	} {
		if f.path == "" {
			continue
		}
		if _, err := os.Stat(f.path); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("%s not found: %s", f.key, f.path))
		}
	}

	// Address pools must be valid IPv4 CIDRs
	for _, p := range []struct{ key, cidr string }{
		{"network.ue_pool", c.Network.UEPool},
		{"network.internet_pool", c.Network.InternetPool},
	} {
		prefix, err := netip.ParsePrefix(p.cidr)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s CIDR %q: %v", p.key, p.cidr, err))
		} else if !prefix.Addr().Is4() {
			errs = append(errs, fmt.Sprintf("%s must be IPv4, got %q", p.key, p.cidr))
		}
	}

	// Port bases hold the last issued port, so 65535 leaves nothing to issue
	if c.Network.DLPortBase < 0 || c.Network.DLPortBase > 65534 {
		errs = append(errs, fmt.Sprintf("network.dl_port_base must be between 0 and 65534, got %d", c.Network.DLPortBase))
	}
	if c.Network.ULPortBase < 0 || c.Network.ULPortBase > 65534 {
		errs = append(errs, fmt.Sprintf("network.ul_port_base must be between 0 and 65534, got %d", c.Network.ULPortBase))
	}

	// Traffic model
	if c.Traffic.Interval <= 0 {
		errs = append(errs, "traffic.interval must be > 0")
	}
	if c.Traffic.MaxPackets < 0 {
		errs = append(errs, "traffic.max_packets must be >= 0")
	}
	if c.Traffic.PacketSize < 12 || c.Traffic.PacketSize > 1472 {
		errs = append(errs, fmt.Sprintf("traffic.packet_size must be between 12 and 1472, got %d", c.Traffic.PacketSize))
	}
	if !types.QoSClass(c.Traffic.QoSClass).Valid() {
		errs = append(errs, fmt.Sprintf("unknown traffic.qos_class %q", c.Traffic.QoSClass))
	}

	// Bearer backend
	switch c.Bearer.Backend {
	case "local":
	case "pfcp":
		if _, err := netip.ParseAddrPort(c.Bearer.SMFAddress); err != nil {
			errs = append(errs, fmt.Sprintf("bearer.smf_address must be ip:port, got %q", c.Bearer.SMFAddress))
		}
		if _, err := netip.ParseAddrPort(c.Bearer.UPFAddress); err != nil {
			errs = append(errs, fmt.Sprintf("bearer.upf_address must be ip:port, got %q", c.Bearer.UPFAddress))
		}
		if c.Bearer.SEIDStart == 0 {
			errs = append(errs, "bearer.seid_start must be > 0")
		}
		if c.Bearer.SEIDStrategy != "sequential" && c.Bearer.SEIDStrategy != "random" {
			errs = append(errs, fmt.Sprintf("bearer.seid_strategy must be 'sequential' or 'random', got %q", c.Bearer.SEIDStrategy))
		}
		if c.Bearer.ResponseTimeoutMs <= 0 {
			errs = append(errs, "bearer.response_timeout_ms must be > 0")
		}
		if c.Bearer.MaxRetries < 0 {
			errs = append(errs, "bearer.max_retries must be >= 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("bearer.backend must be 'local' or 'pfcp', got %q", c.Bearer.Backend))
	}
	if c.Bearer.MaxPerEndpoint < 1 || c.Bearer.MaxPerEndpoint > 10 {
		errs = append(errs, fmt.Sprintf("bearer.max_per_endpoint must be between 1 and 10, got %d", c.Bearer.MaxPerEndpoint))
	}
	if c.Bearer.RejectEvery < 0 {
		errs = append(errs, "bearer.reject_every must be >= 0")
	}

	// Session store
	switch c.Store.Backend {
	case "memory", "none":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, "store.redis_addr must be specified for the redis store")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be 'memory', 'redis' or 'none', got %q", c.Store.Backend))
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
