// Copyright 2025 The repmgr Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FailoverMode selects between automatic failover and passive monitoring.
type FailoverMode string

const (
	FailoverAutomatic FailoverMode = "automatic"
	FailoverManual    FailoverMode = "manual"
)

// Config is the daemon configuration read from the repmgr.conf-style
// key=value file.
type Config struct {
	// FilePath is where the configuration was loaded from; kept for
	// SIGHUP-driven rereads.
	FilePath string

	NodeID       int
	ConnInfo     string
	FailoverMode FailoverMode

	PromoteCommand        string
	ServicePromoteCommand string
	FollowCommand         string
	PromoteDelay          int

	LogLevel          string
	LogFile           string
	LogStatusInterval int

	PrimaryResponseTimeout     int
	PrimaryNotificationTimeout int
	ReconnectAttempts          int
	ReconnectInterval          int

	MonitoringHistory bool

	EnableHTTPAPI            bool
	HTTPAPIPort              int
	EnablePrometheusExporter bool
	PrometheusExporterPort   int
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	v.SetDefault("failover_mode", string(FailoverManual))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_status_interval", 300)
	v.SetDefault("primary_response_timeout", 60)
	v.SetDefault("primary_notification_timeout", 60)
	v.SetDefault("reconnect_attempts", 5)
	v.SetDefault("reconnect_interval", 1)
	v.SetDefault("http_api", true)
	v.SetDefault("http_api_port", 54545)
	v.SetDefault("prometheus_exporter", true)
	v.SetDefault("prometheus_exporter_port", 50505)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	// viper's INI codec places keys written outside any [section] under a
	// nested "default" section; lift them to the top level
	for key, value := range v.GetStringMap("default") {
		v.Set(key, value)
	}

	cfg := &Config{
		FilePath:                   path,
		NodeID:                     v.GetInt("node_id"),
		ConnInfo:                   v.GetString("conninfo"),
		FailoverMode:               FailoverMode(v.GetString("failover_mode")),
		PromoteCommand:             v.GetString("promote_command"),
		ServicePromoteCommand:      v.GetString("service_promote_command"),
		FollowCommand:              v.GetString("follow_command"),
		PromoteDelay:               v.GetInt("promote_delay"),
		LogLevel:                   v.GetString("log_level"),
		LogFile:                    v.GetString("log_file"),
		LogStatusInterval:          v.GetInt("log_status_interval"),
		PrimaryResponseTimeout:     v.GetInt("primary_response_timeout"),
		PrimaryNotificationTimeout: v.GetInt("primary_notification_timeout"),
		ReconnectAttempts:          v.GetInt("reconnect_attempts"),
		ReconnectInterval:          v.GetInt("reconnect_interval"),
		MonitoringHistory:          v.GetBool("monitoring_history"),
		EnableHTTPAPI:              v.GetBool("http_api"),
		HTTPAPIPort:                v.GetInt("http_api_port"),
		EnablePrometheusExporter:   v.GetBool("prometheus_exporter"),
		PrometheusExporterPort:     v.GetInt("prometheus_exporter_port"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration invariants that must hold before the
// daemon starts monitoring.
func (c *Config) Validate() error {
	if c.NodeID <= 0 {
		return fmt.Errorf("\"node_id\" must be set to a positive integer")
	}

	if c.ConnInfo == "" {
		return fmt.Errorf("\"conninfo\" must be defined in the configuration file")
	}

	switch c.FailoverMode {
	case FailoverAutomatic, FailoverManual:
	default:
		return fmt.Errorf("\"failover_mode\" must be \"automatic\" or \"manual\"")
	}

	if c.FailoverMode == FailoverAutomatic {
		if c.PromoteCommand == "" && c.ServicePromoteCommand == "" {
			return fmt.Errorf("either \"promote_command\" or \"service_promote_command\" must be defined in the configuration file")
		}
		if c.FollowCommand == "" {
			return fmt.Errorf("\"follow_command\" must be defined in the configuration file")
		}
	}

	if !IsValidLogLevel(c.LogLevel) {
		return fmt.Errorf("\"log_level\" must be one of debug/info/warning/error")
	}

	return nil
}

// IsValidLogLevel reports whether l names a supported log level.
func IsValidLogLevel(l string) bool {
	return l == "debug" || l == "info" || l == "warning" || l == "error"
}

// ReconnectIntervalDuration is the pause between reconnection attempts.
func (c *Config) ReconnectIntervalDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Second
}

// PrimaryResponseTimeoutDuration bounds session establishment to peers.
func (c *Config) PrimaryResponseTimeoutDuration() time.Duration {
	return time.Duration(c.PrimaryResponseTimeout) * time.Second
}
