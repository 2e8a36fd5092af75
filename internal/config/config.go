/*
Copyright (C) 2026  memkv contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package config loads the server's configuration: defaults, overlaid by an
// optional YAML file, overlaid by explicit CLI flag values — the same
// layered-merge shape as the pack's ticket.Config, adapted to a YAML server
// config instead of a per-project JSONC file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the memkv server (spec §4.H/§4.G/§4.E).
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	UnixPath string `yaml:"unix_path"`

	// DB is the ADB tuning expression (spec §4.E), e.g. "*#bnum=1000000"
	// or "/var/lib/memkv/data.hdb#bnum=1000000#apow=4".
	DB string `yaml:"db"`

	Workers        int           `yaml:"workers"`
	ConnDeadline   time.Duration `yaml:"conn_deadline"`
	WatchdogSlack  time.Duration `yaml:"watchdog_slack"`
	WatchdogPeriod time.Duration `yaml:"watchdog_period"`

	// ULogDir enables the update log (and therefore RESTORE/REPL) when
	// non-empty.
	ULogDir    string `yaml:"ulog_dir"`
	ULogLimSiz int64  `yaml:"ulog_limit_bytes"`

	// MasterHost/MasterPort, when set, make this server a replication
	// follower of another memkv instance at startup (spec §4.G).
	MasterHost string `yaml:"master_host"`
	MasterPort int    `yaml:"master_port"`

	// Sources tracks which file (if any) contributed this config, for
	// diagnostics; not serialized.
	Sources ConfigSources `yaml:"-"`
}

// ConfigSources records where configuration values came from.
type ConfigSources struct {
	File string // path to the loaded YAML file, empty if none
}

// Default returns the zero-value server configuration with sane defaults
// for everything internal/serv.Config.setDefaults would otherwise need to
// fill in — kept explicit here so a printed config is self-describing.
func Default() Config {
	return Config{
		Host:           "",
		Port:           1978, // Tokyo Tyrant's traditional default port
		Workers:        5,
		ConnDeadline:   10 * time.Second,
		WatchdogSlack:  2 * time.Second,
		WatchdogPeriod: time.Second,
		DB:             "*",
	}
}

// Overrides carries CLI-flag values (spec §4.I "Open" callers and
// cmd/memkv-server share this). A nil pointer field means "flag not set,
// don't override".
type Overrides struct {
	Host           *string
	Port           *int
	UnixPath       *string
	DB             *string
	Workers        *int
	ULogDir        *string
	ULogLimSiz     *int64
	MasterHost     *string
	MasterPort     *int
}

// Load builds the effective configuration: Default(), overlaid by the YAML
// file at path (if path is non-empty and the file exists), overlaid by any
// non-nil fields in overrides.
func Load(path string, overrides Overrides) (Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, loaded, err := loadFile(path)
		if err != nil {
			return Config{}, err
		}
		if loaded {
			cfg = merge(cfg, fileCfg)
			cfg.Sources.File = path
		}
	}

	applyOverrides(&cfg, overrides)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, false, nil
		}
		return Config{}, false, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, false, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, true, nil
}

// merge overlays non-zero fields of overlay onto base.
func merge(base, overlay Config) Config {
	if overlay.Host != "" {
		base.Host = overlay.Host
	}
	if overlay.Port != 0 {
		base.Port = overlay.Port
	}
	if overlay.UnixPath != "" {
		base.UnixPath = overlay.UnixPath
	}
	if overlay.DB != "" {
		base.DB = overlay.DB
	}
	if overlay.Workers != 0 {
		base.Workers = overlay.Workers
	}
	if overlay.ConnDeadline != 0 {
		base.ConnDeadline = overlay.ConnDeadline
	}
	if overlay.WatchdogSlack != 0 {
		base.WatchdogSlack = overlay.WatchdogSlack
	}
	if overlay.WatchdogPeriod != 0 {
		base.WatchdogPeriod = overlay.WatchdogPeriod
	}
	if overlay.ULogDir != "" {
		base.ULogDir = overlay.ULogDir
	}
	if overlay.ULogLimSiz != 0 {
		base.ULogLimSiz = overlay.ULogLimSiz
	}
	if overlay.MasterHost != "" {
		base.MasterHost = overlay.MasterHost
	}
	if overlay.MasterPort != 0 {
		base.MasterPort = overlay.MasterPort
	}
	return base
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Host != nil {
		cfg.Host = *o.Host
	}
	if o.Port != nil {
		cfg.Port = *o.Port
	}
	if o.UnixPath != nil {
		cfg.UnixPath = *o.UnixPath
	}
	if o.DB != nil {
		cfg.DB = *o.DB
	}
	if o.Workers != nil {
		cfg.Workers = *o.Workers
	}
	if o.ULogDir != nil {
		cfg.ULogDir = *o.ULogDir
	}
	if o.ULogLimSiz != nil {
		cfg.ULogLimSiz = *o.ULogLimSiz
	}
	if o.MasterHost != nil {
		cfg.MasterHost = *o.MasterHost
	}
	if o.MasterPort != nil {
		cfg.MasterPort = *o.MasterPort
	}
}

func validate(cfg Config) error {
	if cfg.Port < 1 && cfg.UnixPath == "" {
		return fmt.Errorf("config: either port or unix_path must be set")
	}
	if cfg.DB == "" {
		return fmt.Errorf("config: db must not be empty")
	}
	return nil
}
