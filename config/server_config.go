package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RPCConfig holds the options consumed by the rpc package at startup.
// None of these are hot-reloaded; a process picks a driver and an address
// scheme once, at construction time.
type RPCConfig struct {
	IP          string        `yaml:"ip"`
	URLPattern  string        `yaml:"url_pattern,omitempty"`
	RcvTimeout  time.Duration `yaml:"-"`
	SendTimeout time.Duration `yaml:"-"`
	Driver      string        `yaml:"driver"`

	RcvTimeoutSec  int `yaml:"rcv_timeout,omitempty"`
	SendTimeoutSec int `yaml:"send_timeout,omitempty"`
}

// RabbitConfig holds rabbit.* options, only consulted by the brokered backend.
type RabbitConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port,omitempty"`
	User        string `yaml:"user,omitempty"`
	Password    string `yaml:"password,omitempty"`
	KeepAlive   int    `yaml:"keep_alive,omitempty"`
	ReconnectOn int    `yaml:"reconnect_on,omitempty"`
}

// ConsulConfig configures the optional service-registration hook
// rpc.WithConsulRegistration. Left zero-value, no registration is attempted.
type ConsulConfig struct {
	Addr        string `yaml:"addr,omitempty"`
	ServiceName string `yaml:"service_name,omitempty"`
}

type ServerConfig struct {
	RPC    RPCConfig    `yaml:"rpc"`
	Rabbit RabbitConfig `yaml:"rabbit"`
	Consul ConsulConfig `yaml:"consul"`
}

const (
	defaultURLPattern  = "tcp://{ip}:{port}"
	defaultRcvTimeout  = 20
	defaultSendTimeout = 20
	defaultRabbitPort  = 5672
	defaultKeepAlive   = 60
	defaultReconnectOn = 2

	appName = "daorpc"
)

func defaults() ServerConfig {
	return ServerConfig{
		RPC: RPCConfig{
			URLPattern:     defaultURLPattern,
			RcvTimeoutSec:  defaultRcvTimeout,
			SendTimeoutSec: defaultSendTimeout,
		},
		Rabbit: RabbitConfig{
			Host:        "127.0.0.1",
			Port:        defaultRabbitPort,
			User:        "guest",
			Password:    "guest",
			KeepAlive:   defaultKeepAlive,
			ReconnectOn: defaultReconnectOn,
		},
	}
}

var (
	instance *ServerConfig
)

// Get returns the process-wide configuration, loading it from the layered
// search path on first use. Subsequent calls are cheap.
func Get() *ServerConfig {
	if instance == nil {
		cfg, err := Load()
		if err != nil {
			panic(fmt.Sprintf("daorpc: failed to load config: %v", err))
		}
		instance = cfg
	}
	return instance
}

// searchPaths returns the layered config file locations in priority order,
// lowest priority first: system-wide, user, then working-directory local.
// Each later file's fields override the earlier ones.
func searchPaths() []string {
	home, _ := os.UserHomeDir()
	cwd, _ := os.Getwd()
	paths := []string{
		filepath.Join("/etc", appName, appName+".yaml"),
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, "."+appName, appName+".yaml"))
	}
	if cwd != "" {
		paths = append(paths, filepath.Join(cwd, "etc", appName+".yaml"))
	}
	return paths
}

// Load reads and merges the layered config files, applying defaults for
// anything left unset. Missing files are skipped, not an error -- a
// process with no config files at all still runs with the documented
// defaults from spec.md §3.
func Load() (*ServerConfig, error) {
	cfg := defaults()
	for _, path := range searchPaths() {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("daorpc: failed to read config file %s: %w", path, err)
		}
		var layer ServerConfig
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return nil, fmt.Errorf("daorpc: failed to unmarshal config data from %s: %w", path, err)
		}
		mergeLayer(&cfg, &layer)
	}
	finalize(&cfg)
	return &cfg, nil
}

// mergeLayer overlays non-zero fields of layer onto base.
func mergeLayer(base, layer *ServerConfig) {
	if layer.RPC.IP != "" {
		base.RPC.IP = layer.RPC.IP
	}
	if layer.RPC.URLPattern != "" {
		base.RPC.URLPattern = layer.RPC.URLPattern
	}
	if layer.RPC.Driver != "" {
		base.RPC.Driver = layer.RPC.Driver
	}
	if layer.RPC.RcvTimeoutSec != 0 {
		base.RPC.RcvTimeoutSec = layer.RPC.RcvTimeoutSec
	}
	if layer.RPC.SendTimeoutSec != 0 {
		base.RPC.SendTimeoutSec = layer.RPC.SendTimeoutSec
	}
	if layer.Rabbit.Host != "" {
		base.Rabbit.Host = layer.Rabbit.Host
	}
	if layer.Rabbit.Port != 0 {
		base.Rabbit.Port = layer.Rabbit.Port
	}
	if layer.Rabbit.User != "" {
		base.Rabbit.User = layer.Rabbit.User
	}
	if layer.Rabbit.Password != "" {
		base.Rabbit.Password = layer.Rabbit.Password
	}
	if layer.Rabbit.KeepAlive != 0 {
		base.Rabbit.KeepAlive = layer.Rabbit.KeepAlive
	}
	if layer.Rabbit.ReconnectOn != 0 {
		base.Rabbit.ReconnectOn = layer.Rabbit.ReconnectOn
	}
	if layer.Consul.Addr != "" {
		base.Consul.Addr = layer.Consul.Addr
	}
	if layer.Consul.ServiceName != "" {
		base.Consul.ServiceName = layer.Consul.ServiceName
	}
}

// finalize derives the time.Duration fields from their YAML-sourced
// integer-seconds counterparts (see DESIGN.md Open Question #3: send_timeout
// is treated as seconds everywhere in this implementation).
func finalize(cfg *ServerConfig) {
	cfg.RPC.RcvTimeout = time.Duration(cfg.RPC.RcvTimeoutSec) * time.Second
	cfg.RPC.SendTimeout = time.Duration(cfg.RPC.SendTimeoutSec) * time.Second
}

// Reset clears the cached singleton. Intended for tests that need to
// reload configuration under a different working directory or env.
func Reset() {
	instance = nil
}
