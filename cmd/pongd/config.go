package main

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Cluster     ClusterConfig     `toml:"cluster"`
	Matchmaking MatchmakingConfig `toml:"matchmaking"`
	Game        GameConfig        `toml:"game"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Role    string `toml:"role"` // lobby, game, or matchmaker
	Name    string `toml:"name"`
	Addr    string `toml:"addr"`
	DataDir string `toml:"data_dir"`
}

type ClusterConfig struct {
	AdvertiseAddr string       `toml:"advertise_addr"`
	PickPolicy    string       `toml:"pick_policy"` // "random" or "round_robin"
	Peers         []PeerConfig `toml:"peers"`
}

type PeerConfig struct {
	Addr string   `toml:"addr"`
	Tags []string `toml:"tags"`
}

type MatchmakingConfig struct {
	TimeoutSec int `toml:"timeout_sec"`
}

type GameConfig struct {
	JoinTimeoutSec int    `toml:"join_timeout_sec"`
	ResultURL      string `toml:"result_url"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

func (m MatchmakingConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSec) * time.Second
}

func (g GameConfig) JoinTimeout() time.Duration {
	return time.Duration(g.JoinTimeoutSec) * time.Second
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Role:    "lobby",
			Name:    "pongd",
			Addr:    "127.0.0.1:8012",
			DataDir: "data",
		},
		Cluster: ClusterConfig{
			PickPolicy: "random",
		},
		Matchmaking: MatchmakingConfig{TimeoutSec: 10},
		Game:        GameConfig{JoinTimeoutSec: 30},
		Logging:     LoggingConfig{Level: "info"},
	}
}

// loadConfig reads path over the built-in defaults. A missing file is not
// an error; flags and defaults carry a bare single-node setup.
func loadConfig(path string) (*Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
