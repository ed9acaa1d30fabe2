package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
)

const ConfigFileName = ".metamask-buddy.json"

// Session backends.
const (
	SessionFile   = "file"
	SessionRedis  = "redis"
	SessionMemory = "memory"
)

// NetworkConfig holds configuration for a specific EVM network.
type NetworkConfig struct {
	ChainID     string   `json:"chain_id,omitempty"` // hex, e.g. "0x1"
	Name        string   `json:"name"`
	RPCURLs     []string `json:"rpc_urls"`
	ExplorerURL string   `json:"explorer_url,omitempty"`
}

// SessionConfig selects where the "was connected" flag is persisted.
type SessionConfig struct {
	Backend       string `json:"backend"`
	Path          string `json:"path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// HistoryConfig bounds the transaction history scan.
type HistoryConfig struct {
	LookbackBlocks    uint64 `json:"lookback_blocks"`
	MaxLogs           int    `json:"max_logs"`
	SyntheticFallback bool   `json:"synthetic_fallback"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `json:"level"`
	File  string `json:"file,omitempty"`
}

// Config is the whole application configuration.
type Config struct {
	Networks            []NetworkConfig
	SelectedNetwork     string
	Accounts            []string
	Session             SessionConfig
	History             HistoryConfig
	Port                int
	NoticeTimeoutMillis int
	Log                 LogConfig
}

// NoticeTimeout is how long transient notices stay visible.
func (c Config) NoticeTimeout() time.Duration {
	return time.Duration(c.NoticeTimeoutMillis) * time.Millisecond
}

// NetworkOptions lists the networks with a known chain id.
func (c Config) NetworkOptions() []models.NetworkOption {
	var opts []models.NetworkOption
	for _, n := range c.Networks {
		if n.ChainID == "" {
			continue
		}
		opts = append(opts, models.NetworkOption{ID: n.ChainID, Name: n.Name})
	}
	return opts
}

// Network looks up a configured network by chain id.
func (c Config) Network(chainID string) (NetworkConfig, bool) {
	for _, n := range c.Networks {
		if strings.EqualFold(n.ChainID, chainID) {
			return n, true
		}
	}
	return NetworkConfig{}, false
}

// ActiveNetwork returns the selected network, or the first one.
func (c Config) ActiveNetwork() (NetworkConfig, bool) {
	if n, ok := c.Network(c.SelectedNetwork); ok {
		return n, true
	}
	if len(c.Networks) > 0 {
		return c.Networks[0], true
	}
	return NetworkConfig{}, false
}

func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{ChainID: "0x1", Name: "Ethereum Mainnet", RPCURLs: []string{"https://ethereum-rpc.publicnode.com"}, ExplorerURL: "https://etherscan.io"},
		{ChainID: "0xaa36a7", Name: "Sepolia Testnet", RPCURLs: []string{"https://ethereum-sepolia-rpc.publicnode.com"}, ExplorerURL: "https://sepolia.etherscan.io"},
		{ChainID: "0x89", Name: "Polygon Mainnet", RPCURLs: []string{"https://polygon-bor-rpc.publicnode.com"}, ExplorerURL: "https://polygonscan.com"},
	}
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Networks:        DefaultNetworks(),
		SelectedNetwork: "0x1",
		Session:         SessionConfig{Backend: SessionFile},
		History: HistoryConfig{
			LookbackBlocks: 1000,
			MaxLogs:        100,
		},
		Port:                8080,
		NoticeTimeoutMillis: 1500,
		Log:                 LogConfig{Level: "info"},
	}
}

func GetConfigPath(customPath string) (string, error) {
	if customPath != "" {
		return customPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigFileName), nil
}

func LoadConfigFromFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return Config{}, err
	}
	defer func() { _ = f.Close() }()
	return LoadConfig(f)
}

type fileConfig struct {
	RPCURLs             []string        `json:"rpc_urls,omitempty"` // Legacy
	Networks            []NetworkConfig `json:"networks"`
	SelectedNetwork     string          `json:"selected_network"`
	Accounts            []string        `json:"accounts,omitempty"`
	Session             *SessionConfig  `json:"session,omitempty"`
	History             *historyFile    `json:"history,omitempty"`
	Port                *int            `json:"port,omitempty"`
	NoticeTimeoutMillis *int            `json:"notice_timeout_ms,omitempty"`
	Log                 *LogConfig      `json:"log,omitempty"`
}

type historyFile struct {
	LookbackBlocks    *uint64 `json:"lookback_blocks,omitempty"`
	MaxLogs           *int    `json:"max_logs,omitempty"`
	SyntheticFallback *bool   `json:"synthetic_fallback,omitempty"`
}

func LoadConfig(r io.Reader) (Config, error) {
	var raw fileConfig
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Config{}, err
	}

	cfg := Default()

	// Migration for legacy config
	if len(raw.Networks) == 0 && len(raw.RPCURLs) > 0 {
		raw.Networks = []NetworkConfig{{
			ChainID:     "0x1",
			Name:        "Ethereum Mainnet",
			RPCURLs:     raw.RPCURLs,
			ExplorerURL: "https://etherscan.io",
		}}
		raw.SelectedNetwork = "0x1"
	}
	if len(raw.Networks) > 0 {
		cfg.Networks = raw.Networks
		cfg.SelectedNetwork = ""
	}
	if raw.SelectedNetwork != "" {
		cfg.SelectedNetwork = raw.SelectedNetwork
	}
	if cfg.SelectedNetwork == "" && len(cfg.Networks) > 0 {
		cfg.SelectedNetwork = cfg.Networks[0].ChainID
	}
	cfg.Accounts = raw.Accounts

	if raw.Session != nil {
		cfg.Session = *raw.Session
		if cfg.Session.Backend == "" {
			cfg.Session.Backend = SessionFile
		}
	}
	if raw.History != nil {
		if raw.History.LookbackBlocks != nil {
			cfg.History.LookbackBlocks = *raw.History.LookbackBlocks
		}
		if raw.History.MaxLogs != nil {
			cfg.History.MaxLogs = *raw.History.MaxLogs
		}
		if raw.History.SyntheticFallback != nil {
			cfg.History.SyntheticFallback = *raw.History.SyntheticFallback
		}
	}
	if raw.Port != nil {
		cfg.Port = *raw.Port
	}
	if raw.NoticeTimeoutMillis != nil {
		cfg.NoticeTimeoutMillis = *raw.NoticeTimeoutMillis
	}
	if raw.Log != nil {
		if raw.Log.Level != "" {
			cfg.Log.Level = raw.Log.Level
		}
		cfg.Log.File = raw.Log.File
	}
	return cfg, nil
}

// Validate checks the invariants SaveConfig enforces.
func (c Config) Validate() error {
	if len(c.Networks) == 0 {
		return fmt.Errorf("validation failed: configuration must have at least one network")
	}
	for i, n := range c.Networks {
		if strings.TrimSpace(n.Name) == "" {
			return fmt.Errorf("validation failed: network at index %d has no name", i)
		}
		if n.ChainID != "" && !strings.HasPrefix(n.ChainID, "0x") {
			return fmt.Errorf("validation failed: network %s chain id %q is not hex", n.Name, n.ChainID)
		}
	}
	switch c.Session.Backend {
	case SessionFile, SessionRedis, SessionMemory:
	default:
		return fmt.Errorf("validation failed: unknown session backend %q", c.Session.Backend)
	}
	if c.History.MaxLogs <= 0 {
		return fmt.Errorf("validation failed: history max_logs must be positive")
	}
	return nil
}

func SaveConfig(cfg Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	lookback := cfg.History.LookbackBlocks
	maxLogs := cfg.History.MaxLogs
	fallback := cfg.History.SyntheticFallback
	session := cfg.Session
	logCfg := cfg.Log
	out := fileConfig{
		Networks:        cfg.Networks,
		SelectedNetwork: cfg.SelectedNetwork,
		Accounts:        cfg.Accounts,
		Session:         &session,
		History: &historyFile{
			LookbackBlocks:    &lookback,
			MaxLogs:           &maxLogs,
			SyntheticFallback: &fallback,
		},
		Port:                &cfg.Port,
		NoticeTimeoutMillis: &cfg.NoticeTimeoutMillis,
		Log:                 &logCfg,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return fmt.Errorf("validation failed: encoded configuration is empty")
	}

	// Create a backup of the existing file
	if _, err := os.Stat(path); err == nil {
		backupPath := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102-150405"))
		input, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read existing config for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return fmt.Errorf("failed to write backup config: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

func RestoreLastBackup(configPath string) error {
	matches, err := filepath.Glob(configPath + ".*.bak")
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("no backup files found")
	}
	sort.Strings(matches)
	lastBackup := matches[len(matches)-1]

	data, err := os.ReadFile(lastBackup)
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}
