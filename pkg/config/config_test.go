package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_Malformed(t *testing.T) {
	reader := strings.NewReader(`{ "networks": [`)
	_, err := LoadConfig(reader)
	if err == nil {
		t.Error("Expected error loading malformed config, got nil")
	}
}

func TestLoadConfigFromFile_Missing(t *testing.T) {
	cfg, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(cfg.Networks) != len(DefaultNetworks()) {
		t.Errorf("Expected default networks, got %d", len(cfg.Networks))
	}
	if cfg.Session.Backend != SessionFile {
		t.Errorf("Expected file session backend, got %q", cfg.Session.Backend)
	}
}

func TestSaveConfig(t *testing.T) {
	tmpPath := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Networks = []NetworkConfig{{
		ChainID: "0x539",
		Name:    "Local",
		RPCURLs: []string{"http://localhost:8545"},
	}}
	cfg.SelectedNetwork = "0x539"
	cfg.Accounts = []string{"0xAbc"}
	cfg.History.SyntheticFallback = true

	if err := SaveConfig(cfg, tmpPath); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfigFromFile(tmpPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if len(loaded.Networks) != 1 || loaded.Networks[0].Name != "Local" {
		t.Errorf("Network mismatch")
	}
	if loaded.SelectedNetwork != "0x539" {
		t.Errorf("Selected network mismatch: %s", loaded.SelectedNetwork)
	}
	if len(loaded.Accounts) != 1 || loaded.Accounts[0] != "0xAbc" {
		t.Errorf("Accounts mismatch")
	}
	if !loaded.History.SyntheticFallback {
		t.Errorf("Synthetic fallback flag lost")
	}

	// A second save leaves a backup that can be restored.
	cfg.Networks[0].Name = "Renamed"
	if err := SaveConfig(cfg, tmpPath); err != nil {
		t.Fatalf("second SaveConfig failed: %v", err)
	}
	if err := RestoreLastBackup(tmpPath); err != nil {
		t.Fatalf("RestoreLastBackup failed: %v", err)
	}
	restored, err := LoadConfigFromFile(tmpPath)
	if err != nil {
		t.Fatal(err)
	}
	if restored.Networks[0].Name != "Local" {
		t.Errorf("Expected restored name Local, got %s", restored.Networks[0].Name)
	}
}

func TestSaveConfig_Validation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Default()
	cfg.Networks = nil
	if err := SaveConfig(cfg, path); err == nil {
		t.Error("Expected validation error for empty networks")
	}

	cfg = Default()
	cfg.Networks[0].ChainID = "1"
	if err := SaveConfig(cfg, path); err == nil {
		t.Error("Expected validation error for non-hex chain id")
	}

	cfg = Default()
	cfg.Session.Backend = "etcd"
	if err := SaveConfig(cfg, path); err == nil {
		t.Error("Expected validation error for unknown backend")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("Invalid config must not be written")
	}
}

func TestLoadConfig_TableDriven(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		jsonContent string
		expectError bool
		validate    func(*testing.T, Config)
	}{
		{
			name: "Valid Modern Config",
			jsonContent: `{
				"networks": [{"chain_id": "0x89", "name": "Polygon", "rpc_urls": ["http://polygon"]}],
				"selected_network": "0x89",
				"session": {"backend": "redis", "redis_addr": "localhost:6379"},
				"history": {"lookback_blocks": 50, "max_logs": 10},
				"notice_timeout_ms": 3000
			}`,
			validate: func(t *testing.T, c Config) {
				if len(c.Networks) != 1 || c.Networks[0].ChainID != "0x89" {
					t.Errorf("Network mismatch: %+v", c.Networks)
				}
				if c.Session.Backend != SessionRedis || c.Session.RedisAddr != "localhost:6379" {
					t.Errorf("Session mismatch: %+v", c.Session)
				}
				if c.History.LookbackBlocks != 50 || c.History.MaxLogs != 10 {
					t.Errorf("History mismatch: %+v", c.History)
				}
				if c.NoticeTimeout() != 3*time.Second {
					t.Errorf("Notice timeout mismatch: %s", c.NoticeTimeout())
				}
			},
		},
		{
			name:        "Legacy Networks (Root RPC URLs)",
			jsonContent: `{"rpc_urls": ["http://legacy-rpc"]}`,
			validate: func(t *testing.T, c Config) {
				if len(c.Networks) != 1 {
					t.Fatalf("Expected 1 network from legacy migration, got %d", len(c.Networks))
				}
				if c.Networks[0].Name != "Ethereum Mainnet" {
					t.Errorf("Expected default name 'Ethereum Mainnet', got %s", c.Networks[0].Name)
				}
				if c.SelectedNetwork != "0x1" {
					t.Errorf("Expected selected 0x1, got %s", c.SelectedNetwork)
				}
			},
		},
		{
			name:        "Malformed JSON",
			jsonContent: `{ "networks": [ unclosed_array`,
			expectError: true,
		},
		{
			name:        "Partial Config (Defaults)",
			jsonContent: `{"networks": [{"name": "Local", "rpc_urls": ["http://localhost:8545"]}]}`,
			validate: func(t *testing.T, c Config) {
				if c.History.LookbackBlocks != 1000 {
					t.Errorf("Expected default lookback 1000, got %d", c.History.LookbackBlocks)
				}
				if c.History.MaxLogs != 100 {
					t.Errorf("Expected default max logs 100, got %d", c.History.MaxLogs)
				}
				if c.History.SyntheticFallback {
					t.Errorf("Synthetic fallback must default to off")
				}
				if c.Port != 8080 {
					t.Errorf("Expected default port 8080, got %d", c.Port)
				}
				if len(c.NetworkOptions()) != 0 {
					t.Errorf("Networks without a chain id are not offered")
				}
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := LoadConfig(strings.NewReader(tt.jsonContent))

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if tt.validate != nil {
				tt.validate(t, cfg)
			}
		})
	}
}

func TestActiveNetwork(t *testing.T) {
	cfg := Default()
	cfg.SelectedNetwork = "0xAA36A7"
	n, ok := cfg.ActiveNetwork()
	if !ok || n.Name != "Sepolia Testnet" {
		t.Errorf("Expected Sepolia, got %+v", n)
	}

	cfg.SelectedNetwork = "0xdead"
	n, ok = cfg.ActiveNetwork()
	if !ok || n.ChainID != "0x1" {
		t.Errorf("Expected fallback to first network, got %+v", n)
	}
}
