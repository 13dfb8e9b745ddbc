package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "OrchestratorSiphon/internal/errors"
)

const (
	orchAddr     = "0x1111111111111111111111111111111111111111"
	receiverAddr = "0x2222222222222222222222222222222222222222"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "siphon.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"accounts": [{"keystore": "keys/orch.json", "password": "secret", "fee_receiver": "`+receiverAddr+`"}],
		"intervals": {"idle": "30s", "stake": 7200}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.L2 != "https://arb1.arbitrum.io/rpc" {
		t.Fatalf("unexpected rpc %s", cfg.RPC.L2)
	}
	if cfg.Thresholds.StakeThreshold != "100" || cfg.Thresholds.BalanceMinRetained != "0.02" {
		t.Fatalf("threshold defaults not applied: %+v", cfg.Thresholds)
	}
	if cfg.Intervals.Idle.Std() != 30*time.Second || cfg.Intervals.Stake.Std() != 2*time.Hour {
		t.Fatalf("unexpected intervals %+v", cfg.Intervals)
	}
	if cfg.Intervals.Round.Std() != 15*time.Minute {
		t.Fatalf("round interval default not applied: %v", cfg.Intervals.Round.Std())
	}
	acct := cfg.Accounts[0]
	if acct.Name != "orchestrator-1" || acct.StakeReceiver != receiverAddr || !acct.RewardEnabled() {
		t.Fatalf("unexpected account defaults %+v", acct)
	}
	if acct.Keystore != filepath.Join(filepath.Dir(path), "keys/orch.json") {
		t.Fatalf("keystore path not resolved: %s", acct.Keystore)
	}
	if cfg.Snapshot.Driver != "file" || !strings.HasSuffix(cfg.Snapshot.Path, "snapshot.json") {
		t.Fatalf("unexpected snapshot defaults %+v", cfg.Snapshot)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApplyEnvReplacesAccounts(t *testing.T) {
	env := map[string]string{
		"SIPHON_KEYSTORES":     "/keys/a.json, /keys/b.json",
		"SIPHON_PASSWORDS":     "pa,pb",
		"SIPHON_SOURCES":       orchAddr,
		"SIPHON_TARGETS_ETH":   receiverAddr + "," + receiverAddr,
		"SIPHON_ETH_MINVAL":    "0.05",
		"SIPHON_ETH_MAXVAL":    "0.5",
		"SIPHON_LPT_THRESHOLD": "250",
		"SIPHON_TIMESTAMPED":   "false",
		"SIPHON_VERBOSITY":     "10",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := &Config{Accounts: []AccountConfig{{Keystore: "/from/file.json"}}}
	if err := cfg.ApplyEnv(lookup); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	cfg.applyDefaults("/etc/siphon")

	if len(cfg.Accounts) != 2 {
		t.Fatalf("expected env accounts to replace file accounts, got %d", len(cfg.Accounts))
	}
	if cfg.Accounts[1].Keystore != "/keys/b.json" || cfg.Accounts[1].Password != "pb" {
		t.Fatalf("unexpected second account %+v", cfg.Accounts[1])
	}
	if cfg.Accounts[0].Address != orchAddr || cfg.Accounts[1].Address != "" {
		t.Fatalf("sources not zipped by position: %+v", cfg.Accounts)
	}
	if cfg.Thresholds.BalanceMinRetained != "0.05" || cfg.Thresholds.BalanceThreshold != "0.5" || cfg.Thresholds.StakeThreshold != "250" {
		t.Fatalf("threshold overrides not applied: %+v", cfg.Thresholds)
	}
	if *cfg.Logging.Timestamped || cfg.Logging.Level != "10" {
		t.Fatalf("logging overrides not applied: %+v", cfg.Logging)
	}
}

func TestApplyEnvRejectsBadBool(t *testing.T) {
	cfg := &Config{}
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "SIPHON_TIMESTAMPED" {
			return "sometimes", true
		}
		return "", false
	})
	if !xerrors.Is(err, xerrors.CodeConfigFailure) {
		t.Fatalf("expected config failure, got %v", err)
	}
}

func TestValidateReportsConfigFailure(t *testing.T) {
	cases := map[string]func(*Config){
		"no accounts":       func(c *Config) { c.Accounts = nil },
		"bad receiver":      func(c *Config) { c.Accounts[0].FeeReceiver = "0x123" },
		"too many decimals": func(c *Config) { c.Thresholds.FeeThreshold = "0.0000000000000000001" },
		"sweep mode":        func(c *Config) { c.Thresholds.SweepMode = "burn" },
		"zero fixed":        func(c *Config) { c.Thresholds.FixedSweepAmount = "0" },
		"snapshot driver":   func(c *Config) { c.Snapshot.Driver = "mongo" },
		"mysql without dsn": func(c *Config) { c.Snapshot.Driver = "mysql" },
		"bad contract":      func(c *Config) { c.RPC.Contracts.TicketBroker = "broker" },
		"bad gas":           func(c *Config) { c.Gas.MaxFeeGwei = "0.0000000001" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := &Config{Accounts: []AccountConfig{{Keystore: "/k.json", FeeReceiver: receiverAddr}}}
			cfg.applyDefaults("/tmp")
			mutate(cfg)
			err := cfg.Validate()
			if !xerrors.Is(err, xerrors.CodeConfigFailure) {
				t.Fatalf("expected config failure, got %v", err)
			}
		})
	}
}

func TestGasPrices(t *testing.T) {
	maxFee, tip := GasConfig{MaxFeeGwei: "2", PriorityFeeGwei: "0.01"}.GasPrices()
	if maxFee.Int64() != 2_000_000_000 || tip.Int64() != 10_000_000 {
		t.Fatalf("unexpected gas prices %s %s", maxFee, tip)
	}
	if maxFee, tip := (GasConfig{}).GasPrices(); maxFee != nil || tip != nil {
		t.Fatal("unset gas prices must be nil")
	}
}
