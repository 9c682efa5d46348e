package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stabilis.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config file not written: %v", err)
	}
	if cfg.ListenAddress != ":8095" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.Engine.TargetPrice != "25" {
		t.Fatalf("default target price = %q", cfg.Engine.TargetPrice)
	}

	// Loading again must read the persisted file, not re-create it.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Engine.StablePoolStable != cfg.Engine.StablePoolStable {
		t.Fatalf("reload mismatch: %q vs %q", again.Engine.StablePoolStable, cfg.Engine.StablePoolStable)
	}
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stabilis.toml")
	raw := `
ListenAddress = ":9000"

[Engine]
TargetPrice = "30.5"
MeltRate = "1.0"
CondensationRate = "0"
BaseCondensationRate = "0.01"
ControlPriceFactor = "1.0"
CondensationFactor = "0.5"
ControlPricePeriod = 3600
CondensationPeriod = 3600
TargetPricePeriod = 86400
StablePoolStable = "2000000"
StablePoolMeasurement = "80000"
ControlPoolStable = "500000"
ControlPoolControl = "20000"

[[Engine.Allocations]]
Token = "MSR"
Account = "0x00000000000000000000000000000000000000aa"
Amount = "100"
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" {
		t.Fatalf("listen address = %q", cfg.ListenAddress)
	}
	if cfg.DataDir != "./stabilis-data" {
		t.Fatalf("data dir default not applied: %q", cfg.DataDir)
	}

	genesis, err := cfg.Engine.Genesis(1_700_000_000)
	if err != nil {
		t.Fatalf("genesis: %v", err)
	}
	wantTarget, _ := new(big.Int).SetString("30500000000000000000", 10)
	if genesis.TargetPrice.Cmp(wantTarget) != 0 {
		t.Fatalf("target price = %s, want %s", genesis.TargetPrice, wantTarget)
	}
	wantPool, _ := new(big.Int).SetString("2000000000000000000000000", 10)
	if genesis.StablePoolStable.Cmp(wantPool) != 0 {
		t.Fatalf("stable pool size = %s", genesis.StablePoolStable)
	}
	wantAlloc, _ := new(big.Int).SetString("100000000000000000000", 10)
	if len(genesis.Allocations) != 1 || genesis.Allocations[0].Amount.Cmp(wantAlloc) != 0 {
		t.Fatalf("allocations = %+v", genesis.Allocations)
	}

	params, err := cfg.Engine.Params()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if params.ControlPricePeriod != 3600 {
		t.Fatalf("control price period = %d", params.ControlPricePeriod)
	}
	wantFactor, _ := new(big.Int).SetString("500000000000000000", 10)
	if params.CondensationFactor.Cmp(wantFactor) != 0 {
		t.Fatalf("condensation factor = %s, want %s", params.CondensationFactor, wantFactor)
	}
}

func TestParseFixed(t *testing.T) {
	cases := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"25", "25000000000000000000", true},
		{"1.0", "1000000000000000000", true},
		{"0.05", "50000000000000000", true},
		{"-0.5", "-500000000000000000", true},
		{".5", "500000000000000000", true},
		{"0.0000000000000000001", "", false}, // 19 decimal places
		{"abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := parseFixed("field", tc.raw)
		if tc.ok != (err == nil) {
			t.Fatalf("parseFixed(%q) err = %v, want ok=%v", tc.raw, err, tc.ok)
		}
		if !tc.ok {
			continue
		}
		want, _ := new(big.Int).SetString(tc.want, 10)
		if got.Cmp(want) != 0 {
			t.Fatalf("parseFixed(%q) = %s, want %s", tc.raw, got, want)
		}
	}
}

func TestGenesisRejectsBadAllocation(t *testing.T) {
	engine := Engine{
		TargetPrice:           "25",
		MeltRate:              "1.0",
		CondensationRate:      "0",
		BaseCondensationRate:  "0",
		ControlPriceFactor:    "1.0",
		CondensationFactor:    "1.0",
		ControlPricePeriod:    86_400,
		CondensationPeriod:    86_400,
		TargetPricePeriod:     86_400,
		StablePoolStable:      "1000000",
		StablePoolMeasurement: "40000",
		ControlPoolStable:     "500000",
		ControlPoolControl:    "20000",
		Allocations: []Allocation{
			{Token: "XYZ", Account: "0x00000000000000000000000000000000000000aa", Amount: "1"},
		},
	}
	if _, err := engine.Genesis(0); err == nil {
		t.Fatal("unknown allocation token must be rejected")
	}
	engine.Allocations[0].Token = "MSR"
	engine.Allocations[0].Account = "not-an-address"
	if _, err := engine.Genesis(0); err == nil {
		t.Fatal("malformed allocation account must be rejected")
	}
}
