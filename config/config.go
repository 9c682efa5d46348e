package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"stabilis/native/fixedmath"
	"stabilis/native/stabilization"
)

type Config struct {
	ListenAddress string    `toml:"ListenAddress"`
	DataDir       string    `toml:"DataDir"`
	Environment   string    `toml:"Environment"`
	LogFile       string    `toml:"LogFile"`
	Telemetry     Telemetry `toml:"Telemetry"`
	Engine        Engine    `toml:"Engine"`
}

type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
}

// Engine holds the controller tuning and genesis state. Prices, rates,
// factors, pool sizes and allocation amounts are all decimal token strings
// ("25", "1.0", "0.05"), converted to 18-decimal fixed point on load.
type Engine struct {
	TargetPrice          string `toml:"TargetPrice"`
	MeltRate             string `toml:"MeltRate"`
	CondensationRate     string `toml:"CondensationRate"`
	BaseCondensationRate string `toml:"BaseCondensationRate"`
	ControlPriceFactor   string `toml:"ControlPriceFactor"`
	CondensationFactor   string `toml:"CondensationFactor"`
	ControlPricePeriod   uint64 `toml:"ControlPricePeriod"`
	CondensationPeriod   uint64 `toml:"CondensationPeriod"`
	TargetPricePeriod    uint64 `toml:"TargetPricePeriod"`

	StablePoolStable      string `toml:"StablePoolStable"`
	StablePoolMeasurement string `toml:"StablePoolMeasurement"`
	ControlPoolStable     string `toml:"ControlPoolStable"`
	ControlPoolControl    string `toml:"ControlPoolControl"`

	Allocations []Allocation `toml:"Allocations"`
}

type Allocation struct {
	Token   string `toml:"Token"`
	Account string `toml:"Account"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8095"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./stabilis-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8095",
		DataDir:       "./stabilis-data",
		Environment:   "local",
		Telemetry: Telemetry{
			Enabled:  false,
			Endpoint: "localhost:4318",
			Insecure: true,
		},
		Engine: Engine{
			TargetPrice:           "25",
			MeltRate:              "1.0",
			CondensationRate:      "0",
			BaseCondensationRate:  "0",
			ControlPriceFactor:    "1.0",
			CondensationFactor:    "1.0",
			ControlPricePeriod:    86_400,
			CondensationPeriod:    86_400,
			TargetPricePeriod:     30 * 86_400,
			StablePoolStable:      "1000000",
			StablePoolMeasurement: "40000",
			ControlPoolStable:     "500000",
			ControlPoolControl:    "20000",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// Params converts the tuning fields into controller parameters.
func (e Engine) Params() (stabilization.Params, error) {
	controlFactor, err := parseFixed("ControlPriceFactor", e.ControlPriceFactor)
	if err != nil {
		return stabilization.Params{}, err
	}
	condensationFactor, err := parseFixed("CondensationFactor", e.CondensationFactor)
	if err != nil {
		return stabilization.Params{}, err
	}
	baseRate, err := parseFixed("BaseCondensationRate", e.BaseCondensationRate)
	if err != nil {
		return stabilization.Params{}, err
	}
	params := stabilization.Params{
		ControlPriceFactor:   controlFactor,
		ControlPricePeriod:   e.ControlPricePeriod,
		CondensationFactor:   condensationFactor,
		CondensationPeriod:   e.CondensationPeriod,
		BaseCondensationRate: baseRate,
		TargetPricePeriod:    e.TargetPricePeriod,
	}
	if err := params.Validate(); err != nil {
		return stabilization.Params{}, err
	}
	return params, nil
}

// Genesis converts the genesis fields into engine genesis state anchored at
// the supplied timestamp.
func (e Engine) Genesis(timestamp uint64) (stabilization.Genesis, error) {
	genesis := stabilization.Genesis{Timestamp: timestamp}

	fixedFields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"TargetPrice", e.TargetPrice, &genesis.TargetPrice},
		{"MeltRate", e.MeltRate, &genesis.MeltRate},
		{"CondensationRate", e.CondensationRate, &genesis.CondensationRate},
	}
	for _, f := range fixedFields {
		v, err := parseFixed(f.name, f.raw)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		*f.dst = v
	}

	poolFields := []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"StablePoolStable", e.StablePoolStable, &genesis.StablePoolStable},
		{"StablePoolMeasurement", e.StablePoolMeasurement, &genesis.StablePoolMeasurement},
		{"ControlPoolStable", e.ControlPoolStable, &genesis.ControlPoolStable},
		{"ControlPoolControl", e.ControlPoolControl, &genesis.ControlPoolControl},
	}
	for _, f := range poolFields {
		v, err := parseFixed(f.name, f.raw)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		*f.dst = v
	}

	for _, alloc := range e.Allocations {
		token, err := parseToken(alloc.Token)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		if !common.IsHexAddress(alloc.Account) {
			return stabilization.Genesis{}, fmt.Errorf("config: allocation account %q is not a hex address", alloc.Account)
		}
		amount, err := parseFixed("Allocation.Amount", alloc.Amount)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		genesis.Allocations = append(genesis.Allocations, stabilization.Allocation{
			Token:   token,
			Account: common.HexToAddress(alloc.Account),
			Amount:  amount,
		})
	}
	return genesis, nil
}

func parseToken(raw string) (stabilization.TokenID, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(stabilization.TokenStable):
		return stabilization.TokenStable, nil
	case string(stabilization.TokenMeasurement):
		return stabilization.TokenMeasurement, nil
	case string(stabilization.TokenControl):
		return stabilization.TokenControl, nil
	default:
		return "", fmt.Errorf("config: unknown token %q", raw)
	}
}

// parseFixed parses a decimal string into 18-decimal fixed point, prefixing
// errors with the config field name.
func parseFixed(field, raw string) (*big.Int, error) {
	v, err := fixedmath.ParseDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", field, err)
	}
	return v, nil
}
