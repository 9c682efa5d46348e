package main

import (
	"flag"
	"fmt"
	"math/big"
	"os"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"stabilis/native/fixedmath"
	"stabilis/native/stabilization"
)

// stabilis-sim replays a YAML scenario against an in-memory engine and prints
// the price, rate and pool-depth trajectory after every step. It exists to
// tune controller parameters offline before committing them to a deployment.

var simModule = common.BytesToAddress([]byte("stabilis/sim"))

type scenario struct {
	Name    string          `yaml:"name"`
	Params  scenarioTuning  `yaml:"params"`
	Genesis scenarioGenesis `yaml:"genesis"`
	Steps   []step          `yaml:"steps"`
}

type scenarioTuning struct {
	ControlPriceFactor   string `yaml:"controlPriceFactor"`
	ControlPricePeriod   uint64 `yaml:"controlPricePeriod"`
	CondensationFactor   string `yaml:"condensationFactor"`
	CondensationPeriod   uint64 `yaml:"condensationPeriod"`
	BaseCondensationRate string `yaml:"baseCondensationRate"`
	TargetPricePeriod    uint64 `yaml:"targetPricePeriod"`
}

type scenarioGenesis struct {
	TargetPrice           string               `yaml:"targetPrice"`
	MeltRate              string               `yaml:"meltRate"`
	CondensationRate      string               `yaml:"condensationRate"`
	StablePoolStable      string               `yaml:"stablePoolStable"`
	StablePoolMeasurement string               `yaml:"stablePoolMeasurement"`
	ControlPoolStable     string               `yaml:"controlPoolStable"`
	ControlPoolControl    string               `yaml:"controlPoolControl"`
	Allocations           []scenarioAllocation `yaml:"allocations"`
}

type scenarioAllocation struct {
	Token   string `yaml:"token"`
	Account string `yaml:"account"`
	Amount  string `yaml:"amount"`
}

// step is a tagged union: exactly one field should be set.
type step struct {
	Advance uint64     `yaml:"advance"`
	Swap    *swapStep  `yaml:"swap"`
	Claim   *claimStep `yaml:"claim"`
}

type swapStep struct {
	Account string `yaml:"account"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Amount  string `yaml:"amount"`
}

type claimStep struct {
	Account string `yaml:"account"`
	Source  string `yaml:"source"`
}

func main() {
	scenarioFile := flag.String("scenario", "", "Path to the YAML scenario file")
	flag.Parse()

	if *scenarioFile == "" {
		fmt.Fprintln(os.Stderr, "usage: stabilis-sim -scenario <file.yaml>")
		os.Exit(2)
	}
	if err := run(*scenarioFile, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "stabilis-sim: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, out *os.File) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sc scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return fmt.Errorf("parse scenario: %w", err)
	}

	params, err := sc.Params.build()
	if err != nil {
		return err
	}
	genesis, err := sc.Genesis.build()
	if err != nil {
		return err
	}
	engine, err := stabilization.New(simModule, params, genesis, nil)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "scenario: %s\n", sc.Name)
	w := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "t\tstep\tmeasurement\ttarget\tcontrol\tcondensation\tstable_supply")

	clock := uint64(0)
	for i, s := range sc.Steps {
		label, err := applyStep(engine, s, &clock)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, label, err)
		}
		status, err := engine.Status()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			clock, label,
			formatFixed(status.MeasurementPrice),
			formatFixed(status.TargetPrice),
			formatFixed(status.ControlPrice),
			formatFixed(status.CondensationRate),
			formatFixed(status.TotalStableSupply),
		)
	}
	return w.Flush()
}

func applyStep(engine *stabilization.Controller, s step, clock *uint64) (string, error) {
	switch {
	case s.Advance > 0:
		*clock += s.Advance
		return fmt.Sprintf("advance %ds", s.Advance), engine.Update(*clock)
	case s.Swap != nil:
		account := common.HexToAddress(s.Swap.Account)
		amount, err := fixedmath.ParseDecimal(s.Swap.Amount)
		if err != nil {
			return "swap", err
		}
		label := fmt.Sprintf("swap %s %s->%s", s.Swap.Amount, s.Swap.From, s.Swap.To)
		_, err = swapByPair(engine, account, s.Swap.From, s.Swap.To, amount, *clock)
		return label, err
	case s.Claim != nil:
		account := common.HexToAddress(s.Claim.Account)
		payout, err := engine.Claim(stabilization.ClaimSource(s.Claim.Source), account, *clock)
		if err != nil {
			return "claim", err
		}
		return fmt.Sprintf("claim %s -> %s STB", s.Claim.Source, formatFixed(payout)), nil
	default:
		return "noop", fmt.Errorf("step has no action")
	}
}

func swapByPair(engine *stabilization.Controller, account common.Address, from, to string, amount *big.Int, now uint64) (*big.Int, error) {
	pair := from + "->" + to
	switch pair {
	case "STB->MSR":
		return engine.SwapStableForMeasurement(account, amount, now)
	case "MSR->STB":
		return engine.SwapMeasurementForStable(account, amount, now)
	case "STB->CTL":
		return engine.SwapStableForControl(account, amount, now)
	case "CTL->STB":
		return engine.SwapControlForStable(account, amount, now)
	default:
		return nil, fmt.Errorf("unsupported pair %s", pair)
	}
}

func (t scenarioTuning) build() (stabilization.Params, error) {
	controlFactor, err := fixedmath.ParseDecimal(orDefault(t.ControlPriceFactor, "1.0"))
	if err != nil {
		return stabilization.Params{}, err
	}
	condensationFactor, err := fixedmath.ParseDecimal(orDefault(t.CondensationFactor, "1.0"))
	if err != nil {
		return stabilization.Params{}, err
	}
	baseRate, err := fixedmath.ParseDecimal(orDefault(t.BaseCondensationRate, "0"))
	if err != nil {
		return stabilization.Params{}, err
	}
	params := stabilization.Params{
		ControlPriceFactor:   controlFactor,
		ControlPricePeriod:   t.ControlPricePeriod,
		CondensationFactor:   condensationFactor,
		CondensationPeriod:   t.CondensationPeriod,
		BaseCondensationRate: baseRate,
		TargetPricePeriod:    t.TargetPricePeriod,
	}
	return params, params.Validate()
}

func (g scenarioGenesis) build() (stabilization.Genesis, error) {
	genesis := stabilization.Genesis{Timestamp: 0}
	fields := []struct {
		raw string
		dst **big.Int
	}{
		{g.TargetPrice, &genesis.TargetPrice},
		{orDefault(g.MeltRate, "1.0"), &genesis.MeltRate},
		{orDefault(g.CondensationRate, "0"), &genesis.CondensationRate},
		{g.StablePoolStable, &genesis.StablePoolStable},
		{g.StablePoolMeasurement, &genesis.StablePoolMeasurement},
		{g.ControlPoolStable, &genesis.ControlPoolStable},
		{g.ControlPoolControl, &genesis.ControlPoolControl},
	}
	for _, f := range fields {
		v, err := fixedmath.ParseDecimal(f.raw)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		*f.dst = v
	}
	for _, alloc := range g.Allocations {
		amount, err := fixedmath.ParseDecimal(alloc.Amount)
		if err != nil {
			return stabilization.Genesis{}, err
		}
		genesis.Allocations = append(genesis.Allocations, stabilization.Allocation{
			Token:   stabilization.TokenID(alloc.Token),
			Account: common.HexToAddress(alloc.Account),
			Amount:  amount,
		})
	}
	return genesis, nil
}

func orDefault(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	return raw
}

// formatFixed renders an 18-decimal fixed-point value with six fractional
// digits, enough resolution to watch the controller converge.
func formatFixed(v *big.Int) string {
	if v == nil {
		return "0"
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(fixedmath.Scale))
	return f.Text('f', 6)
}
