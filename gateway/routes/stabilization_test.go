package routes

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"stabilis/native/fixedmath"
	"stabilis/native/stabilization"
	"stabilis/native/vpool"
	"stabilis/observability/metrics"
)

var (
	testModule  = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testAccount = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func fixed(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), fixedmath.Scale)
}

type testServer struct {
	handler http.Handler
	engine  *stabilization.Controller
	clock   *uint64
}

func newTestServer(t *testing.T, allocs ...stabilization.Allocation) *testServer {
	t.Helper()
	params := stabilization.Params{
		ControlPriceFactor:   new(big.Int).Set(fixedmath.Scale),
		ControlPricePeriod:   86_400,
		CondensationFactor:   new(big.Int).Set(fixedmath.Scale),
		CondensationPeriod:   86_400,
		BaseCondensationRate: big.NewInt(0),
		TargetPricePeriod:    30 * 86_400,
	}
	genesis := stabilization.Genesis{
		Timestamp:             0,
		TargetPrice:           fixed(25),
		MeltRate:              new(big.Int).Set(fixedmath.Scale),
		CondensationRate:      big.NewInt(0),
		StablePoolStable:      fixed(1_000_000),
		StablePoolMeasurement: fixed(40_000),
		ControlPoolStable:     fixed(500_000),
		ControlPoolControl:    fixed(20_000),
		Allocations:           allocs,
	}
	engine, err := stabilization.New(testModule, params, genesis, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	clock := uint64(0)
	handler := New(Config{
		Engine:  engine,
		Metrics: metrics.Stabilization(),
		Now:     func() uint64 { return clock },
	})
	return &testServer{handler: handler, engine: engine, clock: &clock}
}

func (s *testServer) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) post(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.get(t, "/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	var status stabilization.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.MeasurementPrice.Cmp(fixed(25)) != 0 {
		t.Fatalf("measurement price = %s", status.MeasurementPrice)
	}
	if status.TargetPrice.Cmp(fixed(25)) != 0 {
		t.Fatalf("target price = %s", status.TargetPrice)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("request ID header missing")
	}
}

func TestPricesEndpoint(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.get(t, "/v1/prices")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	var prices pricesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &prices); err != nil {
		t.Fatalf("decode prices: %v", err)
	}
	if prices.ControlPrice.Cmp(fixed(25)) != 0 {
		t.Fatalf("control price = %s", prices.ControlPrice)
	}
}

func TestSwapEndpoint(t *testing.T) {
	srv := newTestServer(t, stabilization.Allocation{
		Token:   stabilization.TokenStable,
		Account: testAccount,
		Amount:  fixed(10_000),
	})
	amountIn := fixed(10_000)
	wantOut, err := vpool.PreviewSwap(fixed(1_000_000), fixed(40_000), amountIn)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}

	rec := srv.post(t, "/v1/swap", swapRequest{
		Account: testAccount.Hex(),
		From:    "STB",
		To:      "MSR",
		Amount:  amountIn.String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	var resp swapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode swap response: %v", err)
	}
	if resp.AmountOut.Cmp(wantOut) != 0 {
		t.Fatalf("amount out = %s, want %s", resp.AmountOut, wantOut)
	}

	msr, err := srv.engine.Token(stabilization.TokenMeasurement)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if msr.BalanceOf(testAccount).Cmp(wantOut) != 0 {
		t.Fatalf("measurement balance = %s, want %s", msr.BalanceOf(testAccount), wantOut)
	}
}

func TestSwapRejectsUnsupportedPair(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.post(t, "/v1/swap", swapRequest{
		Account: testAccount.Hex(),
		From:    "MSR",
		To:      "CTL",
		Amount:  "1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
}

func TestSwapInsufficientBalance(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.post(t, "/v1/swap", swapRequest{
		Account: testAccount.Hex(),
		From:    "STB",
		To:      "MSR",
		Amount:  fixed(1).String(),
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
}

func TestClaimableAndClaim(t *testing.T) {
	srv := newTestServer(t, stabilization.Allocation{
		Token:   stabilization.TokenMeasurement,
		Account: testAccount,
		Amount:  fixed(100),
	})
	*srv.clock = 3600 // 100 MSR held for an hour

	rec := srv.get(t, "/v1/claimable/measurement/"+testAccount.Hex())
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	var claimable claimableResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &claimable); err != nil {
		t.Fatalf("decode claimable: %v", err)
	}
	want := fixed(360_000)
	if claimable.Claimable.Cmp(want) != 0 {
		t.Fatalf("claimable = %s, want %s", claimable.Claimable, want)
	}

	rec = srv.post(t, "/v1/claim", claimRequest{
		Account: testAccount.Hex(),
		Source:  "measurement",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	var claim claimResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &claim); err != nil {
		t.Fatalf("decode claim: %v", err)
	}
	if claim.Payout.Cmp(want) != 0 {
		t.Fatalf("payout = %s, want %s", claim.Payout, want)
	}

	stb, err := srv.engine.Token(stabilization.TokenStable)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if stb.BalanceOf(testAccount).Cmp(want) != 0 {
		t.Fatalf("stable balance = %s, want %s", stb.BalanceOf(testAccount), want)
	}
}

func TestClaimRejectsUnknownSource(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.post(t, "/v1/claim", claimRequest{
		Account: testAccount.Hex(),
		Source:  "other",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
}

func TestMalformedBodyRejected(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/swap", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
}

// The registry is process-global, so the assertion is a before/after delta.
func TestSwapIncrementsSwapCounter(t *testing.T) {
	srv := newTestServer(t, stabilization.Allocation{
		Token:   stabilization.TokenStable,
		Account: testAccount,
		Amount:  fixed(1_000),
	})

	before := swapCounterValue(t, "STB->MSR")
	rec := srv.post(t, "/v1/swap", swapRequest{
		Account: testAccount.Hex(),
		From:    "STB",
		To:      "MSR",
		Amount:  fixed(1_000).String(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", rec.Code, rec.Body)
	}
	after := swapCounterValue(t, "STB->MSR")
	if after != before+1 {
		t.Fatalf("stabilization_swaps_total{pair=\"STB->MSR\"} = %v, want %v", after, before+1)
	}
}

func swapCounterValue(t *testing.T, pair string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != "stabilization_swaps_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "pair" && label.GetValue() == pair {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
