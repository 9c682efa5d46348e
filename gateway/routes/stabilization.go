package routes

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"stabilis/native/fixedmath"
	"stabilis/native/stabilization"
	"stabilis/native/token"
	"stabilis/native/vpool"
	"stabilis/observability/metrics"
)

// maxBodyBytes bounds swap and claim request bodies.
const maxBodyBytes = 1 << 20

type engineAPI struct {
	engine  *stabilization.Controller
	logger  *slog.Logger
	metrics *metrics.StabilizationMetrics
	now     func() uint64
}

type pricesResponse struct {
	MeasurementPrice *big.Int `json:"measurementPrice"`
	ControlPrice     *big.Int `json:"controlPrice"`
	TargetPrice      *big.Int `json:"targetPrice"`
}

type swapRequest struct {
	Account string `json:"account"`
	From    string `json:"from"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type swapResponse struct {
	Account   string   `json:"account"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	AmountIn  *big.Int `json:"amountIn"`
	AmountOut *big.Int `json:"amountOut"`
}

type claimRequest struct {
	Account string `json:"account"`
	Source  string `json:"source"`
}

type claimResponse struct {
	Account string   `json:"account"`
	Source  string   `json:"source"`
	Payout  *big.Int `json:"payout"`
}

type claimableResponse struct {
	Account   string   `json:"account"`
	Source    string   `json:"source"`
	Claimable *big.Int `json:"claimable"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *engineAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.Status()
	if err != nil {
		a.writeError(w, r, "status", err)
		return
	}
	a.publishStatus(status)
	writeJSON(w, http.StatusOK, status)
}

func (a *engineAPI) handlePrices(w http.ResponseWriter, r *http.Request) {
	status, err := a.engine.Status()
	if err != nil {
		a.writeError(w, r, "prices", err)
		return
	}
	writeJSON(w, http.StatusOK, pricesResponse{
		MeasurementPrice: status.MeasurementPrice,
		ControlPrice:     status.ControlPrice,
		TargetPrice:      status.TargetPrice,
	})
}

func (a *engineAPI) handleClaimable(w http.ResponseWriter, r *http.Request) {
	source, err := parseClaimSource(chi.URLParam(r, "source"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	account, err := parseAccount(chi.URLParam(r, "account"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	claimable, err := a.engine.Claimable(source, account, a.now())
	if err != nil {
		a.writeError(w, r, "claimable", err)
		return
	}
	writeJSON(w, http.StatusOK, claimableResponse{
		Account:   account.Hex(),
		Source:    string(source),
		Claimable: claimable,
	})
}

func (a *engineAPI) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(req.Amount), 10)
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount is not an integer"})
		return
	}

	from := strings.ToUpper(strings.TrimSpace(req.From))
	to := strings.ToUpper(strings.TrimSpace(req.To))
	var out *big.Int
	switch {
	case from == string(stabilization.TokenStable) && to == string(stabilization.TokenMeasurement):
		out, err = a.engine.SwapStableForMeasurement(account, amount, a.now())
	case from == string(stabilization.TokenMeasurement) && to == string(stabilization.TokenStable):
		out, err = a.engine.SwapMeasurementForStable(account, amount, a.now())
	case from == string(stabilization.TokenStable) && to == string(stabilization.TokenControl):
		out, err = a.engine.SwapStableForControl(account, amount, a.now())
	case from == string(stabilization.TokenControl) && to == string(stabilization.TokenStable):
		out, err = a.engine.SwapControlForStable(account, amount, a.now())
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported token pair"})
		return
	}
	if err != nil {
		a.writeError(w, r, "swap", err)
		a.metrics.ObserveFailure("swap", reasonLabel(err))
		return
	}

	a.metrics.ObserveSwap(from + "->" + to)
	a.refreshGauges()
	writeJSON(w, http.StatusOK, swapResponse{
		Account:   account.Hex(),
		From:      from,
		To:        to,
		AmountIn:  amount,
		AmountOut: out,
	})
}

func (a *engineAPI) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !decodeBody(w, r, &req) {
		return
	}
	source, err := parseClaimSource(req.Source)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	account, err := parseAccount(req.Account)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	payout, err := a.engine.Claim(source, account, a.now())
	if err != nil {
		a.writeError(w, r, "claim", err)
		a.metrics.ObserveFailure("claim", reasonLabel(err))
		return
	}

	a.metrics.ObserveClaim(string(source))
	a.refreshGauges()
	writeJSON(w, http.StatusOK, claimResponse{
		Account: account.Hex(),
		Source:  string(source),
		Payout:  payout,
	})
}

// refreshGauges pushes the post-operation engine view into the gauges.
func (a *engineAPI) refreshGauges() {
	status, err := a.engine.Status()
	if err != nil {
		a.logger.Warn("refresh gauges", "error", err)
		return
	}
	a.publishStatus(status)
}

func (a *engineAPI) publishStatus(status stabilization.Status) {
	a.metrics.SetMeasurementPrice(fixedToFloat(status.MeasurementPrice))
	a.metrics.SetControlPrice(fixedToFloat(status.ControlPrice))
	a.metrics.SetTargetPrice(fixedToFloat(status.TargetPrice))
	a.metrics.SetCondensationRate(fixedToFloat(status.CondensationRate))
	a.metrics.SetPoolSize("stable", "stable", intToFloat(status.StablePoolStable))
	a.metrics.SetPoolSize("stable", "measurement", intToFloat(status.StablePoolMeasurement))
	a.metrics.SetPoolSize("control", "stable", intToFloat(status.ControlPoolStable))
	a.metrics.SetPoolSize("control", "control", intToFloat(status.ControlPoolControl))
}

func (a *engineAPI) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("engine operation failed", "op", op, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// statusForError maps engine sentinel errors onto HTTP statuses. Validation
// failures are the caller's fault; balance and pool-depth failures are valid
// requests the engine cannot honor; everything else is internal.
func statusForError(err error) int {
	switch {
	case errors.Is(err, stabilization.ErrInvalidClaimRequest),
		errors.Is(err, token.ErrInvalidAmount),
		errors.Is(err, vpool.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, token.ErrInsufficientBalance),
		errors.Is(err, vpool.ErrInsufficientBalance),
		errors.Is(err, vpool.ErrPoolExhausted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, vpool.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, vpool.ErrPoolExhausted):
		return "pool_exhausted"
	case errors.Is(err, stabilization.ErrInvalidClaimRequest):
		return "invalid_claim"
	case errors.Is(err, token.ErrInvalidAmount), errors.Is(err, vpool.ErrInvalidAmount):
		return "invalid_amount"
	default:
		return "internal"
	}
}

func parseAccount(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, errors.New("account is not a hex address")
	}
	return common.HexToAddress(trimmed), nil
}

func parseClaimSource(raw string) (stabilization.ClaimSource, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(stabilization.ClaimMeasurement):
		return stabilization.ClaimMeasurement, nil
	case string(stabilization.ClaimControl):
		return stabilization.ClaimControl, nil
	default:
		return "", errors.New("source must be measurement or control")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func fixedToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(v), new(big.Float).SetInt(fixedmath.Scale)).Float64()
	return f
}

func intToFloat(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
