// Package api exposes the beacon and perp operations over HTTP. The
// handlers are thin: decode JSON, call the service, render the result.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/beacon"
	"github.com/perpcity/beaconator/internal/funding"
	"github.com/perpcity/beaconator/internal/perp"
	"github.com/perpcity/beaconator/internal/txexec"
	"github.com/perpcity/beaconator/internal/wallet"
)

// Server routes operation requests to the beacon and perp services.
type Server struct {
	router  *mux.Router
	beacons *beacon.Service
	types   *beacon.TypeRegistry
	perps   *perp.Service
	funder  *funding.Service
	pool    *wallet.Pool
	logger  *zap.Logger
}

// NewServer wires the services into a router.
func NewServer(beacons *beacon.Service, types *beacon.TypeRegistry, perps *perp.Service, funder *funding.Service, pool *wallet.Pool, logger *zap.Logger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		beacons: beacons,
		types:   types,
		perps:   perps,
		funder:  funder,
		pool:    pool,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

// Router returns the configured handler for mounting.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/beacon/create", s.handleBeaconCreate).Methods("POST")
	s.router.HandleFunc("/beacon/update", s.handleBeaconUpdate).Methods("POST")
	s.router.HandleFunc("/beacon/update-ecdsa", s.handleBeaconUpdateECDSA).Methods("POST")
	s.router.HandleFunc("/beacon/batch-create", s.handleBatchCreate).Methods("POST")
	s.router.HandleFunc("/beacon/batch-update", s.handleBatchUpdate).Methods("POST")

	s.router.HandleFunc("/perp/deploy", s.handlePerpDeploy).Methods("POST")
	s.router.HandleFunc("/perp/deposit", s.handlePerpDeposit).Methods("POST")
	s.router.HandleFunc("/perp/batch-deploy", s.handlePerpBatchDeploy).Methods("POST")
	s.router.HandleFunc("/perp/batch-deposit", s.handlePerpBatchDeposit).Methods("POST")

	s.router.HandleFunc("/wallet/fund", s.handleWalletFund).Methods("POST")

	s.router.HandleFunc("/beacon-types", s.handleTypeList).Methods("GET")
	s.router.HandleFunc("/beacon-types", s.handleTypeRegister).Methods("POST")
	s.router.HandleFunc("/beacon-types/{slug}", s.handleTypeGet).Methods("GET")
	s.router.HandleFunc("/beacon-types/{slug}", s.handleTypeUpdate).Methods("PUT")
	s.router.HandleFunc("/beacon-types/{slug}", s.handleTypeDelete).Methods("DELETE")

	s.router.HandleFunc("/wallets", s.handleWallets).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// writeJSON renders v with status 200.
func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

// errMalformedField marks request fields that failed parsing.
var errMalformedField = errors.New("malformed field")

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errMalformedField),
		errors.Is(err, beacon.ErrInvalidAddress),
		errors.Is(err, beacon.ErrBatchSize),
		errors.Is(err, beacon.ErrTypeInvalid),
		errors.Is(err, perp.ErrInvalidTicks),
		errors.Is(err, perp.ErrMarginOutOfBounds),
		errors.Is(err, perp.ErrBatchSize),
		errors.Is(err, funding.ErrTransferLimit),
		errors.Is(err, funding.ErrInvalidRecipient):
		status = http.StatusBadRequest
	case errors.Is(err, beacon.ErrTypeNotFound),
		errors.Is(err, wallet.ErrWalletNotFound):
		status = http.StatusNotFound
	case errors.Is(err, wallet.ErrNoWalletAvailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":"invalid request body: %s"}`, err), http.StatusBadRequest)
		return false
	}
	return true
}

func parseAddress(field, value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%w: %s %q", beacon.ErrInvalidAddress, field, value)
	}
	return common.HexToAddress(value), nil
}

type batchItemJSON struct {
	Key        string `json:"key"`
	OK         bool   `json:"ok"`
	TxHash     string `json:"tx_hash,omitempty"`
	Err        string `json:"error,omitempty"`
	Unverified bool   `json:"unverified,omitempty"`
}

type batchSummaryJSON struct {
	Requested int `json:"requested"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func renderBatch(results []txexec.BatchResult, summary txexec.BatchSummary) ([]batchItemJSON, batchSummaryJSON) {
	items := make([]batchItemJSON, 0, len(results))
	for _, r := range results {
		item := batchItemJSON{Key: r.Key, OK: r.OK, Err: r.Err, Unverified: r.Unverified}
		if r.TxHash != (common.Hash{}) {
			item.TxHash = r.TxHash.Hex()
		}
		items = append(items, item)
	}
	return items, batchSummaryJSON{Requested: summary.Requested, Succeeded: summary.Succeeded, Failed: summary.Failed}
}

// Beacon handlers

type beaconCreateRequest struct {
	Owner    string `json:"owner,omitempty"`
	Factory  string `json:"factory,omitempty"`
	Registry string `json:"registry,omitempty"`
	Type     string `json:"type,omitempty"`
}

type beaconCreateResponse struct {
	Beacon            string `json:"beacon"`
	CreateTxHash      string `json:"create_tx_hash"`
	RegisterTxHash    string `json:"register_tx_hash,omitempty"`
	AlreadyRegistered bool   `json:"already_registered"`
}

// createRequestFrom resolves the factory and registry for a creation,
// from the named beacon type when one is given.
func (s *Server) createRequestFrom(r *http.Request, req beaconCreateRequest) (beacon.CreateRequest, error) {
	out := beacon.CreateRequest{}
	var err error
	if out.Owner, err = parseAddress("owner", req.Owner); err != nil {
		return out, err
	}
	if out.Factory, err = parseAddress("factory", req.Factory); err != nil {
		return out, err
	}
	if out.Registry, err = parseAddress("registry", req.Registry); err != nil {
		return out, err
	}
	if req.Type != "" {
		cfg, err := s.types.Get(r.Context(), req.Type)
		if err != nil {
			return out, err
		}
		if out.Factory, err = parseAddress("type factory", cfg.Factory); err != nil {
			return out, err
		}
		if out.Registry, err = parseAddress("type registry", cfg.Registry); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Server) handleBeaconCreate(w http.ResponseWriter, r *http.Request) {
	var req beaconCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	createReq, err := s.createRequestFrom(r, req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.beacons.CreateAndRegister(r.Context(), createReq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := beaconCreateResponse{
		Beacon:            res.Beacon.Hex(),
		CreateTxHash:      res.CreateTxHash.Hex(),
		AlreadyRegistered: res.AlreadyRegistered,
	}
	if res.RegisterTxHash != (common.Hash{}) {
		resp.RegisterTxHash = res.RegisterTxHash.Hex()
	}
	s.writeJSON(w, resp)
}

type beaconUpdateRequest struct {
	Beacon        string `json:"beacon"`
	Proof         string `json:"proof"`
	PublicSignals string `json:"public_signals"`
}

type beaconUpdateResponse struct {
	TxHash       string `json:"tx_hash"`
	NewData      string `json:"new_data,omitempty"`
	EventMissing bool   `json:"event_missing"`
}

func (s *Server) handleBeaconUpdate(w http.ResponseWriter, r *http.Request) {
	var req beaconUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := parseAddress("beacon", req.Beacon)
	if err != nil {
		s.writeError(w, err)
		return
	}
	proof, err := hexutil.Decode(req.Proof)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: proof is not valid hex", beacon.ErrInvalidAddress))
		return
	}
	signals, err := hexutil.Decode(req.PublicSignals)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: public signals are not valid hex", beacon.ErrInvalidAddress))
		return
	}
	res, err := s.beacons.UpdateWithProof(r.Context(), beacon.UpdateRequest{
		Beacon: addr, Proof: proof, PublicSignals: signals,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := beaconUpdateResponse{TxHash: res.TxHash.Hex(), EventMissing: res.EventMissing}
	if res.NewData != nil {
		resp.NewData = res.NewData.String()
	}
	s.writeJSON(w, resp)
}

type ecdsaUpdateRequest struct {
	Beacon      string `json:"beacon"`
	Measurement string `json:"measurement"`
}

type ecdsaUpdateResponse struct {
	TxHash       string `json:"tx_hash"`
	Nonce        string `json:"nonce"`
	EventMissing bool   `json:"event_missing"`
}

func (s *Server) handleBeaconUpdateECDSA(w http.ResponseWriter, r *http.Request) {
	var req ecdsaUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := parseAddress("beacon", req.Beacon)
	if err != nil {
		s.writeError(w, err)
		return
	}
	measurement, ok := new(big.Int).SetString(req.Measurement, 10)
	if !ok {
		http.Error(w, `{"error":"measurement is not a decimal integer"}`, http.StatusBadRequest)
		return
	}
	res, err := s.beacons.UpdateWithECDSA(r.Context(), beacon.ECDSAUpdateRequest{
		Beacon: addr, Measurement: measurement,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, ecdsaUpdateResponse{
		TxHash:       res.TxHash.Hex(),
		Nonce:        res.Nonce.String(),
		EventMissing: res.EventMissing,
	})
}

type batchCreateRequest struct {
	beaconCreateRequest
	Count int `json:"count"`
}

type batchCreateResponse struct {
	Addresses    []string         `json:"addresses"`
	CreateTxHash string           `json:"create_tx_hash"`
	Results      []batchItemJSON  `json:"results"`
	Summary      batchSummaryJSON `json:"summary"`
}

func (s *Server) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req batchCreateRequest
	if !s.decode(w, r, &req) {
		return
	}
	createReq, err := s.createRequestFrom(r, req.beaconCreateRequest)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.beacons.BatchCreate(r.Context(), createReq, req.Count)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addrs := make([]string, 0, len(res.Addresses))
	for _, a := range res.Addresses {
		addrs = append(addrs, a.Hex())
	}
	items, summary := renderBatch(res.Results, res.Summary)
	s.writeJSON(w, batchCreateResponse{
		Addresses:    addrs,
		CreateTxHash: res.CreateTxHash.Hex(),
		Results:      items,
		Summary:      summary,
	})
}

type batchUpdateRequest struct {
	Updates []beaconUpdateRequest `json:"updates"`
}

type batchUpdateResponse struct {
	Results []batchItemJSON  `json:"results"`
	Summary batchSummaryJSON `json:"summary"`
}

func (s *Server) handleBatchUpdate(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	items := make([]beacon.UpdateItem, 0, len(req.Updates))
	for _, u := range req.Updates {
		// Malformed items become failure entries in the result,
		// never a rejected batch.
		item := beacon.UpdateItem{}
		if common.IsHexAddress(u.Beacon) {
			item.Beacon = common.HexToAddress(u.Beacon)
		}
		var err error
		if item.Proof, err = hexutil.Decode(u.Proof); err != nil {
			item.Invalid = "proof is not valid hex"
		} else if item.PublicSignals, err = hexutil.Decode(u.PublicSignals); err != nil {
			item.Invalid = "public signals are not valid hex"
		}
		items = append(items, item)
	}
	res, err := s.beacons.BatchUpdate(r.Context(), items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rendered, summary := renderBatch(res.Results, res.Summary)
	s.writeJSON(w, batchUpdateResponse{Results: rendered, Summary: summary})
}

// Perp handlers

type perpDeployRequest struct {
	Beacon               string `json:"beacon"`
	Fees                 string `json:"fees"`
	MarginRatios         string `json:"margin_ratios"`
	LockupPeriod         string `json:"lockup_period"`
	SqrtPriceImpactLimit string `json:"sqrt_price_impact_limit"`
	StartingSqrtPriceX96 string `json:"starting_sqrt_price_x96"`
}

type perpDeployResponse struct {
	PerpID string `json:"perp_id"`
	TxHash string `json:"tx_hash"`
}

func deployRequestFrom(req perpDeployRequest) (perp.DeployRequest, error) {
	deploy := perp.DeployRequest{}
	var err error
	fields := []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"beacon", req.Beacon, &deploy.Beacon},
		{"fees", req.Fees, &deploy.Fees},
		{"margin_ratios", req.MarginRatios, &deploy.MarginRatios},
		{"lockup_period", req.LockupPeriod, &deploy.LockupPeriod},
		{"sqrt_price_impact_limit", req.SqrtPriceImpactLimit, &deploy.SqrtPriceImpactLimit},
	}
	for _, f := range fields {
		if *f.dst, err = parseAddress(f.name, f.value); err != nil {
			return deploy, err
		}
	}
	price, ok := new(big.Int).SetString(req.StartingSqrtPriceX96, 10)
	if !ok {
		return deploy, fmt.Errorf("%w: starting_sqrt_price_x96 is not a decimal integer", errMalformedField)
	}
	deploy.StartingSqrtPriceX96 = price
	return deploy, nil
}

func (s *Server) handlePerpDeploy(w http.ResponseWriter, r *http.Request) {
	var req perpDeployRequest
	if !s.decode(w, r, &req) {
		return
	}
	deploy, err := deployRequestFrom(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.perps.Deploy(r.Context(), deploy)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, perpDeployResponse{
		PerpID: hexutil.Encode(res.PerpID[:]),
		TxHash: res.TxHash.Hex(),
	})
}

type perpDepositRequest struct {
	PerpID      string `json:"perp_id"`
	MarginUSDC  string `json:"margin_usdc"`
	TickLower   int32  `json:"tick_lower"`
	TickUpper   int32  `json:"tick_upper"`
	TickSpacing int32  `json:"tick_spacing,omitempty"`
}

type perpDepositResponse struct {
	PositionID    string `json:"position_id"`
	Liquidity     string `json:"liquidity"`
	ApproveTxHash string `json:"approve_tx_hash,omitempty"`
	DepositTxHash string `json:"deposit_tx_hash"`
}

func depositRequestFrom(req perpDepositRequest) (perp.DepositRequest, error) {
	deposit := perp.DepositRequest{
		TickLower:   req.TickLower,
		TickUpper:   req.TickUpper,
		TickSpacing: req.TickSpacing,
	}
	idBytes, err := hexutil.Decode(req.PerpID)
	if err != nil || len(idBytes) != 32 {
		return deposit, fmt.Errorf("%w: perp_id must be a 32-byte hex value", errMalformedField)
	}
	copy(deposit.PerpID[:], idBytes)

	margin, ok := new(big.Int).SetString(req.MarginUSDC, 10)
	if !ok {
		return deposit, fmt.Errorf("%w: margin_usdc is not a decimal integer", errMalformedField)
	}
	deposit.MarginUSDC = margin
	return deposit, nil
}

func (s *Server) handlePerpDeposit(w http.ResponseWriter, r *http.Request) {
	var req perpDepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	deposit, err := depositRequestFrom(req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.perps.DepositLiquidity(r.Context(), deposit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := perpDepositResponse{
		PositionID:    res.PositionID.String(),
		Liquidity:     res.Liquidity.String(),
		DepositTxHash: res.DepositTxHash.Hex(),
	}
	if res.ApproveTxHash != (common.Hash{}) {
		resp.ApproveTxHash = res.ApproveTxHash.Hex()
	}
	s.writeJSON(w, resp)
}

type perpBatchDeployRequest struct {
	Perps []perpDeployRequest `json:"perps"`
}

type perpBatchDeployResponse struct {
	PerpIDs []string         `json:"perp_ids"`
	TxHash  string           `json:"tx_hash,omitempty"`
	Results []batchItemJSON  `json:"results"`
	Summary batchSummaryJSON `json:"summary"`
}

func (s *Server) handlePerpBatchDeploy(w http.ResponseWriter, r *http.Request) {
	var req perpBatchDeployRequest
	if !s.decode(w, r, &req) {
		return
	}
	reqs := make([]perp.DeployRequest, 0, len(req.Perps))
	for i, p := range req.Perps {
		deploy, err := deployRequestFrom(p)
		if err != nil {
			s.writeError(w, fmt.Errorf("perp %d: %w", i, err))
			return
		}
		reqs = append(reqs, deploy)
	}
	res, err := s.perps.BatchDeploy(r.Context(), reqs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	ids := make([]string, 0, len(res.PerpIDs))
	for _, id := range res.PerpIDs {
		ids = append(ids, hexutil.Encode(id[:]))
	}
	items, summary := renderBatch(res.Results, res.Summary)
	resp := perpBatchDeployResponse{PerpIDs: ids, Results: items, Summary: summary}
	if res.TxHash != (common.Hash{}) {
		resp.TxHash = res.TxHash.Hex()
	}
	s.writeJSON(w, resp)
}

type perpBatchDepositRequest struct {
	Deposits []perpDepositRequest `json:"deposits"`
}

type perpBatchDepositItemJSON struct {
	PerpID     string `json:"perp_id"`
	PositionID string `json:"position_id,omitempty"`
	Liquidity  string `json:"liquidity,omitempty"`
	Err        string `json:"error,omitempty"`
}

type perpBatchDepositResponse struct {
	Items         []perpBatchDepositItemJSON `json:"items"`
	ApproveTxHash string                     `json:"approve_tx_hash,omitempty"`
	DepositTxHash string                     `json:"deposit_tx_hash,omitempty"`
	Summary       batchSummaryJSON           `json:"summary"`
}

func (s *Server) handlePerpBatchDeposit(w http.ResponseWriter, r *http.Request) {
	var req perpBatchDepositRequest
	if !s.decode(w, r, &req) {
		return
	}
	reqs := make([]perp.DepositRequest, 0, len(req.Deposits))
	for i, d := range req.Deposits {
		deposit, err := depositRequestFrom(d)
		if err != nil {
			s.writeError(w, fmt.Errorf("deposit %d: %w", i, err))
			return
		}
		reqs = append(reqs, deposit)
	}
	res, err := s.perps.BatchDeposit(r.Context(), reqs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]perpBatchDepositItemJSON, 0, len(res.Items))
	for _, it := range res.Items {
		item := perpBatchDepositItemJSON{PerpID: hexutil.Encode(it.PerpID[:]), Err: it.Err}
		if it.PositionID != nil {
			item.PositionID = it.PositionID.String()
		}
		if it.Liquidity != nil {
			item.Liquidity = it.Liquidity.String()
		}
		items = append(items, item)
	}
	resp := perpBatchDepositResponse{
		Items: items,
		Summary: batchSummaryJSON{
			Requested: res.Summary.Requested,
			Succeeded: res.Summary.Succeeded,
			Failed:    res.Summary.Failed,
		},
	}
	if res.ApproveTxHash != (common.Hash{}) {
		resp.ApproveTxHash = res.ApproveTxHash.Hex()
	}
	if res.DepositTxHash != (common.Hash{}) {
		resp.DepositTxHash = res.DepositTxHash.Hex()
	}
	s.writeJSON(w, resp)
}

// Wallet funding

type walletFundRequest struct {
	Recipient  string `json:"recipient"`
	USDCAmount string `json:"usdc_amount,omitempty"`
	ETHAmount  string `json:"eth_amount,omitempty"`
}

type walletFundResponse struct {
	ETHTxHash  string `json:"eth_tx_hash,omitempty"`
	USDCTxHash string `json:"usdc_tx_hash,omitempty"`
}

func parseAmount(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, nil
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a decimal integer", errMalformedField, field)
	}
	return v, nil
}

func (s *Server) handleWalletFund(w http.ResponseWriter, r *http.Request) {
	var req walletFundRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !common.IsHexAddress(req.Recipient) {
		s.writeError(w, fmt.Errorf("%w: %q", funding.ErrInvalidRecipient, req.Recipient))
		return
	}
	fund := funding.FundRequest{Recipient: common.HexToAddress(req.Recipient)}
	var err error
	if fund.USDCAmount, err = parseAmount("usdc_amount", req.USDCAmount); err != nil {
		s.writeError(w, err)
		return
	}
	if fund.ETHAmount, err = parseAmount("eth_amount", req.ETHAmount); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.funder.Fund(r.Context(), fund)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := walletFundResponse{}
	if res.ETHTxHash != (common.Hash{}) {
		resp.ETHTxHash = res.ETHTxHash.Hex()
	}
	if res.USDCTxHash != (common.Hash{}) {
		resp.USDCTxHash = res.USDCTxHash.Hex()
	}
	s.writeJSON(w, resp)
}

// Beacon type handlers

func (s *Server) handleTypeList(w http.ResponseWriter, r *http.Request) {
	configs, err := s.types.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, configs)
}

func (s *Server) handleTypeRegister(w http.ResponseWriter, r *http.Request) {
	var cfg beacon.TypeConfig
	if !s.decode(w, r, &cfg) {
		return
	}
	if err := s.types.Register(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, cfg)
}

func (s *Server) handleTypeGet(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.types.Get(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, cfg)
}

func (s *Server) handleTypeUpdate(w http.ResponseWriter, r *http.Request) {
	var cfg beacon.TypeConfig
	if !s.decode(w, r, &cfg) {
		return
	}
	cfg.Slug = mux.Vars(r)["slug"]
	if err := s.types.Update(r.Context(), cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, cfg)
}

func (s *Server) handleTypeDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.types.Delete(r.Context(), mux.Vars(r)["slug"]); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]string{"status": "deleted"})
}

// Pool introspection

func (s *Server) handleWallets(w http.ResponseWriter, r *http.Request) {
	infos, err := s.pool.ListAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"count": len(infos), "wallets": infos})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok"})
}
