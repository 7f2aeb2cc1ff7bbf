package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/beacon"
	"github.com/perpcity/beaconator/internal/chain"
	"github.com/perpcity/beaconator/internal/chain/chaintest"
	"github.com/perpcity/beaconator/internal/funding"
	"github.com/perpcity/beaconator/internal/perp"
	"github.com/perpcity/beaconator/internal/store"
	"github.com/perpcity/beaconator/internal/txexec"
	"github.com/perpcity/beaconator/internal/wallet"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	mc3Addr     = common.HexToAddress("0xca11bde05977b3631167028862be2a173976ca11")
	managerAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdcAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type fixture struct {
	server *Server
	client *chaintest.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	mem := store.NewMemoryStore()
	keys := store.NewKeys("test:")
	pool := wallet.NewPool(mem, keys, logger)
	locker := wallet.NewLocker(mem, keys, "inst-1", time.Minute, 2, time.Millisecond, logger)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := wallet.NewLocalSigner(key)
	require.NoError(t, pool.Add(ctx, wallet.Info{Address: signer.Address().Hex(), KeyRef: "k"}))
	manager := wallet.NewManager(pool, locker,
		func(info wallet.Info) (wallet.Signer, error) { return signer, nil }, logger)

	client := chaintest.NewClient()
	builder := chain.NewTxBuilder(client, big.NewInt(1337), logger)
	retrier := txexec.NewRetrierWithSchedule(client,
		50*time.Millisecond, 20*time.Millisecond,
		[]time.Duration{10 * time.Millisecond}, time.Millisecond, logger)
	submitter := txexec.NewSubmitter(client, builder, nil, txexec.NopGate{}, retrier)
	executor := txexec.NewExecutor(client, builder, nil, txexec.NopGate{}, retrier, mc3Addr, logger)
	codeCache := chain.NewCodeCache(1 << 20)

	beacons := beacon.NewService(manager, pool, client, submitter, executor, codeCache,
		factoryAddr, common.Address{}, logger)
	typeReg := beacon.NewTypeRegistry(mem, keys, logger)
	perps := perp.NewService(manager, client, submitter, executor, codeCache, managerAddr, usdcAddr,
		perp.Bounds{LiquidityScalingFactor: 500_000, MinMarginUSDC: 1_000_000,
			MaxMarginUSDC: 1_000_000_000_000, DefaultTickSpacing: 60}, logger)
	funder := funding.NewService(manager, client, submitter, usdcAddr, common.Address{},
		funding.Limits{MaxUSDC: big.NewInt(100_000_000), MaxETH: big.NewInt(1_000_000_000_000_000_000)},
		logger)

	return &fixture{
		server: NewServer(beacons, typeReg, perps, funder, pool, logger),
		client: client,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestBeaconCreateEndpoint(t *testing.T) {
	f := newFixture(t)
	created := common.HexToAddress("0xbe1")
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		payload, _ := chain.FactoryABI.Events["BeaconCreated"].Inputs.Pack(created)
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
			Logs: []*types.Log{{
				Address: factoryAddr,
				Topics:  []common.Hash{chain.FactoryABI.Events["BeaconCreated"].ID},
				Data:    payload,
			}},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/beacon/create", map[string]any{})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Beacon       string `json:"beacon"`
		CreateTxHash string `json:"create_tx_hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, created.Hex(), resp.Beacon)
	require.NotEmpty(t, resp.CreateTxHash)
}

func TestBeaconCreateRejectsBadAddress(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/create", map[string]any{"owner": "not-an-address"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestBeaconUpdateRejectsZeroBeacon(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/update", map[string]any{
		"beacon": "", "proof": "0x01", "public_signals": "0x02",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBeaconUpdateRejectsBadHex(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/update", map[string]any{
		"beacon": "0x1111111111111111111111111111111111111111",
		"proof":  "zz", "public_signals": "0x02",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestECDSAUpdateRejectsBadMeasurement(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/update-ecdsa", map[string]any{
		"beacon": "0x1111111111111111111111111111111111111111", "measurement": "ten",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchCreateRejectsBadCount(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/batch-create", map[string]any{"count": 0})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/beacon/batch-create", map[string]any{"count": 101})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTypeCRUDEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/beacon-types", map[string]any{
		"slug": "zk-price", "factory": factoryAddr.Hex(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/beacon-types/zk-price", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "zk-price")

	rec = f.do(t, http.MethodGet, "/beacon-types", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/beacon-types/zk-price", map[string]any{
		"slug": "zk-price", "factory": factoryAddr.Hex(), "description": "updated",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/beacon-types/zk-price", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/beacon-types/zk-price", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTypeRegisterRejectsBadSlug(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon-types", map[string]any{
		"slug": "BAD SLUG", "factory": factoryAddr.Hex(),
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateResolvesType(t *testing.T) {
	f := newFixture(t)
	altFactory := common.HexToAddress("0x00000000000000000000000000000000000000fb")
	rec := f.do(t, http.MethodPost, "/beacon-types", map[string]any{
		"slug": "alt", "factory": altFactory.Hex(),
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	created := common.HexToAddress("0xbe1")
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		payload, _ := chain.FactoryABI.Events["BeaconCreated"].Inputs.Pack(created)
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
			Logs: []*types.Log{{
				Address: altFactory,
				Topics:  []common.Hash{chain.FactoryABI.Events["BeaconCreated"].ID},
				Data:    payload,
			}},
		}, nil
	}

	rec = f.do(t, http.MethodPost, "/beacon/create", map[string]any{"type": "alt"})
	require.Equal(t, http.StatusOK, rec.Code)

	// The type's factory received the creation call.
	require.Equal(t, 1, f.client.SubmittedCount())
	require.Equal(t, altFactory, *f.client.Submitted[0].To())
}

func TestCreateUnknownType(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/create", map[string]any{"type": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWalletsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/wallets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count   int           `json:"count"`
		Wallets []wallet.Info `json:"wallets"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	require.Len(t, resp.Wallets, 1)
}

func TestPerpDepositRejectsBadTicks(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/perp/deposit", map[string]any{
		"perp_id":     "0x" + fmt.Sprintf("%064x", 0x42),
		"margin_usdc": "10000000",
		"tick_lower":  -125,
		"tick_upper":  120,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "tick")
}

func TestPerpDepositRejectsBadPerpID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/perp/deposit", map[string]any{
		"perp_id": "0x1234", "margin_usdc": "10000000",
		"tick_lower": -120, "tick_upper": 120,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPerpDeployEndpoint(t *testing.T) {
	f := newFixture(t)
	module := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	perpID := [32]byte{0x42}
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		payload, _ := chain.PerpABI.Events["PerpCreated"].Inputs.Pack(
			perpID, module, big.NewInt(1), big.NewInt(1))
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
			Logs: []*types.Log{{
				Address: managerAddr,
				Topics:  []common.Hash{chain.PerpABI.Events["PerpCreated"].ID},
				Data:    payload,
			}},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/perp/deploy", map[string]any{
		"beacon":                  module.Hex(),
		"fees":                    module.Hex(),
		"margin_ratios":           module.Hex(),
		"lockup_period":           module.Hex(),
		"sqrt_price_impact_limit": module.Hex(),
		"starting_sqrt_price_x96": "560227709747861399187319382274",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PerpID string `json:"perp_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "0x"+fmt.Sprintf("%064x", new(big.Int).SetBytes(perpID[:])), resp.PerpID)
}

func TestPerpDeployRejectsBadPrice(t *testing.T) {
	f := newFixture(t)
	module := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	rec := f.do(t, http.MethodPost, "/perp/deploy", map[string]any{
		"beacon":                  module.Hex(),
		"fees":                    module.Hex(),
		"margin_ratios":           module.Hex(),
		"lockup_period":           module.Hex(),
		"sqrt_price_impact_limit": module.Hex(),
		"starting_sqrt_price_x96": "fifty",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestBatchUpdateMalformedHexBecomesFailureEntry(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/beacon/batch-update", map[string]any{
		"updates": []map[string]any{
			{
				"beacon":         "0x1111111111111111111111111111111111111111",
				"proof":          "zz",
				"public_signals": "0x02",
			},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			OK  bool   `json:"ok"`
			Err string `json:"error"`
		} `json:"results"`
		Summary struct {
			Requested int `json:"requested"`
			Succeeded int `json:"succeeded"`
			Failed    int `json:"failed"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	require.False(t, resp.Results[0].OK)
	require.Equal(t, "proof is not valid hex", resp.Results[0].Err)
	require.Equal(t, 1, resp.Summary.Requested)
	require.Equal(t, 1, resp.Summary.Failed)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestPerpBatchDeployEndpoint(t *testing.T) {
	f := newFixture(t)
	module := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	perpID := [32]byte{0x42}
	f.client.WaitFn = func(ctx context.Context, h common.Hash) (*types.Receipt, error) {
		payload, _ := chain.PerpABI.Events["PerpCreated"].Inputs.Pack(
			perpID, module, big.NewInt(1), big.NewInt(1))
		return &types.Receipt{
			Status: types.ReceiptStatusSuccessful, TxHash: h, BlockNumber: big.NewInt(1),
			Logs: []*types.Log{{
				Address: managerAddr,
				Topics:  []common.Hash{chain.PerpABI.Events["PerpCreated"].ID},
				Data:    payload,
			}},
		}, nil
	}

	rec := f.do(t, http.MethodPost, "/perp/batch-deploy", map[string]any{
		"perps": []map[string]any{{
			"beacon":                  module.Hex(),
			"fees":                    module.Hex(),
			"margin_ratios":           module.Hex(),
			"lockup_period":           module.Hex(),
			"sqrt_price_impact_limit": module.Hex(),
			"starting_sqrt_price_x96": "560227709747861399187319382274",
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		PerpIDs []string `json:"perp_ids"`
		Results []struct {
			OK bool `json:"ok"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.PerpIDs, 1)
	require.Len(t, resp.Results, 1)
	require.True(t, resp.Results[0].OK)
	require.Equal(t, 1, f.client.SubmittedCount())
	require.Equal(t, mc3Addr, *f.client.Submitted[0].To())
}

func TestPerpBatchDeployRejectsBadCount(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/perp/batch-deploy", map[string]any{
		"perps": []map[string]any{},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	module := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	perps := make([]map[string]any, perp.MaxBatchSize+1)
	for i := range perps {
		perps[i] = map[string]any{
			"beacon": module.Hex(), "fees": module.Hex(),
			"margin_ratios": module.Hex(), "lockup_period": module.Hex(),
			"sqrt_price_impact_limit": module.Hex(),
			"starting_sqrt_price_x96": "1",
		}
	}
	rec = f.do(t, http.MethodPost, "/perp/batch-deploy", map[string]any{"perps": perps})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestPerpBatchDepositRejectsBadPerpID(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/perp/batch-deposit", map[string]any{
		"deposits": []map[string]any{{
			"perp_id": "0x12", "margin_usdc": "10000000",
			"tick_lower": -120, "tick_upper": 120,
		}},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestWalletFundEndpoint(t *testing.T) {
	f := newFixture(t)
	f.client.BalanceFn = func(ctx context.Context, addr common.Address) (*big.Int, error) {
		return big.NewInt(1_000_000_000_000_000_000), nil
	}
	f.client.CallFn = func(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
		out, _ := chain.ERC20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(100_000_000))
		return out, nil
	}

	rec := f.do(t, http.MethodPost, "/wallet/fund", map[string]any{
		"recipient":   "0x2222222222222222222222222222222222222222",
		"usdc_amount": "25000000",
		"eth_amount":  "10000000000000000",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ETHTxHash  string `json:"eth_tx_hash"`
		USDCTxHash string `json:"usdc_tx_hash"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ETHTxHash)
	require.NotEmpty(t, resp.USDCTxHash)
	require.Equal(t, 2, f.client.SubmittedCount())
}

func TestWalletFundRejectsOverLimit(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/wallet/fund", map[string]any{
		"recipient":   "0x2222222222222222222222222222222222222222",
		"usdc_amount": "200000000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, 0, f.client.SubmittedCount())
}

func TestWalletFundRejectsBadRecipient(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/wallet/fund", map[string]any{
		"recipient": "nope", "usdc_amount": "1",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
