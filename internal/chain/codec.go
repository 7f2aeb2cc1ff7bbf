package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Parsed ABIs for every contract surface the service touches. Parsing
// happens once at init; the JSON is fixed so failure is a programmer
// error.
var (
	FactoryABI    = mustABI(factoryJSON)
	RegistryABI   = mustABI(registryJSON)
	BeaconABI     = mustABI(beaconJSON)
	EcdsaABI      = mustABI(ecdsaJSON)
	AdapterABI    = mustABI(adapterJSON)
	Multicall3ABI = mustABI(multicall3JSON)
	PerpABI       = mustABI(perpJSON)
	ERC20ABI      = mustABI(erc20JSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI definition: %v", err))
	}
	return parsed
}

const factoryJSON = `[
	{"type":"function","name":"createBeacon","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"beacon","type":"address"}]},
	{"type":"event","name":"BeaconCreated","inputs":[{"name":"beacon","type":"address","indexed":false}]}
]`

const registryJSON = `[
	{"type":"function","name":"registerBeacon","inputs":[{"name":"beacon","type":"address"}],"outputs":[]},
	{"type":"function","name":"unregisterBeacon","inputs":[{"name":"beacon","type":"address"}],"outputs":[]},
	{"type":"function","name":"beacons","stateMutability":"view","inputs":[{"name":"beacon","type":"address"}],"outputs":[{"name":"registered","type":"bool"}]}
]`

const beaconJSON = `[
	{"type":"function","name":"getData","stateMutability":"view","inputs":[],"outputs":[{"name":"data","type":"uint256"},{"name":"timestamp","type":"uint256"}]},
	{"type":"function","name":"updateData","inputs":[{"name":"proof","type":"bytes"},{"name":"publicSignals","type":"bytes"}],"outputs":[]},
	{"type":"event","name":"DataUpdated","inputs":[{"name":"data","type":"uint256","indexed":false}]}
]`

const ecdsaJSON = `[
	{"type":"function","name":"updateIndex","inputs":[{"name":"proof","type":"bytes"},{"name":"inputs","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"verifierAdapter","stateMutability":"view","inputs":[],"outputs":[{"name":"adapter","type":"address"}]},
	{"type":"function","name":"index","stateMutability":"view","inputs":[],"outputs":[{"name":"index","type":"uint256"}]},
	{"type":"event","name":"IndexUpdated","inputs":[{"name":"index","type":"uint256","indexed":false}]}
]`

const adapterJSON = `[
	{"type":"function","name":"digest","stateMutability":"view","inputs":[{"name":"measurement","type":"uint256"},{"name":"nonce","type":"uint256"}],"outputs":[{"name":"digest","type":"bytes32"}]},
	{"type":"function","name":"domainSeparator","stateMutability":"view","inputs":[],"outputs":[{"name":"separator","type":"bytes32"}]},
	{"type":"function","name":"SIGNER","stateMutability":"view","inputs":[],"outputs":[{"name":"signer","type":"address"}]}
]`

const multicall3JSON = `[
	{"type":"function","name":"aggregate3","stateMutability":"payable","inputs":[
		{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"allowFailure","type":"bool"},
			{"name":"callData","type":"bytes"}
		]}
	],"outputs":[
		{"name":"returnData","type":"tuple[]","components":[
			{"name":"success","type":"bool"},
			{"name":"returnData","type":"bytes"}
		]}
	]}
]`

const perpJSON = `[
	{"type":"function","name":"createPerp","inputs":[
		{"name":"params","type":"tuple","components":[
			{"name":"beacon","type":"address"},
			{"name":"fees","type":"address"},
			{"name":"marginRatios","type":"address"},
			{"name":"lockupPeriod","type":"address"},
			{"name":"sqrtPriceImpactLimit","type":"address"},
			{"name":"startingSqrtPriceX96","type":"uint160"}
		]}
	],"outputs":[{"name":"perpId","type":"bytes32"}]},
	{"type":"event","name":"PerpCreated","inputs":[
		{"name":"perpId","type":"bytes32","indexed":false},
		{"name":"beacon","type":"address","indexed":false},
		{"name":"sqrtPriceX96","type":"uint256","indexed":false},
		{"name":"indexPriceX96","type":"uint256","indexed":false}
	]},
	{"type":"function","name":"perps","stateMutability":"view","inputs":[{"name":"perpId","type":"bytes32"}],"outputs":[
		{"name":"info","type":"tuple","components":[
			{"name":"beacon","type":"address"},
			{"name":"fees","type":"address"},
			{"name":"marginRatios","type":"address"},
			{"name":"lockupPeriod","type":"address"},
			{"name":"sqrtPriceImpactLimit","type":"address"}
		]}
	]},
	{"type":"function","name":"openMakerPos","inputs":[
		{"name":"perpId","type":"bytes32"},
		{"name":"params","type":"tuple","components":[
			{"name":"holder","type":"address"},
			{"name":"margin","type":"uint256"},
			{"name":"liquidity","type":"uint128"},
			{"name":"tickLower","type":"int24"},
			{"name":"tickUpper","type":"int24"},
			{"name":"maxAmt0In","type":"uint128"},
			{"name":"maxAmt1In","type":"uint128"}
		]}
	],"outputs":[{"name":"posId","type":"uint256"}]},
	{"type":"event","name":"PositionOpened","inputs":[
		{"name":"perpId","type":"bytes32","indexed":false},
		{"name":"sqrtPriceX96","type":"uint256","indexed":false},
		{"name":"longOI","type":"uint256","indexed":false},
		{"name":"shortOI","type":"uint256","indexed":false},
		{"name":"posId","type":"uint256","indexed":false},
		{"name":"isMaker","type":"bool","indexed":false},
		{"name":"entryPerpDelta","type":"int256","indexed":false}
	]}
]`

const erc20JSON = `[
	{"type":"function","name":"transfer","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]},
	{"type":"function","name":"approve","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"ok","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"balance","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"remaining","type":"uint256"}]}
]`

// Call3 is one entry of a Multicall3 aggregate3 batch.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Call3Result is one entry of the aggregate3 return set.
type Call3Result struct {
	Success    bool
	ReturnData []byte
}

// CreatePerpParams mirrors the PerpManager createPerp parameter
// struct; module fields are plugin contract addresses.
type CreatePerpParams struct {
	Beacon               common.Address
	Fees                 common.Address
	MarginRatios         common.Address
	LockupPeriod         common.Address
	SqrtPriceImpactLimit common.Address
	StartingSqrtPriceX96 *big.Int
}

// OpenMakerPositionParams mirrors the PerpManager openMakerPos
// parameter struct.
type OpenMakerPositionParams struct {
	Holder    common.Address
	Margin    *big.Int
	Liquidity *big.Int
	TickLower *big.Int
	TickUpper *big.Int
	MaxAmt0In *big.Int
	MaxAmt1In *big.Int
}

// EncodeCreateBeacon packs a factory createBeacon call.
func EncodeCreateBeacon(owner common.Address) ([]byte, error) {
	data, err := FactoryABI.Pack("createBeacon", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode createBeacon: %w", err)
	}
	return data, nil
}

// EncodeRegisterBeacon packs a registry registerBeacon call.
func EncodeRegisterBeacon(beacon common.Address) ([]byte, error) {
	data, err := RegistryABI.Pack("registerBeacon", beacon)
	if err != nil {
		return nil, fmt.Errorf("failed to encode registerBeacon: %w", err)
	}
	return data, nil
}

// EncodeBeaconsQuery packs a registry beacons(addr) read.
func EncodeBeaconsQuery(beacon common.Address) ([]byte, error) {
	data, err := RegistryABI.Pack("beacons", beacon)
	if err != nil {
		return nil, fmt.Errorf("failed to encode beacons query: %w", err)
	}
	return data, nil
}

// DecodeBeaconsResult unpacks the registry beacons(addr) result.
func DecodeBeaconsResult(data []byte) (bool, error) {
	out, err := RegistryABI.Unpack("beacons", data)
	if err != nil {
		return false, fmt.Errorf("failed to decode beacons result: %w", err)
	}
	registered, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("beacons result is not a bool")
	}
	return registered, nil
}

// EncodeUpdateData packs a beacon updateData call.
func EncodeUpdateData(proof, publicSignals []byte) ([]byte, error) {
	data, err := BeaconABI.Pack("updateData", proof, publicSignals)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updateData: %w", err)
	}
	return data, nil
}

// EncodeGetData packs a beacon getData read.
func EncodeGetData() ([]byte, error) {
	data, err := BeaconABI.Pack("getData")
	if err != nil {
		return nil, fmt.Errorf("failed to encode getData: %w", err)
	}
	return data, nil
}

// EncodeUpdateIndex packs an ECDSA beacon updateIndex call.
func EncodeUpdateIndex(proof, inputs []byte) ([]byte, error) {
	data, err := EcdsaABI.Pack("updateIndex", proof, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode updateIndex: %w", err)
	}
	return data, nil
}

// EncodeVerifierAdapterQuery packs the verifierAdapter read.
func EncodeVerifierAdapterQuery() ([]byte, error) {
	data, err := EcdsaABI.Pack("verifierAdapter")
	if err != nil {
		return nil, fmt.Errorf("failed to encode verifierAdapter: %w", err)
	}
	return data, nil
}

// DecodeAddressResult unpacks a single-address return value.
func DecodeAddressResult(parsed abi.ABI, method string, data []byte) (common.Address, error) {
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s result is not an address", method)
	}
	return addr, nil
}

// EncodeSignerQuery packs the adapter SIGNER read.
func EncodeSignerQuery() ([]byte, error) {
	data, err := AdapterABI.Pack("SIGNER")
	if err != nil {
		return nil, fmt.Errorf("failed to encode SIGNER: %w", err)
	}
	return data, nil
}

// EncodeDigestQuery packs the adapter digest(measurement, nonce) read.
func EncodeDigestQuery(measurement, nonce *big.Int) ([]byte, error) {
	data, err := AdapterABI.Pack("digest", measurement, nonce)
	if err != nil {
		return nil, fmt.Errorf("failed to encode digest: %w", err)
	}
	return data, nil
}

// DecodeDigestResult unpacks the adapter digest result.
func DecodeDigestResult(data []byte) ([32]byte, error) {
	out, err := AdapterABI.Unpack("digest", data)
	if err != nil {
		return [32]byte{}, fmt.Errorf("failed to decode digest result: %w", err)
	}
	digest, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("digest result is not bytes32")
	}
	return digest, nil
}

// EncodeAggregate3 packs a Multicall3 aggregate3 call.
func EncodeAggregate3(calls []Call3) ([]byte, error) {
	data, err := Multicall3ABI.Pack("aggregate3", calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode aggregate3: %w", err)
	}
	return data, nil
}

// DecodeAggregate3Results unpacks the aggregate3 return set.
func DecodeAggregate3Results(data []byte) ([]Call3Result, error) {
	out, err := Multicall3ABI.Unpack("aggregate3", data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode aggregate3 results: %w", err)
	}
	raw, ok := out[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	if !ok {
		return nil, fmt.Errorf("aggregate3 results have unexpected shape")
	}
	results := make([]Call3Result, len(raw))
	for i, r := range raw {
		results[i] = Call3Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return results, nil
}

// EncodeCreatePerp packs a PerpManager createPerp call.
func EncodeCreatePerp(params CreatePerpParams) ([]byte, error) {
	data, err := PerpABI.Pack("createPerp", params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode createPerp: %w", err)
	}
	return data, nil
}

// EncodeOpenMakerPos packs a PerpManager openMakerPos call.
func EncodeOpenMakerPos(perpID [32]byte, params OpenMakerPositionParams) ([]byte, error) {
	data, err := PerpABI.Pack("openMakerPos", perpID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode openMakerPos: %w", err)
	}
	return data, nil
}

// EncodeTransfer packs an ERC20 transfer call.
func EncodeTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("transfer", to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer: %w", err)
	}
	return data, nil
}

// EncodeApprove packs an ERC20 approve call.
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	data, err := ERC20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode approve: %w", err)
	}
	return data, nil
}

// EncodeAllowanceQuery packs an ERC20 allowance read.
func EncodeAllowanceQuery(owner, spender common.Address) ([]byte, error) {
	data, err := ERC20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to encode allowance: %w", err)
	}
	return data, nil
}

// EncodeBalanceOfQuery packs an ERC20 balanceOf read.
func EncodeBalanceOfQuery(account common.Address) ([]byte, error) {
	data, err := ERC20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("failed to encode balanceOf: %w", err)
	}
	return data, nil
}

// DecodeUint256Result unpacks a single-uint256 return value.
func DecodeUint256Result(parsed abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := parsed.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	val, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s result is not a uint256", method)
	}
	return val, nil
}
