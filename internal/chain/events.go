package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ParseBeaconCreated returns the beacon address from the first
// BeaconCreated event emitted by the factory in the receipt.
func ParseBeaconCreated(receipt *types.Receipt, factory common.Address) (common.Address, error) {
	topic := FactoryABI.Events["BeaconCreated"].ID
	for _, log := range receipt.Logs {
		if log.Address != factory || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := FactoryABI.Unpack("BeaconCreated", log.Data)
		if err != nil {
			return common.Address{}, fmt.Errorf("failed to decode BeaconCreated: %w", err)
		}
		beacon, ok := out[0].(common.Address)
		if !ok {
			return common.Address{}, fmt.Errorf("BeaconCreated payload is not an address")
		}
		return beacon, nil
	}
	return common.Address{}, fmt.Errorf("BeaconCreated event not found in receipt %s", receipt.TxHash.Hex())
}

// ParseAllBeaconCreated returns every beacon address the factory
// emitted in the receipt, in emission order. Used after a creation
// multicall where one transaction creates many beacons.
func ParseAllBeaconCreated(receipt *types.Receipt, factory common.Address) ([]common.Address, error) {
	topic := FactoryABI.Events["BeaconCreated"].ID
	var beacons []common.Address
	for _, log := range receipt.Logs {
		if log.Address != factory || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := FactoryABI.Unpack("BeaconCreated", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode BeaconCreated: %w", err)
		}
		beacon, ok := out[0].(common.Address)
		if !ok {
			return nil, fmt.Errorf("BeaconCreated payload is not an address")
		}
		beacons = append(beacons, beacon)
	}
	return beacons, nil
}

// ParseDataUpdated returns the new data value from the beacon's
// DataUpdated event, or an error when the event is absent.
func ParseDataUpdated(receipt *types.Receipt, beacon common.Address) (*big.Int, error) {
	topic := BeaconABI.Events["DataUpdated"].ID
	for _, log := range receipt.Logs {
		if log.Address != beacon || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := BeaconABI.Unpack("DataUpdated", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode DataUpdated: %w", err)
		}
		data, ok := out[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("DataUpdated payload is not a uint256")
		}
		return data, nil
	}
	return nil, fmt.Errorf("DataUpdated event not found in receipt %s", receipt.TxHash.Hex())
}

// HasIndexUpdated reports whether the ECDSA beacon emitted an
// IndexUpdated event in the receipt.
func HasIndexUpdated(receipt *types.Receipt, beacon common.Address) bool {
	topic := EcdsaABI.Events["IndexUpdated"].ID
	for _, log := range receipt.Logs {
		if log.Address == beacon && len(log.Topics) > 0 && log.Topics[0] == topic {
			return true
		}
	}
	return false
}

// ParsePerpCreated returns the perp id from the manager's PerpCreated
// event.
func ParsePerpCreated(receipt *types.Receipt, manager common.Address) ([32]byte, error) {
	topic := PerpABI.Events["PerpCreated"].ID
	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := PerpABI.Unpack("PerpCreated", log.Data)
		if err != nil {
			return [32]byte{}, fmt.Errorf("failed to decode PerpCreated: %w", err)
		}
		perpID, ok := out[0].([32]byte)
		if !ok {
			return [32]byte{}, fmt.Errorf("PerpCreated payload is not bytes32")
		}
		return perpID, nil
	}
	return [32]byte{}, fmt.Errorf("PerpCreated event not found in receipt %s", receipt.TxHash.Hex())
}

// ParseAllPerpCreated returns every perp id the manager emitted in
// the receipt, in emission order. Used after a deployment multicall
// where one transaction creates many perps.
func ParseAllPerpCreated(receipt *types.Receipt, manager common.Address) ([][32]byte, error) {
	topic := PerpABI.Events["PerpCreated"].ID
	var ids [][32]byte
	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := PerpABI.Unpack("PerpCreated", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode PerpCreated: %w", err)
		}
		perpID, ok := out[0].([32]byte)
		if !ok {
			return nil, fmt.Errorf("PerpCreated payload is not bytes32")
		}
		ids = append(ids, perpID)
	}
	return ids, nil
}

// PositionOpened carries the decoded fields of the manager's
// PositionOpened event.
type PositionOpened struct {
	PerpID       [32]byte
	SqrtPriceX96 *big.Int
	PosID        *big.Int
	IsMaker      bool
}

// ParsePositionOpened returns the PositionOpened event matching the
// given perp id, skipping events for other perps in the same receipt.
func ParsePositionOpened(receipt *types.Receipt, manager common.Address, perpID [32]byte) (*PositionOpened, error) {
	topic := PerpABI.Events["PositionOpened"].ID
	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := PerpABI.Unpack("PositionOpened", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode PositionOpened: %w", err)
		}
		id, ok := out[0].([32]byte)
		if !ok || id != perpID {
			continue
		}
		ev := &PositionOpened{PerpID: id}
		ev.SqrtPriceX96, _ = out[1].(*big.Int)
		ev.PosID, _ = out[4].(*big.Int)
		ev.IsMaker, _ = out[5].(bool)
		return ev, nil
	}
	return nil, fmt.Errorf("PositionOpened event for perp %x not found in receipt %s", perpID, receipt.TxHash.Hex())
}

// ParseAllPositionOpened returns every PositionOpened event the
// manager emitted in the receipt, in emission order.
func ParseAllPositionOpened(receipt *types.Receipt, manager common.Address) ([]*PositionOpened, error) {
	topic := PerpABI.Events["PositionOpened"].ID
	var opened []*PositionOpened
	for _, log := range receipt.Logs {
		if log.Address != manager || len(log.Topics) == 0 || log.Topics[0] != topic {
			continue
		}
		out, err := PerpABI.Unpack("PositionOpened", log.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode PositionOpened: %w", err)
		}
		id, ok := out[0].([32]byte)
		if !ok {
			return nil, fmt.Errorf("PositionOpened payload is not bytes32")
		}
		ev := &PositionOpened{PerpID: id}
		ev.SqrtPriceX96, _ = out[1].(*big.Int)
		ev.PosID, _ = out[4].(*big.Int)
		ev.IsMaker, _ = out[5].(bool)
		opened = append(opened, ev)
	}
	return opened, nil
}
