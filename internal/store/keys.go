package store

// Keys builds the namespaced key layout shared by every process that
// talks to the same backend. All keys carry a configurable prefix so
// multiple deployments can share one Redis instance.
type Keys struct {
	prefix string
}

// NewKeys returns a key builder using the given prefix.
func NewKeys(prefix string) Keys {
	return Keys{prefix: prefix}
}

// WalletPool is the set of all pool wallet addresses.
func (k Keys) WalletPool() string {
	return k.prefix + "wallet:pool"
}

// WalletInfo holds the serialized metadata for one wallet.
func (k Keys) WalletInfo(addr string) string {
	return k.prefix + "wallet:info:" + addr
}

// WalletLock is the distributed lock key for one wallet.
func (k Keys) WalletLock(addr string) string {
	return k.prefix + "wallet:lock:" + addr
}

// WalletBeacons is the set of beacons designated to one wallet.
func (k Keys) WalletBeacons(addr string) string {
	return k.prefix + "wallet:beacons:" + addr
}

// BeaconWallet maps a beacon address back to its designated wallet.
func (k Keys) BeaconWallet(beacon string) string {
	return k.prefix + "beacon:wallet:" + beacon
}

// BeaconType holds the serialized metadata for one beacon type slug.
func (k Keys) BeaconType(slug string) string {
	return k.prefix + "beacontype:" + slug
}

// BeaconTypeIndex is the set of all registered beacon type slugs.
func (k Keys) BeaconTypeIndex() string {
	return k.prefix + "beacontype:index"
}
