package chain

import (
	"context"
	"fmt"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/ethereum/go-ethereum/common"
)

// CodeCache remembers which addresses have deployed code so repeated
// pre-submission validation skips the RPC round trip. Only positive
// answers are cached; an address with no code today may have code
// after the next deploy.
type CodeCache struct {
	cache *fastcache.Cache
}

// NewCodeCache builds a cache bounded to maxBytes.
func NewCodeCache(maxBytes int) *CodeCache {
	return &CodeCache{cache: fastcache.New(maxBytes)}
}

// HasCode reports whether addr has deployed code, consulting the
// cache before the client.
func (c *CodeCache) HasCode(ctx context.Context, client Client, addr common.Address) (bool, error) {
	key := addr.Bytes()
	if c.cache.Has(key) {
		return true, nil
	}
	code, err := client.CodeAt(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("failed to fetch code at %s: %w", addr.Hex(), err)
	}
	if len(code) == 0 {
		return false, nil
	}
	c.cache.Set(key, []byte{1})
	return true, nil
}

// RequireCode returns an error naming the address when it has no
// deployed code.
func (c *CodeCache) RequireCode(ctx context.Context, client Client, addr common.Address) error {
	ok, err := c.HasCode(ctx, client, addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("address %s has no deployed code", addr.Hex())
	}
	return nil
}
