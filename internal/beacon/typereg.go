package beacon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/perpcity/beaconator/internal/store"
)

// ErrTypeNotFound is returned when a beacon type slug is unknown.
var ErrTypeNotFound = errors.New("beacon type not found")

// ErrTypeInvalid is returned when a type config fails validation.
var ErrTypeInvalid = errors.New("invalid beacon type")

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// TypeConfig describes one beacon type: which factory mints it and
// which registry, if any, tracks it.
type TypeConfig struct {
	Slug        string `json:"slug"`
	Factory     string `json:"factory"`
	Registry    string `json:"registry,omitempty"`
	Description string `json:"description,omitempty"`
}

func (c TypeConfig) validate() error {
	if !slugPattern.MatchString(c.Slug) {
		return fmt.Errorf("%w: slug %q is not lowercase kebab-case", ErrTypeInvalid, c.Slug)
	}
	if c.Factory == "" {
		return fmt.Errorf("%w: type %s has no factory address", ErrTypeInvalid, c.Slug)
	}
	return nil
}

// TypeRegistry stores beacon type configurations.
type TypeRegistry struct {
	store  store.Store
	keys   store.Keys
	logger *zap.Logger
}

// NewTypeRegistry builds a TypeRegistry over the shared store.
func NewTypeRegistry(s store.Store, keys store.Keys, logger *zap.Logger) *TypeRegistry {
	return &TypeRegistry{store: s, keys: keys, logger: logger}
}

// Register stores a new type config. Registering an existing slug is
// an error; use Update.
func (r *TypeRegistry) Register(ctx context.Context, cfg TypeConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	exists, err := r.Exists(ctx, cfg.Slug)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("beacon type %s already registered", cfg.Slug)
	}
	return r.write(ctx, cfg)
}

// Update overwrites an existing type config.
func (r *TypeRegistry) Update(ctx context.Context, cfg TypeConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	exists, err := r.Exists(ctx, cfg.Slug)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("beacon type %s: %w", cfg.Slug, ErrTypeNotFound)
	}
	return r.write(ctx, cfg)
}

func (r *TypeRegistry) write(ctx context.Context, cfg TypeConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal type config: %w", err)
	}
	err = r.store.Pipeline(ctx, func(p store.Pipeline) {
		p.Set(r.keys.BeaconType(cfg.Slug), string(data))
		p.SAdd(r.keys.BeaconTypeIndex(), cfg.Slug)
	})
	if err != nil {
		return fmt.Errorf("failed to store type %s: %w", cfg.Slug, err)
	}
	r.logger.Info("beacon type stored", zap.String("slug", cfg.Slug))
	return nil
}

// Get returns the config for one slug.
func (r *TypeRegistry) Get(ctx context.Context, slug string) (*TypeConfig, error) {
	data, err := r.store.Get(ctx, r.keys.BeaconType(slug))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("beacon type %s: %w", slug, ErrTypeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load type %s: %w", slug, err)
	}
	cfg := &TypeConfig{}
	if err := json.Unmarshal([]byte(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse type %s: %w", slug, err)
	}
	return cfg, nil
}

// Exists reports whether a slug is registered.
func (r *TypeRegistry) Exists(ctx context.Context, slug string) (bool, error) {
	return r.store.SIsMember(ctx, r.keys.BeaconTypeIndex(), slug)
}

// List returns every registered type config.
func (r *TypeRegistry) List(ctx context.Context) ([]TypeConfig, error) {
	slugs, err := r.store.SMembers(ctx, r.keys.BeaconTypeIndex())
	if err != nil {
		return nil, fmt.Errorf("failed to list beacon types: %w", err)
	}
	configs := make([]TypeConfig, 0, len(slugs))
	for _, slug := range slugs {
		cfg, err := r.Get(ctx, slug)
		if err != nil {
			r.logger.Warn("indexed beacon type has no config record",
				zap.String("slug", slug), zap.Error(err))
			continue
		}
		configs = append(configs, *cfg)
	}
	return configs, nil
}

// Delete removes a type config. Deleting an unknown slug is a no-op.
func (r *TypeRegistry) Delete(ctx context.Context, slug string) error {
	err := r.store.Pipeline(ctx, func(p store.Pipeline) {
		p.Del(r.keys.BeaconType(slug))
		p.SRem(r.keys.BeaconTypeIndex(), slug)
	})
	if err != nil {
		return fmt.Errorf("failed to delete type %s: %w", slug, err)
	}
	return nil
}

// Seed registers configs that are not already present, usually from
// deployment configuration at startup.
func (r *TypeRegistry) Seed(ctx context.Context, configs []TypeConfig) error {
	for _, cfg := range configs {
		exists, err := r.Exists(ctx, cfg.Slug)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := r.Register(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}
