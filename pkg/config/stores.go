package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittoloaders/pkg/vfs"
	vfsbadger "github.com/marmos91/dittoloaders/pkg/vfs/badger"
	"github.com/marmos91/dittoloaders/pkg/vfs/memory"
	"github.com/mitchellh/mapstructure"
)

// CreateAttributeStore creates the attribute store selected by cfg.Type.
func CreateAttributeStore(ctx context.Context, cfg *AttributesConfig) (vfs.AttributeStore, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryAttributeStore(ctx, cfg.Memory)
	case "badger":
		return createBadgerAttributeStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown attribute store type: %q", cfg.Type)
	}
}

// createMemoryAttributeStore creates an in-memory attribute store. The
// memory store has no options; unknown keys are rejected so typos surface.
func createMemoryAttributeStore(ctx context.Context, options map[string]any) (vfs.AttributeStore, error) {
	var memCfg struct{}
	md := mapstructure.Metadata{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &memCfg, Metadata: &md})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("invalid memory config: %w", err)
	}
	if len(md.Unused) > 0 {
		return nil, fmt.Errorf("invalid memory config: unknown keys %v", md.Unused)
	}

	return memory.NewMemoryAttributeStore(), nil
}

// createBadgerAttributeStore creates a BadgerDB attribute store.
func createBadgerAttributeStore(ctx context.Context, options map[string]any) (vfs.AttributeStore, error) {
	var badgerCfg vfsbadger.BadgerAttributeStoreConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &badgerCfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("invalid badger config: %w", err)
	}

	store, err := vfsbadger.NewBadgerAttributeStore(ctx, badgerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	return store, nil
}
