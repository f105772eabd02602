package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/store"
)

type StoreRepository struct {
	st store.Store
}

func NewRepository(st store.Store) *StoreRepository {
	return &StoreRepository{st: st}
}

func (r *StoreRepository) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.st.View(ctx, func(tx store.Tx) error {
		v, err := tx.Get(store.CollectionMetadata, key)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		value = v
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return value, nil
}

func (r *StoreRepository) Set(ctx context.Context, key string, value []byte) error {
	err := r.st.Update(ctx, func(tx store.Tx) error {
		return tx.Put(store.CollectionMetadata, key, value)
	})
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *StoreRepository) Delete(ctx context.Context, key string) error {
	err := r.st.Update(ctx, func(tx store.Tx) error {
		return tx.Delete(store.CollectionMetadata, key)
	})
	if err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *StoreRepository) Clear(ctx context.Context) error {
	err := r.st.Update(ctx, func(tx store.Tx) error {
		return tx.Clear(store.CollectionMetadata)
	})
	if err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func (r *StoreRepository) List(ctx context.Context) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := r.st.View(ctx, func(tx store.Tx) error {
		return tx.Iterate(store.CollectionMetadata, func(key string, value []byte) error {
			result[key] = value
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	return result, nil
}
