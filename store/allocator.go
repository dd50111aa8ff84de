package store

import (
	"context"
	"fmt"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
)

// IDAllocator hands out media ids, reusing gaps freed by deletion so the
// id space stays compact. It re-reads the occupied set on every
// allocation, since concurrent deletions change the gap set between
// calls, and takes no lock: two allocators racing on the same id are
// resolved by the insert failing its primary-key constraint and the
// losing job retrying.
type IDAllocator struct {
	store *Store
}

// NewIDAllocator creates an allocator over the given store.
func NewIDAllocator(s *Store) *IDAllocator {
	return &IDAllocator{store: s}
}

// NextID returns the smallest unoccupied id: 1 for an empty store, the
// first gap above an occupied id otherwise, max+1 when the occupied set
// is contiguous.
func (a *IDAllocator) NextID(ctx context.Context) (int64, error) {
	occupied, err := a.occupiedSet(ctx)
	if err != nil {
		return 0, err
	}
	if occupied.IsEmpty() || !occupied.Contains(1) {
		return 1, nil
	}

	max := occupied.Maximum()
	for it := occupied.Iterator(); it.HasNext(); {
		id := it.Next()
		if id < max && !occupied.Contains(id+1) {
			return int64(id + 1), nil
		}
	}
	return int64(max) + 1, nil
}

func (a *IDAllocator) occupiedSet(ctx context.Context) (*roaring.Bitmap, error) {
	rows, err := a.store.db.QueryContext(ctx, `SELECT id FROM media ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query occupied ids: %w", err)
	}
	defer rows.Close()

	occupied := roaring.New()
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		// The occupied set is a 32-bit bitmap; gap reuse keeps allocated
		// ids compact, so an out-of-range id can only come from an
		// external writer. Truncating it would corrupt the gap search.
		if id < 1 || id > math.MaxUint32 {
			return nil, fmt.Errorf("media id %d outside allocatable range [1, %d]", id, uint32(math.MaxUint32))
		}
		occupied.Add(uint32(id))
	}
	return occupied, rows.Err()
}
