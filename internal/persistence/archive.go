package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// ArchiveEventsBefore exports every world event older than tick to a
// zstd-compressed JSON-lines file and removes the rows from the live
// table. Returns the number of events archived. The export is written
// before the delete so a failed write leaves the log intact.
func (s *Store) ArchiveEventsBefore(ctx context.Context, tick int64, path string) (int64, error) {
	events, err := s.ListEventsBefore(ctx, tick)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return 0, fmt.Errorf("zstd writer: %w", err)
	}

	enc := json.NewEncoder(zw)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			zw.Close()
			return 0, fmt.Errorf("encode event %d: %w", ev.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close archive: %w", err)
	}
	if err := f.Sync(); err != nil {
		return 0, fmt.Errorf("sync archive: %w", err)
	}

	n, err := s.DeleteEventsBefore(ctx, tick)
	if err != nil {
		return 0, fmt.Errorf("trim events: %w", err)
	}
	return n, nil
}
