// Package snapshot implements on-demand, compressed debugging exports of
// the authoritative game state (spec §4.14). This is operability tooling,
// not protocol-level state persistence: the protocol never reads these
// files back; only Load, for inspection, does.
package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"pygase/gamestate"
	"pygase/internal/wire"
)

// Exporter dumps a GameStateStore's current state and update cache to disk,
// zstd-compressed, for offline inspection.
type Exporter struct {
	store *gamestate.Store
	dir   string
	clock func() time.Time
}

// Option configures an Exporter at construction time.
type Option func(*Exporter)

// WithClock overrides the time source used to name dump files.
func WithClock(clock func() time.Time) Option {
	return func(e *Exporter) { e.clock = clock }
}

// NewExporter constructs an Exporter writing under dir, creating it if
// necessary.
func NewExporter(store *gamestate.Store, dir string, opts ...Option) *Exporter {
	e := &Exporter{store: store, dir: dir, clock: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Dump encodes the store's current state plus its retained update cache
// with the protocol's own codec (spec §4.2), compresses the result with
// zstd, and writes it to dir. It returns the written file's path.
func (e *Exporter) Dump(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create dir %q: %w", e.dir, err)
	}

	state := e.store.GetGameState()
	stateBytes, err := state.AsUpdate().Bytes()
	if err != nil {
		return "", fmt.Errorf("snapshot: encode state: %w", err)
	}

	cache := e.store.GetUpdateCache()
	cacheBytes := make([][]byte, 0, len(cache))
	for _, u := range cache {
		b, err := u.Bytes()
		if err != nil {
			return "", fmt.Errorf("snapshot: encode cached update: %w", err)
		}
		cacheBytes = append(cacheBytes, b)
	}

	record, err := wire.Encode(wire.Record{"state": stateBytes, "cache": cacheBytes})
	if err != nil {
		return "", fmt.Errorf("snapshot: encode record: %w", err)
	}

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return "", fmt.Errorf("snapshot: new zstd encoder: %w", err)
	}
	compressed := encoder.EncodeAll(record, nil)
	_ = encoder.Close()

	name := fmt.Sprintf("pygase-state-%s.msgpack.zst", e.clock().UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return "", fmt.Errorf("snapshot: write %q: %w", path, err)
	}
	return path, nil
}

// Load reverses Dump, for tests and operator tooling that want to inspect
// a previously written snapshot.
func Load(path string) (state []byte, cache [][]byte, err error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: read %q: %w", path, err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: new zstd decoder: %w", err)
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: decompress %q: %w", path, err)
	}
	record, err := wire.Decode(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: decode record: %w", err)
	}
	stateBytes, _ := record["state"].([]byte)
	rawCache, _ := record["cache"].([]any)
	decodedCache := make([][]byte, 0, len(rawCache))
	for _, entry := range rawCache {
		if b, ok := entry.([]byte); ok {
			decodedCache = append(decodedCache, b)
		}
	}
	return stateBytes, decodedCache, nil
}
