package camera

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/technosupport/ts-wristlink/internal/hub"
)

const (
	// SnapshotTimeout bounds one frame fetch from the hub.
	SnapshotTimeout = 5 * time.Second
	// MaxBatchCameras caps one batch request.
	MaxBatchCameras = 8

	defaultCacheKeys = 64
)

type cachedFrame struct {
	data    []byte
	addedAt time.Time
}

// snapshotCache collapses duplicate batch fetches for the same
// (entity, width, quality) within a short window.
type snapshotCache struct {
	cache *lru.Cache[string, cachedFrame]
	ttl   time.Duration
}

func newSnapshotCache(maxKeys int, ttl time.Duration) *snapshotCache {
	if maxKeys <= 0 {
		maxKeys = defaultCacheKeys
	}
	c, _ := lru.New[string, cachedFrame](maxKeys)
	return &snapshotCache{cache: c, ttl: ttl}
}

func (c *snapshotCache) get(key string) ([]byte, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	if entry, ok := c.cache.Get(key); ok && time.Since(entry.addedAt) < c.ttl {
		return entry.data, true
	}
	return nil, false
}

func (c *snapshotCache) put(key string, data []byte) {
	if c.ttl <= 0 {
		return
	}
	c.cache.Add(key, cachedFrame{data: data, addedAt: time.Now()})
}

// Processor is the fetch → crop → resize → encode path shared by streams
// and batch snapshots.
type Processor struct {
	source hub.CameraSource
	pool   *Pool
	cache  *snapshotCache
}

func NewProcessor(source hub.CameraSource, pool *Pool, cacheTTL time.Duration) *Processor {
	return &Processor{
		source: source,
		pool:   pool,
		cache:  newSnapshotCache(defaultCacheKeys, cacheTTL),
	}
}

// Frame fetches one frame from entityID and processes it with the given
// parameters on the worker pool.
func (p *Processor) Frame(ctx context.Context, entityID string, viewport Viewport, width, quality int) ([]byte, error) {
	raw, err := p.source.Snapshot(ctx, entityID, SnapshotTimeout)
	if err != nil {
		return nil, err
	}
	return p.pool.Do(ctx, func() ([]byte, error) {
		return ProcessFrame(raw, viewport, width, quality)
	})
}

// BatchSpec is one requested snapshot in a batch call.
type BatchSpec struct {
	EntityID string
	Width    int
	Quality  int
}

// BatchResult is one row of the batch response. Data is the base64 frame,
// empty on failure.
type BatchResult struct {
	EntityID string  `json:"entity_id"`
	Data     *string `json:"data"`
	Size     int     `json:"size"`
}

// Batch fetches up to MaxBatchCameras snapshots in parallel, each cropped
// to the full frame. Per-camera failures yield an empty row instead of
// failing the batch.
func (p *Processor) Batch(ctx context.Context, specs []BatchSpec) []BatchResult {
	if len(specs) > MaxBatchCameras {
		specs = specs[:MaxBatchCameras]
	}
	results := make([]BatchResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec BatchSpec) {
			defer wg.Done()
			results[i] = p.batchOne(ctx, spec)
		}(i, spec)
	}
	wg.Wait()
	return results
}

func (p *Processor) batchOne(ctx context.Context, spec BatchSpec) BatchResult {
	out := BatchResult{EntityID: spec.EntityID}

	key := fmt.Sprintf("%s|%d|%d", spec.EntityID, spec.Width, spec.Quality)
	data, ok := p.cache.get(key)
	if !ok {
		var err error
		data, err = p.Frame(ctx, spec.EntityID, FullFrame(), spec.Width, spec.Quality)
		if err != nil {
			log.Printf("[DEBUG] Batch snapshot failed for %s: %v", spec.EntityID, err)
			return out
		}
		p.cache.put(key, data)
	}

	b64 := base64.StdEncoding.EncodeToString(data)
	out.Data = &b64
	out.Size = len(data)
	return out
}
