package camera

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	frame []byte
	err   error
	calls atomic.Int64
}

func (f *fakeSource) Snapshot(ctx context.Context, entityID string, timeout time.Duration) ([]byte, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.frame, nil
}

func TestBatchPartialFailure(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()

	good := &fakeSource{frame: testJPEG(t, 320, 240)}
	proc := NewProcessor(good, pool, 0)

	results := proc.Batch(context.Background(), []BatchSpec{
		{EntityID: "camera.a", Width: 200, Quality: 70},
	})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Data)
	assert.Equal(t, "camera.a", results[0].EntityID)
	assert.Greater(t, results[0].Size, 0)

	bad := &fakeSource{err: errors.New("camera offline")}
	proc = NewProcessor(bad, pool, 0)
	results = proc.Batch(context.Background(), []BatchSpec{
		{EntityID: "camera.b", Width: 200, Quality: 70},
	})
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Data)
	assert.Equal(t, 0, results[0].Size)
}

func TestBatchCapsAtMax(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()
	src := &fakeSource{frame: testJPEG(t, 100, 100)}
	proc := NewProcessor(src, pool, 0)

	specs := make([]BatchSpec, MaxBatchCameras+4)
	for i := range specs {
		specs[i] = BatchSpec{EntityID: "camera.x", Width: 100, Quality: 70}
	}
	results := proc.Batch(context.Background(), specs)
	assert.Len(t, results, MaxBatchCameras)
}

func TestSnapshotCacheCollapsesFetches(t *testing.T) {
	pool := NewPool(2)
	defer pool.Stop()
	src := &fakeSource{frame: testJPEG(t, 100, 100)}
	proc := NewProcessor(src, pool, time.Minute)

	spec := []BatchSpec{{EntityID: "camera.a", Width: 100, Quality: 70}}
	proc.Batch(context.Background(), spec)
	proc.Batch(context.Background(), spec)

	assert.Equal(t, int64(1), src.calls.Load())
}

func TestPoolHonorsContext(t *testing.T) {
	pool := NewPool(1)
	defer pool.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := pool.Do(ctx, func() ([]byte, error) { return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)
}
