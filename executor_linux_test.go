//go:build linux

package asyncfio

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRealExecutor skips when io_uring is unavailable.
func newRealExecutor(t *testing.T, options ...ExecutorOption) *Executor {
	t.Helper()
	e, err := New(append([]ExecutorOption{WithEntries(64), WithLogger(nil)}, options...)...)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestExecutor_realFileRoundTrip(t *testing.T) {
	e := newRealExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "data")
	f, err := e.CreateBufferedFile(ctx, path)
	require.NoError(t, err)

	n, err := f.Write([]byte("hello, world"), 0).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	buf := make([]byte, 5)
	n, err = f.Read(buf, 7).Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	_, err = f.Close().Wait(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))
}

func TestExecutor_realOpenMissing(t *testing.T) {
	e := newRealExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := e.OpenBufferedFile(ctx, filepath.Join(t.TempDir(), "missing"), ORdOnly)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestExecutor_realConcurrentReads(t *testing.T) {
	e := newRealExecutor(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const blocks, block = 64, 512
	content := make([]byte, blocks*block)
	for i := range content {
		content[i] = byte(i / block)
	}
	path := filepath.Join(t.TempDir(), "blocks")
	require.NoError(t, os.WriteFile(path, content, 0o600))

	f, err := e.OpenBufferedFile(ctx, path, ORdOnly)
	require.NoError(t, err)
	defer f.Close()

	var wg sync.WaitGroup
	for i := 0; i < blocks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := make([]byte, block)
			n, err := f.Read(buf, int64(i*block)).Wait(ctx)
			if assert.NoError(t, err) {
				assert.Equal(t, block, n)
				assert.True(t, bytes.Equal(content[i*block:(i+1)*block], buf), "block %d", i)
			}
		}()
	}
	wg.Wait()
}

func TestExecutor_realNopsAndTasks(t *testing.T) {
	e := newRealExecutor(t, WithEntries(8))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// more than the ring holds, exercising the backlog
	futures := make([]*Future, 100)
	for i := range futures {
		futures[i] = e.ScheduleNop()
	}
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	for i := 0; i < 100; i++ {
		done := make(chan struct{})
		require.NoError(t, e.Execute(func() { close(done) }))
		select {
		case <-done:
		case <-ctx.Done():
			t.Fatal("task did not run")
		}
		if i%10 == 0 {
			time.Sleep(time.Millisecond)
		}
	}

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Execute(func() {}), ErrExecutorClosed)
}
