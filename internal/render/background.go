package render

import (
	"context"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Background renders snapshot previews on a best-effort basis. Jobs run
// detached from the search: failures are only logged and a full queue drops
// the job rather than blocking the caller.
type Background struct {
	renderer Renderer
	width    int
	height   int
	timeout  time.Duration

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	done    int
	failed  int
	dropped int
}

type BackgroundStats struct {
	Done    int
	Failed  int
	Dropped int
}

// NewBackground allows at most maxInFlight concurrent previews. A zero
// timeout means previews run until they finish.
func NewBackground(renderer Renderer, width, height, maxInFlight int, timeout time.Duration) *Background {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Background{
		renderer: renderer,
		width:    width,
		height:   height,
		timeout:  timeout,
		slots:    make(chan struct{}, maxInFlight),
	}
}

// Submit queues a preview and reports whether it was accepted.
func (b *Background) Submit(scenePath, outPath string) bool {
	if b == nil || b.renderer == nil {
		return false
	}
	select {
	case b.slots <- struct{}{}:
	default:
		b.mu.Lock()
		b.dropped++
		b.mu.Unlock()
		klog.V(2).Infof("preview queue full, skipping %s", scenePath)
		return false
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() { <-b.slots }()

		ctx := context.Background()
		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		_, err := b.renderer.Render(ctx, scenePath, outPath, b.width, b.height)

		b.mu.Lock()
		defer b.mu.Unlock()
		if err != nil {
			b.failed++
			klog.Errorf("preview render of %s failed: %v", scenePath, err)
			return
		}
		b.done++
	}()
	return true
}

// Wait blocks until in-flight previews finish or ctx ends.
func (b *Background) Wait(ctx context.Context) error {
	if b == nil {
		return nil
	}
	finished := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Background) Stats() BackgroundStats {
	if b == nil {
		return BackgroundStats{}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return BackgroundStats{Done: b.done, Failed: b.failed, Dropped: b.dropped}
}
