package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"RegimePull/internal/domain/models"
	domrepo "RegimePull/internal/domain/repository"
)

// Proc is the minimal downstream interface the pipeline needs.
type Proc interface {
	Process(ctx context.Context, b *models.Bar) error
}

// BarPipeline sits between the live feed and the evaluation path. It rejects
// malformed bars at the boundary and buffers accepted ones when downstream is
// temporarily unavailable, flushing in the background with backoff.
type BarPipeline struct {
	proc    Proc
	metrics domrepo.Metrics
	bufSize int
	bufCh   chan *models.Bar
	stopCh  chan struct{}
	started bool
	mu      sync.Mutex
}

type PipelineOption func(*BarPipeline)

// WithBufferSize sets the buffer size used when downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *BarPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// NewBarPipeline creates a new pipeline.
func NewBarPipeline(proc Proc, metrics domrepo.Metrics, opts ...PipelineOption) *BarPipeline {
	p := &BarPipeline{
		proc:    proc,
		metrics: metrics,
		bufSize: 1000,
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.Bar, p.bufSize)
	return p
}

// Start launches background flushing of buffered bars.
func (p *BarPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		backoff := 50 * time.Millisecond
		for {
			select {
			case <-p.stopCh:
				return
			case b := <-p.bufCh:
				if b == nil {
					continue
				}
				// retry the same bar in place: buffered bars must reach
				// downstream in arrival order, or the earlier one comes
				// back stale and its evaluation is lost
				for {
					if err := p.proc.Process(ctx, b); err == nil {
						backoff = 50 * time.Millisecond
						break
					}
					p.metrics.RecordError("pipeline_flush")
					if backoff < 2*time.Second {
						backoff *= 2
					}
					select {
					case <-p.stopCh:
						return
					case <-time.After(backoff):
					}
				}
			}
		}
	}()
}

// Stop stops the background flushing.
func (p *BarPipeline) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	p.mu.Unlock()
	close(p.stopCh)
}

// Process validates and forwards a bar downstream, buffering on errors.
func (p *BarPipeline) Process(ctx context.Context, b *models.Bar) error {
	start := time.Now()
	if err := validateBar(b); err != nil {
		p.metrics.RecordBarDropped(instrumentOf(b), "invalid")
		return err
	}

	if err := p.proc.Process(ctx, b); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- b:
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}

func instrumentOf(b *models.Bar) string {
	if b == nil {
		return ""
	}
	return b.InstrumentID
}

func validateBar(b *models.Bar) error {
	if b == nil {
		return fmt.Errorf("bar nil")
	}
	if b.InstrumentID == "" {
		return fmt.Errorf("instrument empty")
	}
	if b.CloseTime.IsZero() {
		return fmt.Errorf("close time missing")
	}
	if b.High < b.Low {
		return fmt.Errorf("high below low")
	}
	if b.Close <= 0 || b.Open <= 0 {
		return fmt.Errorf("non-positive price")
	}
	if b.Volume < 0 {
		return fmt.Errorf("negative volume")
	}
	return nil
}
