package search

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/pkg/errors"
)

const (
	defaultMaxActions   = 500
	defaultMaxSizeBytes = 50 * 1024 * 1024
)

// StatsSink receives flush outcomes. Implementations must be safe for
// concurrent use.
type StatsSink interface {
	RecordBulk(success int64, failed int64)
}

type BulkProcessorConfig struct {
	MaxActions   int   `json:"max_actions"`
	MaxSizeBytes int64 `json:"max_size_bytes"`
}

// BulkProcessor buffers operations and flushes them once the buffered action
// count or estimated payload size crosses its thresholds. Add never blocks on
// network I/O from another goroutine's flush: the pending slice is captured
// and cleared under the lock, and the request runs outside it.
type BulkProcessor struct {
	writer  BulkWriter
	cfg     BulkProcessorConfig
	sink    StatsSink
	mu      sync.Mutex
	pending []BulkOp
	size    int64
	closed  bool
	success atomic.Int64
	failed  atomic.Int64
}

func NewBulkProcessor(writer BulkWriter, cfg BulkProcessorConfig, sink StatsSink) *BulkProcessor {
	if cfg.MaxActions <= 0 {
		cfg.MaxActions = defaultMaxActions
	}
	if cfg.MaxSizeBytes <= 0 {
		cfg.MaxSizeBytes = defaultMaxSizeBytes
	}
	return &BulkProcessor{writer: writer, cfg: cfg, sink: sink}
}

// Add queues an operation, flushing first if the buffer is full. A closed
// processor rejects the operation with ErrClosed.
func (p *BulkProcessor) Add(ctx context.Context, op BulkOp) error {
	opSize := estimateOpSize(op)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	if len(p.pending) >= p.cfg.MaxActions || (len(p.pending) > 0 && p.size+opSize > p.cfg.MaxSizeBytes) {
		batch := p.pending
		p.pending = nil
		p.size = 0
		p.mu.Unlock()
		if err := p.flush(ctx, batch); err != nil {
			return err
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return errors.ErrClosed
		}
	}
	p.pending = append(p.pending, op)
	p.size += opSize
	p.mu.Unlock()
	return nil
}

// Flush sends everything buffered so far.
func (p *BulkProcessor) Flush(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	batch := p.pending
	p.pending = nil
	p.size = 0
	p.mu.Unlock()
	return p.flush(ctx, batch)
}

func (p *BulkProcessor) flush(ctx context.Context, batch []BulkOp) error {
	if len(batch) == 0 {
		return nil
	}
	results, err := p.writer.Bulk(ctx, batch)
	if err != nil {
		// Transport failure: nothing was acknowledged, count the whole
		// batch as failed.
		p.failed.Add(int64(len(batch)))
		if p.sink != nil {
			p.sink.RecordBulk(0, int64(len(batch)))
		}
		return err
	}
	var ok, bad int64
	for _, r := range results {
		if r.Failed() {
			bad++
			logutil.GetLogger(ctx).Warn("bulk item failed",
				zap.String("doc_id", r.DocID), zap.Int("status", r.Status), zap.String("err", r.Err))
			continue
		}
		ok++
	}
	p.success.Add(ok)
	p.failed.Add(bad)
	if p.sink != nil {
		p.sink.RecordBulk(ok, bad)
	}
	return nil
}

// Close performs the final flush and marks the processor unusable. Later
// Add, Flush and Close calls return ErrClosed.
func (p *BulkProcessor) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.ErrClosed
	}
	p.closed = true
	batch := p.pending
	p.pending = nil
	p.size = 0
	p.mu.Unlock()
	return p.flush(ctx, batch)
}

func (p *BulkProcessor) TotalSuccess() int64 { return p.success.Load() }
func (p *BulkProcessor) TotalFailed() int64  { return p.failed.Load() }

// estimateOpSize approximates the serialized payload of one operation. The
// estimate errs on the high side (20% headroom) so the size threshold trips
// before the real payload outgrows the backend's request limit.
func estimateOpSize(op BulkOp) int64 {
	size := int64(len(op.Index) + len(op.DocID) + 64)
	size += estimateValueSize(op.Doc)
	return size * 12 / 10
}

func estimateValueSize(v interface{}) int64 {
	switch t := v.(type) {
	case nil:
		return 4
	case string:
		return int64(2 * len(t))
	case []float32:
		return int64(4 * len(t))
	case []float64:
		return int64(8 * len(t))
	case bool:
		return 5
	case int, int32, int64, float32, float64:
		return 16
	case []string:
		var size int64
		for _, s := range t {
			size += int64(2 * len(s))
		}
		return size
	case []interface{}:
		size := int64(50 * len(t))
		for _, e := range t {
			size += estimateValueSize(e)
		}
		return size
	case map[string]interface{}:
		var size int64
		for k, e := range t {
			size += int64(len(k)) + estimateValueSize(e)
		}
		return size
	default:
		return 64
	}
}
