package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brightcast/brightcast/internal/authz"
)

const (
	recorderBuffer   = 256
	recorderBatch    = 64
	recorderInterval = time.Second
	flushTimeout     = 5 * time.Second
)

// DecisionWriter menulis satu batch keputusan ke penyimpanan.
// Repository mengimplementasikannya.
type DecisionWriter interface {
	InsertDecisions(ctx context.Context, rows []DecisionRow) error
}

// Recorder mengumpulkan keputusan otorisasi lewat buffer dan menulisnya
// secara batch di background. RecordDecision tidak pernah memblokir
// jalur request: saat buffer penuh, entri dibuang dan dihitung.
type Recorder struct {
	writer  DecisionWriter
	logger  *slog.Logger
	buf     chan DecisionRow
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
}

// NewRecorder membuat recorder dan menjalankan penulis background-nya.
func NewRecorder(writer DecisionWriter, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		writer: writer,
		logger: logger,
		buf:    make(chan DecisionRow, recorderBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordDecision mengantre satu keputusan. Context request sengaja
// diabaikan; penulisan terjadi nanti dengan context milik recorder.
func (r *Recorder) RecordDecision(_ context.Context, d authz.Decision) {
	select {
	case <-r.stop:
		return
	default:
	}
	row := DecisionRow{
		At:          time.Now().UTC(),
		PrincipalID: d.PrincipalID,
		Class:       string(d.Class),
		CompanyID:   d.CompanyID,
		Resource:    string(d.Resource),
		Action:      string(d.Action),
		Outcome:     d.Outcome,
		Reason:      d.Reason,
	}
	select {
	case r.buf <- row:
	default:
		r.dropped.Add(1)
	}
}

// Dropped melaporkan jumlah entri yang dibuang sejak flush terakhir.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close menguras buffer, menulis sisa batch, dan menghentikan penulis.
func (r *Recorder) Close() {
	r.once.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Recorder) run() {
	ticker := time.NewTicker(recorderInterval)
	defer ticker.Stop()

	batch := make([]DecisionRow, 0, recorderBatch)
	flush := func() {
		if n := r.dropped.Swap(0); n > 0 {
			r.logger.Warn("decision log dropped entries", slog.Uint64("count", n))
		}
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := r.writer.InsertDecisions(ctx, batch)
		cancel()
		if err != nil {
			r.logger.Warn("flush decision log", slog.Int("rows", len(batch)), slog.Any("error", err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-r.stop:
			for {
				select {
				case row := <-r.buf:
					batch = append(batch, row)
					if len(batch) >= recorderBatch {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			close(r.done)
			return
		case row := <-r.buf:
			batch = append(batch, row)
			if len(batch) >= recorderBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
