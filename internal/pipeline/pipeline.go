package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/penwyp/go-claude-stream/internal/core/assembler"
	"github.com/penwyp/go-claude-stream/internal/core/hub"
	"github.com/penwyp/go-claude-stream/internal/core/model"
	"github.com/penwyp/go-claude-stream/internal/core/project"
	"github.com/penwyp/go-claude-stream/internal/data/checkpoint"
	"github.com/penwyp/go-claude-stream/internal/data/observer"
	"github.com/penwyp/go-claude-stream/internal/data/parser"
	"github.com/penwyp/go-claude-stream/internal/data/reader"
	"github.com/penwyp/go-claude-stream/internal/util"
)

const (
	retryBase    = 100 * time.Millisecond
	retryMax     = 30 * time.Second
	retryAttempt = 5
	statsPeriod  = time.Minute
)

// Config controls the ingestion pipeline.
type Config struct {
	// Root is the monitored directory tree.
	Root string
	// Workers is the number of goroutines consuming change notifications.
	// Distinct files are read concurrently; a single file never is.
	Workers int
	// Debounce coalesces write bursts per file before a read is triggered.
	Debounce time.Duration
	// LivenessWindow ends conversations idle longer than this.
	LivenessWindow time.Duration
	// QueueDepth bounds each hub subscription's delivery queue.
	QueueDepth int
}

// Pipeline wires the stages together: observer notifications fan out to
// workers that run the incremental reader, the parser, the project resolver,
// and hand records to the assembler, which publishes deltas to the hub.
type Pipeline struct {
	cfg Config

	obs *observer.Observer
	rd  *reader.Reader
	ps  *parser.Parser
	res *project.Resolver
	asm *assembler.Assembler
	hub *hub.Hub

	wg sync.WaitGroup
}

// New builds a Pipeline over the given checkpoint store. The store is the one
// dependency whose loss is fatal; everything downstream degrades per-record.
func New(cfg Config, store checkpoint.Store) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}

	obs, err := observer.New(cfg.Root, cfg.Debounce)
	if err != nil {
		return nil, err
	}

	h := hub.New(cfg.QueueDepth)
	res := project.NewResolver(cfg.Root)
	asm := assembler.New(assembler.Config{LivenessWindow: cfg.LivenessWindow}, h, res)

	return &Pipeline{
		cfg: cfg,
		obs: obs,
		rd:  reader.New(store),
		ps:  parser.New(),
		res: res,
		asm: asm,
		hub: h,
	}, nil
}

// Hub exposes the broadcast hub for subscribers.
func (p *Pipeline) Hub() *hub.Hub {
	return p.hub
}

// Resolver exposes the project resolver for read-only inspection.
func (p *Pipeline) Resolver() *project.Resolver {
	return p.res
}

// Assembler exposes assembled state for read-only inspection.
func (p *Pipeline) Assembler() *assembler.Assembler {
	return p.asm
}

// Run starts the pipeline and blocks until the context is cancelled and all
// in-flight batches have committed their checkpoints. No line consumed from
// disk is lost on a graceful stop.
func (p *Pipeline) Run(ctx context.Context) error {
	util.LogInfof("Starting transcript pipeline on %s (%d workers)", p.cfg.Root, p.cfg.Workers)

	p.asm.Start()

	if err := p.obs.Start(ctx); err != nil {
		return err
	}

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx)
	}

	p.wg.Add(1)
	go p.runStats(ctx)

	<-ctx.Done()

	// Shutdown order matters: stop producing notifications, let workers
	// drain and commit, then flush the assembler shards.
	if err := p.obs.Close(); err != nil {
		util.LogWarnf("Observer close: %v", err)
	}
	p.wg.Wait()
	p.asm.Close()
	p.hub.Close()

	util.LogInfo("Transcript pipeline stopped")
	return nil
}

// runWorker consumes change notifications until the observer's channel
// closes. Cancellation is observed through the channel close, not the
// context, so events already queued still commit before shutdown completes.
func (p *Pipeline) runWorker(ctx context.Context) {
	defer p.wg.Done()

	for ev := range p.obs.Events() {
		p.handle(ctx, ev)
	}
}

func (p *Pipeline) handle(ctx context.Context, ev model.FileEvent) {
	switch ev.Kind {
	case model.ChangeRemove:
		if err := p.rd.Forget(ev.Path); err != nil {
			util.LogWarnf("Failed to drop checkpoint for %s: %v", ev.Path, err)
		}
	case model.ChangeRename:
		// The path may be reused; the inode check resets state if it is.
	case model.ChangeCreate, model.ChangeModify:
		p.ingestWithRetry(ctx, ev.Path)
	}
}

// ingestWithRetry retries transient read failures with exponential backoff.
// After the attempt budget the file is quarantined until its next change
// notification; one failing file never stalls the others.
func (p *Pipeline) ingestWithRetry(ctx context.Context, path string) {
	delay := retryBase
	for attempt := 1; ; attempt++ {
		err := p.ingest(path)
		if err == nil {
			return
		}

		if attempt >= retryAttempt {
			util.LogErrorf("Quarantining %s after %d attempts: %v", path, attempt, err)
			return
		}

		util.LogDebugf("Ingest retry %d for %s in %v: %v", attempt, path, delay, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMax {
			delay = retryMax
		}
	}
}

// ingest runs one incremental read of path and feeds the batch through the
// parser into the assembler. The reader persists the checkpoint only after
// this handoff succeeds.
func (p *Pipeline) ingest(path string) error {
	return p.rd.Process(path, func(b *reader.Batch) error {
		if b.Truncated {
			p.asm.FileTruncated(b.Path)
		}

		proj, err := p.res.Resolve(b.Path, time.Now())
		if err != nil {
			return err
		}

		now := time.Now()
		for _, line := range b.Lines {
			rec := p.ps.ParseLine(line, now)
			if rec == nil {
				continue
			}
			rec.SourcePath = b.Path
			p.asm.Apply(rec, proj)
		}
		return nil
	})
}

// runStats periodically logs pipeline counters so malformed input and
// subscriber drops stay observable.
func (p *Pipeline) runStats(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(statsPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			parsed, malformed := p.ps.Stats()
			published, dropped := p.hub.Stats()
			util.LogInfof("Pipeline stats: parsed=%d malformed=%d published=%d dropped=%d subscribers=%d",
				parsed, malformed, published, dropped, p.hub.SubscriberCount())
		}
	}
}
