package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pdf-batch/backend/internal/events"
	"github.com/pdf-batch/backend/internal/models"
	"github.com/pdf-batch/backend/internal/records"
	"github.com/rs/zerolog"
)

// Worker is the remote extraction service.
type Worker interface {
	Notify(ctx context.Context, batchID string) error
	Health(ctx context.Context) models.WorkerStatus
}

// Uploader stores a batch's files in submission order.
type Uploader interface {
	UploadAll(ctx context.Context, batchID string, assignments []models.FileAssignment) ([]models.StoredFile, error)
}

// Options tunes a Controller.
type Options struct {
	// WatchInterval is the terminal-state poll period.
	WatchInterval time.Duration
	NotifyTimeout time.Duration
	HealthTimeout time.Duration
}

// DefaultOptions returns the standard timings.
func DefaultOptions() Options {
	return Options{
		WatchInterval: 1500 * time.Millisecond,
		NotifyTimeout: 10 * time.Second,
		HealthTimeout: 5 * time.Second,
	}
}

// Controller owns one session's batch lifecycle. Starting a new batch tears
// down the previous run's subscriptions and watch without waiting.
type Controller struct {
	store    records.Store
	bus      events.Subscriber
	uploader Uploader
	worker   Worker
	agg      *Aggregator
	opts     Options
	logger   zerolog.Logger
	state    *State

	startMu sync.Mutex
	mu      sync.Mutex
	current *run
}

// run is one batch's live resources.
type run struct {
	batchID string
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	subs     events.Group
	released bool
	once     sync.Once
}

// Handle identifies a started batch.
type Handle struct {
	BatchID string
	done    <-chan struct{}
}

// Done is closed when the batch reached a terminal status and its
// follow-up work finished, or when the run was torn down.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// NewController wires a controller. agg may be nil to disable combining.
func NewController(store records.Store, bus events.Subscriber, uploader Uploader, worker Worker, agg *Aggregator, opts Options, logger zerolog.Logger) *Controller {
	def := DefaultOptions()
	if opts.WatchInterval <= 0 {
		opts.WatchInterval = def.WatchInterval
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = def.NotifyTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = def.HealthTimeout
	}
	return &Controller{
		store:    store,
		bus:      bus,
		uploader: uploader,
		worker:   worker,
		agg:      agg,
		opts:     opts,
		logger:   logger.With().Str("component", "batch").Logger(),
		state:    NewState(),
	}
}

// State returns the controller's local view.
func (c *Controller) State() *State {
	return c.state
}

// Start creates a batch for plan, uploads its files, creates the work
// items, signals the worker and begins watching for a terminal status.
// The watch outlives ctx; it ends on a terminal status, Stop or the next
// Start.
func (c *Controller) Start(ctx context.Context, plan models.Plan) (*Handle, error) {
	if !plan.Valid {
		return nil, newError(KindInput, "validate", ErrInvalidSchema)
	}
	if len(plan.Assignments) == 0 {
		return nil, newError(KindInput, "validate", ErrNoFiles)
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	batchID := uuid.New().String()
	r := c.replaceRun(batchID)
	log := c.logger.With().Str("batch_id", batchID).Logger()

	// Start steps stop when either the caller or the run is cancelled.
	stepCtx, stopSteps := context.WithCancel(r.ctx)
	defer stopSteps()
	stopAfter := context.AfterFunc(ctx, stopSteps)
	defer stopAfter()

	c.state.Reset(batchID)
	c.state.SetProcessing(true)
	go c.probeHealth(r.ctx)

	fail := func(err *Error) (*Handle, error) {
		r.release()
		c.state.SetProcessing(false)
		c.state.SetError(err.Error())
		log.Error().Err(err.Err).Str("kind", string(err.Kind)).Str("op", err.Op).Msg("batch start failed")
		return nil, err
	}

	b := &models.Batch{ID: batchID, Status: models.BatchStatusCreated, TotalCount: len(plan.Assignments)}
	if err := c.store.InsertBatch(stepCtx, b); err != nil {
		return fail(newError(KindRecord, "create batch", err))
	}
	c.state.ApplyBatch(*b)

	handler := func(ev models.Event) {
		if r.isReleased() {
			return
		}
		c.state.Apply(ev)
	}
	batchSub, err := c.bus.Subscribe(stepCtx, events.ByID(models.CollectionBatches, batchID), handler)
	if err != nil {
		return fail(newError(KindRecord, "subscribe batches", err))
	}
	r.addSub(batchSub)
	itemSub, err := c.bus.Subscribe(stepCtx, events.ByBatch(models.CollectionWorkItems, batchID), handler)
	if err != nil {
		return fail(newError(KindRecord, "subscribe work items", err))
	}
	r.addSub(itemSub)

	stored, err := c.uploader.UploadAll(stepCtx, batchID, plan.Assignments)
	if err != nil {
		return fail(newError(KindUpload, "upload files", err))
	}

	items := make([]models.WorkItem, len(stored))
	for i, s := range stored {
		items[i] = models.NewWorkItem(batchID, i, s.Assignment.File.Name, s.Path, s.Assignment.Label, s.Assignment.Schema)
	}
	if err := c.store.InsertWorkItems(stepCtx, items); err != nil {
		return fail(newError(KindRecord, "create work items", err))
	}

	go c.notify(r.ctx, batchID)

	moved, err := c.store.TransitionBatch(stepCtx, batchID, models.BatchStatusCreated, models.BatchStatusRunning)
	if err != nil {
		return fail(newError(KindRecord, "mark running", err))
	}
	if moved {
		running := models.BatchStatusRunning
		c.state.Apply(batchEvent(batchID, models.BatchPatch{ID: batchID, Status: &running}))
	} else {
		log.Debug().Msg("batch already left created, keeping worker status")
	}

	initial, err := c.store.ListWorkItems(stepCtx, batchID)
	if err != nil {
		return fail(newError(KindRecord, "load work items", err))
	}
	for _, it := range initial {
		c.state.ApplyItem(it)
	}

	log.Info().Int("files", len(items)).Msg("batch started")
	go c.watch(r, log)

	return &Handle{BatchID: batchID, done: r.done}, nil
}

// Stop tears down the current run. The local view is kept.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.current
	c.current = nil
	c.mu.Unlock()

	if r != nil {
		r.release()
		c.state.SetProcessing(false)
	}
}

// replaceRun releases the previous run and installs a new one.
func (c *Controller) replaceRun(batchID string) *run {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{batchID: batchID, ctx: ctx, cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	prev := c.current
	c.current = r
	c.mu.Unlock()

	if prev != nil {
		prev.release()
	}
	return r
}

func (c *Controller) isCurrent(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == r
}

func (c *Controller) probeHealth(ctx context.Context) {
	if c.worker == nil {
		return
	}
	hctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()
	st := c.worker.Health(hctx)
	if ctx.Err() == nil {
		c.state.SetWorkerStatus(st)
	}
}

// ProbeHealth runs a worker probe and records the result.
func (c *Controller) ProbeHealth(ctx context.Context) models.WorkerStatus {
	if c.worker == nil {
		return models.WorkerStatusUnknown
	}
	hctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()
	st := c.worker.Health(hctx)
	c.state.SetWorkerStatus(st)
	return st
}

func (c *Controller) notify(ctx context.Context, batchID string) {
	if c.worker == nil {
		return
	}
	nctx, cancel := context.WithTimeout(ctx, c.opts.NotifyTimeout)
	defer cancel()
	if err := c.worker.Notify(nctx, batchID); err != nil {
		c.logger.Warn().Err(err).Str("batch_id", batchID).Msg("worker notify failed, relying on worker discovery")
		return
	}
	c.logger.Debug().Str("batch_id", batchID).Msg("worker notified")
}

// watch polls the batch until it is terminal, then releases the
// subscriptions, refreshes the items and builds the combined result.
func (c *Controller) watch(r *run, log zerolog.Logger) {
	defer close(r.done)

	ticker := time.NewTicker(c.opts.WatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		}

		b, err := c.store.GetBatch(r.ctx, r.batchID)
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Msg("polling batch failed")
			continue
		}
		c.state.ApplyBatch(*b)
		if !b.Status.Terminal() {
			continue
		}

		c.finish(r, b.Status, log)
		return
	}
}

func (c *Controller) finish(r *run, status models.BatchStatus, log zerolog.Logger) {
	r.unsubscribe()

	items, err := c.store.ListWorkItems(r.ctx, r.batchID)
	if err != nil {
		log.Warn().Err(err).Msg("refreshing work items failed")
	} else {
		for _, it := range items {
			c.state.ApplyItem(it)
		}
	}
	if !c.isCurrent(r) {
		return
	}
	c.state.SetProcessing(false)

	if status != models.BatchStatusDone || c.agg == nil {
		log.Info().Str("status", string(status)).Msg("batch finished")
		return
	}

	combined := c.agg.TryBuildCombined(r.ctx, c.state.ItemsBySubmission())
	if combined == nil {
		log.Info().Msg("batch done, no combined result")
		return
	}
	c.state.SetCombined(r.batchID, combined)
	log.Info().Int("entries", len(combined.Entries)).Msg("batch done, combined result ready")
}

func batchEvent(batchID string, patch models.BatchPatch) models.Event {
	ev, _ := models.NewEvent(models.CollectionBatches, models.EventUpdate, batchID, batchID, patch)
	return ev
}

func (r *run) addSub(s events.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		s.Unsubscribe()
		return
	}
	r.subs = append(r.subs, s)
}

func (r *run) unsubscribe() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	subs.Unsubscribe()
}

func (r *run) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// release cancels the run and drops its subscriptions. It does not wait
// for in-flight work.
func (r *run) release() {
	r.once.Do(func() {
		r.mu.Lock()
		r.released = true
		r.mu.Unlock()
		r.cancel()
		r.unsubscribe()
	})
}
