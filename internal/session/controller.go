package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/provider"
	"github.com/manash/seedgraph/internal/stream"
	"github.com/manash/seedgraph/pkg/models"
)

var (
	ErrSessionActive = errors.New("a generation session is already running")
	ErrNoOutput      = errors.New("generation finished without producing an image")
	ErrTransport     = errors.New("generation transport failed")
)

// Observer receives session updates as they happen. Calls are made from the
// goroutine running Submit.
type Observer interface {
	StateChanged(sessionID string, state State)
	Progressed(p Progress)
	Produced(rec models.GenerationRecord, edges []graph.Edge)
	Status(msg string)
}

type NopObserver struct{}

func (NopObserver) StateChanged(string, State)                    {}
func (NopObserver) Progressed(Progress)                           {}
func (NopObserver) Produced(models.GenerationRecord, []graph.Edge) {}
func (NopObserver) Status(string)                                 {}

// Result summarizes a finished session.
type Result struct {
	SessionID  string
	State      State
	TotalSteps int
	Outputs    []models.GenerationRecord
	Edges      []graph.Edge
	// Alert is set when the session ended without output and without being
	// canceled. It is reported to the user, not returned as an error.
	Alert           error
	CancelRequested bool
}

// Controller drives one generation request at a time against a backend and
// feeds produced images into a provenance graph.
type Controller struct {
	backend  provider.Backend
	graph    *graph.Builder
	store    *Store
	samplers *models.SamplerRegistry
	observer Observer
	log      *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	active   bool
	state    State
	progress Progress

	cancelRequested atomic.Bool
}

type ControllerOption func(*Controller)

func WithStore(s *Store) ControllerOption {
	return func(c *Controller) { c.store = s }
}

func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithControllerLogger(l *logging.Logger) ControllerOption {
	return func(c *Controller) {
		if l != nil {
			c.log = l
		}
	}
}

// NewController builds a controller. g is the graph produced images are added
// to; it is owned by the caller and may be shared across sessions.
func NewController(backend provider.Backend, g *graph.Builder, opts ...ControllerOption) *Controller {
	c := &Controller{
		backend:  backend,
		graph:    g,
		samplers: models.DefaultSamplers(),
		observer: NopObserver{},
		log:      logging.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.graph == nil {
		c.graph = graph.New(graph.WithLogger(c.log))
	}
	return c
}

func (c *Controller) Graph() *graph.Builder {
	return c.graph
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Submit runs one generation request to completion. It blocks until the
// backend ends the event stream.
//
// A framing error fails the session and is returned. A transport error is
// returned wrapped in ErrTransport and leaves the controller idle. A stream
// that ends without output and without a cancel event yields StateFailed with
// Result.Alert set and a nil error.
func (c *Controller) Submit(ctx context.Context, req *models.Request) (*Result, error) {
	if err := req.Validate(c.samplers); err != nil {
		return nil, err
	}
	if !c.begin() {
		return nil, ErrSessionActive
	}
	defer c.end()

	res := &Result{
		SessionID:  uuid.NewString(),
		TotalSteps: req.TotalSteps(),
	}
	log := c.log.With("session", res.SessionID)
	row := &SessionRow{
		ID:         res.SessionID,
		Prompt:     req.Prompt,
		State:      StateSubmitted,
		TotalSteps: res.TotalSteps,
		StartedAt:  c.now(),
	}
	c.recordStart(ctx, row, log)

	c.setProgress(Progress{Total: res.TotalSteps})
	c.transition(res, StateSubmitted)

	body, err := c.backend.Submit(ctx, req)
	if err != nil {
		log.Error("submit failed", "error", err)
		c.transition(res, StateIdle)
		err = fmt.Errorf("%w: %w", ErrTransport, err)
		c.recordFinish(row, res, err, log)
		return res, err
	}
	defer body.Close()

	c.transition(res, StateStreaming)
	err = c.consume(ctx, stream.NewReader(body), res, row, log)
	c.recordFinish(row, res, err, log)
	return res, err
}

func (c *Controller) consume(ctx context.Context, r *stream.Reader, res *Result, row *SessionRow, log *logging.Logger) error {
	canceled := false
	notice := func() {
		if !res.CancelRequested && c.cancelRequested.Load() {
			res.CancelRequested = true
			log.Info("cancel requested, waiting for the server to end the stream")
		}
	}

	for ev, err := range r.Events(ctx) {
		notice()
		if err != nil {
			var fe *stream.FramingError
			if errors.As(err, &fe) {
				log.Error("event stream desynchronized", "line", fe.Line, "error", fe.Err)
				c.transition(res, StateFailed)
				return err
			}
			log.Error("event stream read failed", "error", err)
			c.transition(res, StateIdle)
			return fmt.Errorf("%w: %w", ErrTransport, err)
		}

		if c.dispatch(ctx, ev, res, row.ID, log) {
			canceled = true
		}
	}
	notice()

	switch {
	case canceled:
		c.transition(res, StateCanceled)
	case len(res.Outputs) == 0:
		res.Alert = ErrNoOutput
		log.Warn("stream ended without output")
		c.transition(res, StateFailed)
	default:
		c.transition(res, StateCompleted)
	}
	return nil
}

// dispatch applies one event and reports whether it was a cancel event.
func (c *Controller) dispatch(ctx context.Context, ev stream.Event, res *Result, sessionID string, log *logging.Logger) bool {
	switch e := ev.(type) {
	case stream.ResultEvent:
		rec := models.NewRecord(e.Output)
		res.Outputs = append(res.Outputs, rec)

		if c.store != nil {
			if _, err := c.store.SaveRecord(ctx, rec, sessionID); err != nil {
				log.Warn("failed to store record", "url", rec.URL, "error", err)
			}
		}

		_, edges, err := c.graph.AddStreamed(rec)
		if err != nil {
			log.Warn("result not added to graph", "url", rec.URL, "error", err)
		}
		res.Edges = append(res.Edges, edges...)
		log.Debug("result", "url", rec.URL, "seed", rec.Seed, "edges", len(edges))
		c.observer.Produced(rec, edges)
		c.setProgress(Progress{Total: res.TotalSteps})

	case stream.StepEvent:
		p := c.Progress()
		p.Step = e.Step
		if e.URL != "" {
			p.PreviewURL = e.URL
		}
		c.setProgress(p)

	case stream.UpscalingStartedEvent:
		c.observer.Status(fmt.Sprintf("upscaling %d image(s)", e.ProcessedFileCount))

	case stream.UpscalingDoneEvent:
		c.observer.Status("upscaling done")

	case stream.CanceledEvent:
		log.Info("server canceled generation")
		return true

	default:
		log.Error("unhandled event kind", "kind", ev.Kind())
	}
	return false
}

// Cancel asks the backend to stop the running job. It does not touch the
// local stream; the server ends it and Submit settles the final state.
// Failure to reach the backend is logged and otherwise ignored.
func (c *Controller) Cancel(ctx context.Context) {
	c.cancelRequested.Store(true)
	if err := c.backend.Cancel(ctx); err != nil {
		c.log.Warn("cancel request failed", "error", err)
	}
}

func (c *Controller) begin() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		return false
	}
	c.active = true
	c.cancelRequested.Store(false)
	return true
}

func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = false
}

func (c *Controller) transition(res *Result, s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	res.State = s
	c.observer.StateChanged(res.SessionID, s)
}

func (c *Controller) setProgress(p Progress) {
	c.mu.Lock()
	c.progress = p
	c.mu.Unlock()
	c.observer.Progressed(p)
}

func (c *Controller) recordStart(ctx context.Context, row *SessionRow, log *logging.Logger) {
	if c.store == nil {
		return
	}
	if err := c.store.CreateSession(ctx, row); err != nil {
		log.Warn("failed to log session", "error", err)
	}
}

func (c *Controller) recordFinish(row *SessionRow, res *Result, err error, log *logging.Logger) {
	res.CancelRequested = res.CancelRequested || c.cancelRequested.Load()
	if c.store == nil {
		return
	}
	row.State = res.State
	row.OutputCount = len(res.Outputs)
	row.FinishedAt = c.now()
	switch {
	case err != nil:
		row.Error = err.Error()
	case res.Alert != nil:
		row.Error = res.Alert.Error()
	}
	if err := c.store.FinishSession(context.Background(), row); err != nil {
		log.Warn("failed to log session", "error", err)
	}
}
