// Package agent drives the generate → validate → execute pipeline. A Loop
// owns one worker goroutine per session so turns within a session run
// strictly in arrival order, while independent sessions proceed in parallel.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cexll/linguahome-go/pkg/catalog"
	"github.com/cexll/linguahome-go/pkg/event"
	"github.com/cexll/linguahome-go/pkg/memory"
	"github.com/cexll/linguahome-go/pkg/model"
	"github.com/cexll/linguahome-go/pkg/prompt"
	"github.com/cexll/linguahome-go/pkg/sandbox"
)

// DefaultRetries is how many regeneration rounds follow a rejected snippet
// before the turn gives up (total attempts = retries + 1).
const DefaultRetries = 2

// ErrClosed is returned by Submit after the loop has shut down.
var ErrClosed = errors.New("agent: loop closed")

// Request is one user utterance bound to a session.
type Request struct {
	SessionID string
	Utterance string
}

// Reply is the terminal record handed back to the caller.
type Reply struct {
	TurnID   string
	Response string
	Outcome  sandbox.Outcome
	Script   string
	Stdout   string
	Attempts int
}

// Config wires the collaborators of a Loop. Model, Catalog, Prompts,
// Validator, Executor, and Memory are required; the rest default.
type Config struct {
	Model     model.Model
	Catalog   *catalog.Catalog
	Prompts   *prompt.Builder
	Validator *sandbox.Validator
	Executor  *sandbox.Executor
	Memory    memory.Store
	Logger    *zap.Logger
	Bus       *event.EventBus
	Retries   int
}

func (c Config) validate() error {
	switch {
	case c.Model == nil:
		return errors.New("agent: config missing model")
	case c.Catalog == nil:
		return errors.New("agent: config missing catalog")
	case c.Prompts == nil:
		return errors.New("agent: config missing prompt builder")
	case c.Validator == nil:
		return errors.New("agent: config missing validator")
	case c.Executor == nil:
		return errors.New("agent: config missing executor")
	case c.Memory == nil:
		return errors.New("agent: config missing memory store")
	}
	return nil
}

// Loop is the long-lived pipeline host.
type Loop struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	workers map[string]*sessionWorker
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewLoop validates the config and returns a ready loop.
func NewLoop(cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Loop{
		cfg:     cfg,
		logger:  cfg.Logger,
		workers: make(map[string]*sessionWorker),
		stop:    make(chan struct{}),
	}, nil
}

// Submit runs one turn to its terminal outcome. Turns for the same session
// queue behind each other in arrival order; Submit returns when this turn
// finishes or ctx is cancelled. A cancelled turn writes no memory.
func (l *Loop) Submit(ctx context.Context, req Request) (Reply, error) {
	return l.submit(ctx, req, nil)
}

// SubmitStream runs one turn and emits pipeline events to the returned
// channel, which is closed when the turn reaches a terminal state.
func (l *Loop) SubmitStream(ctx context.Context, req Request) (<-chan event.Event, error) {
	if err := l.checkOpen(); err != nil {
		return nil, err
	}
	events := make(chan event.Event, 16)
	go func() {
		defer close(events)
		emit := func(evt event.Event) {
			select {
			case events <- evt:
			case <-ctx.Done():
			}
		}
		if _, err := l.submit(ctx, req, emit); err != nil && !errors.Is(err, context.Canceled) {
			emit(event.NewEvent(event.EventError, req.SessionID, event.ErrorData{Message: err.Error()}))
		}
	}()
	return events, nil
}

func (l *Loop) submit(ctx context.Context, req Request, emit func(event.Event)) (Reply, error) {
	if req.SessionID == "" {
		return Reply{}, errors.New("agent: session id required")
	}
	if req.Utterance == "" {
		return Reply{}, errors.New("agent: utterance required")
	}

	worker, err := l.workerFor(req.SessionID)
	if err != nil {
		return Reply{}, err
	}

	job := &job{
		ctx:     ctx,
		req:     req,
		emit:    emit,
		replyCh: make(chan replyOrErr, 1),
	}
	select {
	case worker.queue <- job:
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	case <-worker.done:
		return Reply{}, ErrClosed
	}

	select {
	case out := <-job.replyCh:
		return out.reply, out.err
	case <-ctx.Done():
		// The worker still drains the job; it observes the dead context
		// and aborts without touching memory.
		return Reply{}, ctx.Err()
	case <-worker.done:
		// The worker exited; a job it processed has its reply buffered.
		select {
		case out := <-job.replyCh:
			return out.reply, out.err
		default:
			return Reply{}, ErrClosed
		}
	}
}

func (l *Loop) checkOpen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	return nil
}

func (l *Loop) workerFor(sessionID string) (*sessionWorker, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}
	if w, ok := l.workers[sessionID]; ok {
		return w, nil
	}
	w := &sessionWorker{
		queue: make(chan *job, 32),
		done:  make(chan struct{}),
	}
	l.workers[sessionID] = w
	l.wg.Add(1)
	go l.runWorker(sessionID, w)
	return w, nil
}

// Close stops accepting work, lets queued turns drain, and waits for every
// session worker to exit. Queue channels are never closed: a Submit racing
// Close may still be sending on them, so workers exit on the stop signal
// instead.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	close(l.stop)
	l.mu.Unlock()
	l.wg.Wait()
}

type replyOrErr struct {
	reply Reply
	err   error
}

type job struct {
	ctx     context.Context
	req     Request
	emit    func(event.Event)
	replyCh chan replyOrErr
}

type sessionWorker struct {
	queue chan *job
	done  chan struct{}
}

func (l *Loop) runWorker(sessionID string, w *sessionWorker) {
	defer l.wg.Done()
	defer close(w.done)
	for {
		select {
		case job := <-w.queue:
			l.process(sessionID, job)
		case <-l.stop:
			// Drain whatever was queued before the stop, then exit.
			for {
				select {
				case job := <-w.queue:
					l.process(sessionID, job)
				default:
					return
				}
			}
		}
	}
}

func (l *Loop) process(sessionID string, job *job) {
	if err := job.ctx.Err(); err != nil {
		job.replyCh <- replyOrErr{err: err}
		return
	}
	reply, err := l.runTurn(job.ctx, job.req, job.emit)
	if err != nil {
		l.logger.Warn("turn aborted",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
	job.replyCh <- replyOrErr{reply: reply, err: err}
}

// emitAll fans an event out to the per-request stream and the shared bus.
func (l *Loop) emitAll(emit func(event.Event), evt event.Event) {
	if emit != nil {
		emit(evt)
	}
	if l.cfg.Bus != nil {
		if err := l.cfg.Bus.Emit(evt); err != nil && !errors.Is(err, event.ErrBusSealed) {
			l.logger.Debug("bus emit failed", zap.Error(err))
		}
	}
}

func newTurnID() string {
	return uuid.NewString()
}

func turnEvent(typ event.EventType, req Request, turnID string, data any) event.Event {
	evt := event.NewEvent(typ, req.SessionID, data)
	evt.TurnID = turnID
	return evt
}

func attemptsLabel(n int) string {
	if n == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", n)
}
