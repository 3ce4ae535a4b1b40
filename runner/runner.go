package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/meshflow/agent"
	"github.com/hupe1980/meshflow/core"
	"github.com/hupe1980/meshflow/guardrail"
	"github.com/hupe1980/meshflow/logging"
	"github.com/hupe1980/meshflow/session"
)

// Author is the author of the events the runner itself emits.
const Author = "runner"

var (
	// ErrRunNotFound is returned by Cancel for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")

	errStopped = errors.New("consumer stopped iteration")
)

var _ core.Runner = (*Runner)(nil)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// MaxConcurrentRuns bounds the number of runs executing at once (0 = unbounded).
	MaxConcurrentRuns int
	// EventBufferSize sets channel buffering for Run.
	EventBufferSize int
	// MaxModelCalls limits the number of model calls per run (0 = unlimited).
	MaxModelCalls int
	// SessionStore persists sessions and their history.
	SessionStore core.SessionStore
	// Guardrails wrap the root node when non-empty.
	Guardrails *guardrail.Chain
	// Observer receives execution notifications.
	Observer core.Observer
	// Logger receives structured run logs.
	Logger logging.Logger
}

// Runner coordinates runs of one root node. Public methods are safe for
// concurrent use.
type Runner struct {
	root core.Agent

	eventBufferSize int
	maxModelCalls   int
	sem             *semaphore.Weighted

	store    core.SessionStore
	observer core.Observer
	logger   logging.Logger

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner with optional overrides.
func New(root core.Agent, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 0,
		EventBufferSize:   100,
		MaxModelCalls:     100,
		SessionStore:      session.NewInMemoryStore(),
		Observer:          core.NoOpObserver{},
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Guardrails.Len() > 0 {
		root = agent.Guard(root, opts.Guardrails)
	}

	r := &Runner{
		root:            root,
		eventBufferSize: opts.EventBufferSize,
		maxModelCalls:   opts.MaxModelCalls,
		store:           opts.SessionStore,
		observer:        opts.Observer,
		logger:          opts.Logger,
		activeRuns:      make(map[string]context.CancelFunc),
	}

	if opts.MaxConcurrentRuns > 0 {
		r.sem = semaphore.NewWeighted(int64(opts.MaxConcurrentRuns))
	}

	return r
}

// Root returns the node the runner drives.
func (r *Runner) Root() core.Agent { return r.root }

// SessionStore returns the backing store.
func (r *Runner) SessionStore() core.SessionStore { return r.store }

// Events runs the tree in the caller's goroutine and yields every committed
// event in commit order, ending with the Final event. A failed run yields
// its Final event together with the error. Breaking out of the loop cancels
// the run.
func (r *Runner) Events(ctx context.Context, sessionID string, content core.Content) iter.Seq2[core.Event, error] {
	return func(yield func(core.Event, error) bool) {
		runID := core.NewID()
		stopped := false

		deliver := func(ev core.Event) error {
			if stopped {
				return errStopped
			}
			if !yield(ev, nil) {
				stopped = true
				return errStopped
			}
			return nil
		}

		final, err := r.execute(ctx, runID, sessionID, content, deliver)
		if stopped {
			return
		}

		if err != nil {
			if final.ID == "" {
				yield(core.Event{}, err)
				return
			}
			yield(final, err)
		}
	}
}

// Run starts an asynchronous run. Events are delivered in commit order on
// the returned channel, which is closed when the run ends; callers must
// drain it. The error channel carries at most one terminal error and is
// closed afterwards. The immediate error covers startup failures such as an
// unknown session.
func (r *Runner) Run(ctx context.Context, sessionID string, content core.Content) (string, <-chan core.Event, <-chan error, error) {
	if _, err := r.store.Get(ctx, sessionID); err != nil {
		return "", nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	runID := core.NewID()

	eventsCh := make(chan core.Event, r.eventBufferSize)
	errorsCh := make(chan error, 1)

	ctx, cancel := context.WithCancel(ctx)
	r.register(runID, cancel)

	go func() {
		defer func() {
			cancel()
			close(eventsCh)
			close(errorsCh)
		}()

		deliver := func(ev core.Event) error {
			eventsCh <- ev
			return nil
		}

		final, err := r.execute(ctx, runID, sessionID, content, deliver)
		if err != nil {
			if final.ID != "" {
				eventsCh <- final
			}
			errorsCh <- err
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// RunSync runs the tree to completion and returns every committed event.
func (r *Runner) RunSync(ctx context.Context, sessionID string, content core.Content) ([]core.Event, error) {
	_, eventsCh, errorsCh, err := r.Run(ctx, sessionID, content)
	if err != nil {
		return nil, err
	}

	var events []core.Event
	for ev := range eventsCh {
		events = append(events, ev)
	}

	return events, <-errorsCh
}

// Cancel cancels a running run by ID.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	cancel()

	return nil
}

func (r *Runner) register(runID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activeRuns[runID] = cancel
}

func (r *Runner) unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.activeRuns, runID)
}

// execute runs the tree. On success the Final event has already been
// delivered; on failure it is returned undelivered with the error so each
// surface can pair them.
func (r *Runner) execute(
	ctx context.Context,
	runID, sessionID string,
	content core.Content,
	deliver func(core.Event) error,
) (core.Event, error) {
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.register(runID, cancel)
	defer r.unregister(runID)

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return core.Event{}, err
		}
		defer r.sem.Release(1)
	}

	sess, err := r.store.Get(ctx, sessionID)
	if err != nil {
		return core.Event{}, fmt.Errorf("failed to get session: %w", err)
	}

	sink := &storeSink{store: r.store, session: sess, deliver: deliver, cancel: cancel}

	rc := core.NewRunContext(ctx, runID, sess, content, sink, r.logger)
	rc.Limiter = core.NewModelLimiter(r.maxModelCalls)
	rc.Observer = r.observer

	rc.LogInfo("run.start", "session_id", sessionID, "root", r.root.Name())

	if err = rc.EmitEvent(core.NewUserContentEvent(runID, &content)); err != nil {
		return core.Event{}, fmt.Errorf("failed to append user event: %w", err)
	}

	terminal, err := r.root.Run(rc)
	if err != nil {
		return r.fail(rc, sink, start, err)
	}

	final := core.NewEvent(runID, Author)
	final.Final = true
	final.Status = terminal.Status
	final.SetMetadata("terminal_event", terminal.ID)
	final.SetMetadata("terminal_author", terminal.Author)

	if text := terminal.Text(); text != "" {
		final.Content = core.NewTextContent("system", text)
	}

	if terminal.ErrorCode != nil {
		final.SetError(*terminal.ErrorCode, derefString(terminal.ErrorMessage))
	}

	if err = rc.ForwardEvent(context.WithoutCancel(ctx), final); err != nil {
		return core.Event{}, err
	}

	elapsed := time.Since(start)
	r.observer.RunFinished(final.Status, elapsed)
	rc.LogInfo("run.finish", "session_id", sessionID, "status", final.Status, "elapsed", elapsed)

	return final, nil
}

// fail commits the failure event and returns it undelivered with err.
func (r *Runner) fail(rc *core.RunContext, sink *storeSink, start time.Time, err error) (core.Event, error) {
	if errors.Is(err, errStopped) {
		err = context.Canceled
	}

	code := core.ErrorCode(err)

	final := core.NewEvent(rc.RunID, Author)
	final.Final = true
	final.Status = core.StatusFailed
	final.SetError(code, err.Error())
	final.Content = &core.Content{
		Role: "system",
		Parts: []core.Part{
			core.TextPart{Text: fmt.Sprintf("Run failed (%s): %v", code, err)},
			core.DataPart{Data: snapshot(rc.Session)},
		},
	}

	sink.silence()

	if cerr := rc.ForwardEvent(context.WithoutCancel(rc.Context), final); cerr != nil {
		rc.LogError("run.final_commit_failed", "error", cerr)
	}

	elapsed := time.Since(start)
	r.observer.RunFinished(core.StatusFailed, elapsed)
	rc.LogError("run.failed", "session_id", rc.SessionID, "code", code, "error", err)

	return final, err
}

func snapshot(sess *core.Session) map[string]any {
	snap := sess.Snapshot()

	data := make(map[string]any, len(core.Scopes))
	for _, scope := range core.Scopes {
		data[string(scope)] = snap[scope]
	}

	return data
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// storeSink is the root commit path: store first, then the working session,
// then the consumer.
type storeSink struct {
	store   core.SessionStore
	session *core.Session
	deliver func(core.Event) error
	cancel  context.CancelFunc

	mu     sync.Mutex
	silent bool
}

func (s *storeSink) Commit(ctx context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ev.IsPartial() {
		if err := s.store.AppendEvent(ctx, s.session.ID, core.PersistableEvent(ev)); err != nil {
			return fmt.Errorf("failed to append event to session: %w", err)
		}

		s.session.ApplyEvent(ev)
	}

	if s.silent {
		return nil
	}

	if err := s.deliver(ev); err != nil {
		s.cancel()
		return err
	}

	return nil
}

// silence stops delivery; the failure event is handed to the surface
// together with the error instead.
func (s *storeSink) silence() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.silent = true
}
