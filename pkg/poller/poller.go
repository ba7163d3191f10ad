package poller

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Fetcher fetches one status snapshot for a job.
//
// Any error is treated as a transport failure. Fetcher implementations must
// not retry; retry policy belongs to the Poller.
type Fetcher interface {
	JobStatus(ctx context.Context, jobID string) (*Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, jobID string) (*Snapshot, error)

// JobStatus implements Fetcher.
func (f FetcherFunc) JobStatus(ctx context.Context, jobID string) (*Snapshot, error) {
	return f(ctx, jobID)
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock driving the loop. Default: RealClock().
func WithClock(c Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithNotifier sets the receiver of user-visible notifications.
func WithNotifier(n Notifier) Option {
	return func(p *Poller) {
		p.notifier = n
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// Poller owns at most one polling loop for one job at a time.
//
// The first fetch happens immediately on Start/Retry; later fetches happen on
// each tick. At most one fetch is in flight at a time, including across a
// Retry or Start: a re-armed loop waits for the previous fetch to return
// before issuing its own. Ticks that fire while a fetch is in flight only
// check the deadline, so a hung fetch cannot outlive MaxDuration. Dispose
// cancels the loop synchronously; a fetch already in flight is not aborted
// but its result is discarded.
type Poller struct {
	fetcher  Fetcher
	cfg      Config
	clock    Clock
	notifier Notifier
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	parent   context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	inflight chan struct{}
	subs     map[int]func(State)
	nextSub  int
}

// New creates a Poller. Zero fields in cfg take DefaultConfig values.
func New(f Fetcher, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		fetcher: f,
		cfg:     cfg.withDefaults(),
		clock:   RealClock(),
		logger:  zap.NewNop(),
		state:   State{Phase: PhaseIdle, Status: StatusPending},
		subs:    make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective configuration.
func (p *Poller) Config() Config {
	return p.cfg
}

// Start begins polling jobID, replacing any loop for a previous job.
//
// ctx bounds the fetches; cancelling it has the same effect as Dispose.
// An empty jobID leaves the poller idle.
func (p *Poller) Start(ctx context.Context, jobID string) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	p.stopLocked()
	p.parent = ctx
	next, effects := Transition(p.cfg, p.state, Started{JobID: jobID, At: p.clock.Now()})
	p.state = next
	loop := p.launchLocked()
	st := p.state
	p.mu.Unlock()

	p.apply(effects, st)
	p.publish(st)
	loop()
}

// Retry re-arms polling for the current job after a terminal transition.
//
// It resets progress, result, error, StartedAt and the error counter. It
// returns false (and does nothing) when there is no job id.
func (p *Poller) Retry() bool {
	p.mu.Lock()
	if p.state.JobID == "" {
		p.mu.Unlock()
		return false
	}
	p.stopLocked()
	next, effects := Transition(p.cfg, p.state, RetryRequested{At: p.clock.Now()})
	p.state = next
	loop := p.launchLocked()
	st := p.state
	p.mu.Unlock()

	p.logger.Debug("Retrying job polling", zap.String("job_id", st.JobID))
	p.apply(effects, st)
	p.publish(st)
	loop()
	return true
}

// Dispose stops polling. No further fetches are issued and any in-flight
// result is discarded.
func (p *Poller) Dispose() {
	p.mu.Lock()
	p.stopLocked()
	next, _ := Transition(p.cfg, p.state, Disposed{})
	p.state = next
	st := p.state
	p.mu.Unlock()

	p.publish(st)
}

// State returns a copy of the current state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done returns a channel closed when the current loop exits. If no loop is
// running the channel is already closed.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Wait blocks until the current loop exits or ctx is done, and returns the
// final state together with State.Err().
func (p *Poller) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.Done():
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
	st := p.State()
	return st, st.Err()
}

// Subscribe registers fn to receive every state change. Callbacks run on
// the goroutine that caused the change and must not block. The returned
// function removes the subscription.
func (p *Poller) Subscribe(fn func(State)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.subs, id)
		p.mu.Unlock()
	}
}

// stopLocked cancels the running loop and invalidates in-flight fetches.
func (p *Poller) stopLocked() {
	p.gen++
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// launchLocked prepares a loop for the current state and returns a function
// that starts it. The returned function is a no-op when not polling.
func (p *Poller) launchLocked() func() {
	if p.state.Phase != PhasePolling || !p.state.Active {
		return func() {}
	}

	loopCtx, cancel := context.WithCancel(p.parent)
	done := make(chan struct{})
	p.cancel = cancel
	p.done = done
	l := &loop{
		ctx:      loopCtx,
		cancel:   cancel,
		fetchCtx: p.parent,
		gen:      p.gen,
		jobID:    p.state.JobID,
		ticker:   p.clock.NewTicker(p.cfg.Interval),
		prev:     p.inflight,
		results:  make(chan Event, 1),
		done:     done,
	}

	return func() {
		go p.run(l)
	}
}

// loop is the per-generation state of one polling goroutine.
type loop struct {
	ctx      context.Context
	cancel   context.CancelFunc
	fetchCtx context.Context
	gen      uint64
	jobID    string
	ticker   Ticker
	prev     <-chan struct{}
	results  chan Event
	busy     bool
	done     chan struct{}
}

func (p *Poller) run(l *loop) {
	defer close(l.done)
	defer l.cancel()
	defer l.ticker.Stop()

	if l.prev != nil {
		select {
		case <-l.prev:
		case <-l.ctx.Done():
			p.onParentDone(l.gen)
			return
		}
	}

	p.logger.Debug("Polling started", zap.String("job_id", l.jobID))

	if !p.tick(l) {
		return
	}
	for {
		select {
		case <-l.ctx.Done():
			p.onParentDone(l.gen)
			return
		case ev := <-l.results:
			l.busy = false
			if !p.complete(l, ev) {
				return
			}
		case <-l.ticker.C():
			if !p.tick(l) {
				return
			}
		}
	}
}

// tick runs one scheduler tick and reports whether the loop should continue.
// A fetch requested by the tick runs on its own goroutine and reports back
// on l.results.
func (p *Poller) tick(l *loop) bool {
	if l.ctx.Err() != nil {
		p.onParentDone(l.gen)
		return false
	}

	p.mu.Lock()
	if l.gen != p.gen {
		p.mu.Unlock()
		return false
	}
	next, effects := Transition(p.cfg, p.state, Tick{At: p.clock.Now(), Busy: l.busy})
	p.state = next
	st := p.state
	var flight chan struct{}
	for _, eff := range effects {
		if _, ok := eff.(FetchEffect); ok {
			flight = make(chan struct{})
			p.inflight = flight
		}
	}
	p.mu.Unlock()

	if !p.apply(effects, st) {
		p.publish(st)
		return false
	}
	if flight != nil {
		l.busy = true
		go p.fetch(l, st.JobID, flight)
	}
	return true
}

// fetch performs one status request and delivers the outcome, stamped with
// the time it returned.
func (p *Poller) fetch(l *loop, jobID string, flight chan struct{}) {
	defer close(flight)

	snap, err := p.fetcher.JobStatus(l.fetchCtx, jobID)
	now := p.clock.Now()

	var ev Event
	switch {
	case err != nil:
		p.logger.Debug("Job status fetch failed",
			zap.String("job_id", jobID),
			zap.Error(err))
		ev = FetchFailed{Err: err, At: now}
	case snap == nil:
		ev = FetchFailed{Err: errNilSnapshot, At: now}
	default:
		ev = FetchSucceeded{Snapshot: *snap, At: now}
	}
	l.results <- ev
}

// complete applies a fetch outcome and reports whether the loop should
// continue.
func (p *Poller) complete(l *loop, ev Event) bool {
	if l.ctx.Err() != nil {
		p.onParentDone(l.gen)
		return false
	}

	p.mu.Lock()
	if l.gen != p.gen {
		// Disposed, retried or restarted while the fetch was in flight.
		p.mu.Unlock()
		p.logger.Debug("Discarding stale job status", zap.String("job_id", l.jobID))
		return false
	}
	next, effects := Transition(p.cfg, p.state, ev)
	p.state = next
	st := p.state
	p.mu.Unlock()

	cont := p.apply(effects, st)
	p.publish(st)
	return cont
}

// onParentDone marks the state inactive when the caller's context ends the
// loop without an explicit Dispose.
func (p *Poller) onParentDone(gen uint64) {
	p.mu.Lock()
	if gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.gen++
	p.cancel = nil
	next, _ := Transition(p.cfg, p.state, Disposed{})
	p.state = next
	st := p.state
	p.mu.Unlock()

	p.publish(st)
}

// apply performs notification effects and reports whether the loop should
// keep running.
func (p *Poller) apply(effects []Effect, st State) bool {
	cont := true
	for _, eff := range effects {
		switch e := eff.(type) {
		case StopEffect:
			cont = false
		case NotifyEffect:
			p.logger.Debug("Polling halted",
				zap.String("job_id", st.JobID),
				zap.String("kind", string(e.Notification.Kind)),
				zap.String("phase", string(st.Phase)))
			if p.notifier != nil {
				p.notifier.Notify(e.Notification)
			}
		}
	}
	return cont
}

func (p *Poller) publish(st State) {
	p.mu.Lock()
	subs := make([]func(State), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}
