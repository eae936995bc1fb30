package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/kiryu-dev/worldhost/internal/config"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const eventQueueBufSize = 16

type envelope struct {
	sender string
	event  domain.HostEvent
	result chan error
}

// useCase is the only writer of the host state. Every transition happens
// inside Serve; everybody else reads immutable snapshots.
type useCase struct {
	prober domain.Prober
	sink   domain.EventSink
	cfg    config.MonitorConfig
	events chan envelope
	state  *atomic.Pointer[domain.HostState]
	gate   *sync.Mutex
	logger *zap.Logger
}

func New(prober domain.Prober, sink domain.EventSink, cfg config.MonitorConfig, logger *zap.Logger) *useCase {
	state := atomic.NewPointer(&domain.HostState{Phase: domain.NoHost})
	setPhaseMetric(domain.NoHost)
	return &useCase{
		prober: prober,
		sink:   sink,
		cfg:    cfg,
		events: make(chan envelope, eventQueueBufSize),
		state:  state,
		gate:   &sync.Mutex{},
		logger: logger,
	}
}

func (u *useCase) State() domain.HostState {
	return *u.state.Load()
}

// Submit feeds an event to the state machine and waits until it has been
// handled, so every resulting broadcast is published before Submit returns.
// Lifecycle reports are only accepted from the user recorded as host.
func (u *useCase) Submit(ctx context.Context, sender string, event domain.HostEvent) error {
	if err := check(u.State(), sender, event); err != nil {
		return err
	}
	env := envelope{
		sender: sender,
		event:  event,
		result: make(chan error, 1),
	}
	select {
	case u.events <- env:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-env.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (u *useCase) WithNoHost(fn func() error) error {
	u.gate.Lock()
	defer u.gate.Unlock()
	if phase := u.State().Phase; phase != domain.NoHost {
		return errors.WithMessagef(domain.ErrSaveInUse, "host is %s", phase)
	}
	return fn()
}

// Serve runs the state machine until ctx is done. The state lives outside the
// goroutine, so a restarted Serve resumes where the previous one stopped.
func (u *useCase) Serve(ctx context.Context) error {
	u.logger.Info("host monitor started", zap.String("phase", string(u.State().Phase)))
	for {
		state := u.State()
		switch state.Phase {
		case domain.NoHost:
			u.noHost(ctx)
		case domain.Loading:
			u.loading(ctx, state)
		case domain.Up:
			u.up(ctx, state)
		case domain.Unreachable:
			u.unreachable(ctx, state)
		case domain.ShuttingDown:
			u.shuttingDown(ctx, state)
		default:
			panic("unknown host phase " + string(state.Phase))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func check(state domain.HostState, sender string, event domain.HostEvent) error {
	if event.Type == domain.RequestToHostEvent {
		if state.Phase != domain.NoHost {
			return domain.ErrHostTaken
		}
		if event.Details == nil {
			return errors.WithMessage(domain.ErrUnexpectedEvent, "request to host without details")
		}
		return nil
	}
	if !state.IsHost(sender) {
		return errors.WithMessage(domain.ErrUnauthorized, "sender is not the current host")
	}
	return nil
}

func (u *useCase) reject(env envelope, state domain.HostState, err error) {
	if err == nil {
		err = errors.WithMessagef(domain.ErrUnexpectedEvent, "'%s' while %s", env.event.Type, state.Phase)
	}
	metricRejectedEvents.WithLabelValues(string(env.event.Type)).Inc()
	u.logger.Warn("dropped host event", zap.String("event", string(env.event.Type)),
		zap.String("phase", string(state.Phase)), zap.Error(err))
	env.result <- err
}

func (u *useCase) transition(next domain.HostState, broadcast domain.BroadcastEvent) domain.HostState {
	prev := u.State()
	next.Version = prev.Version + 1
	if next.Phase == domain.NoHost {
		next.Details = nil
		next.Owner = ""
	}
	u.state.Store(&next)
	if prev.Phase != next.Phase {
		setPhaseMetric(next.Phase)
		metricTransitions.WithLabelValues(string(next.Phase)).Inc()
		fields := []zap.Field{zap.String("from", string(prev.Phase)), zap.String("to", string(next.Phase))}
		if next.Details != nil {
			fields = append(fields, zap.String("host", next.Details.Addr()))
		}
		u.logger.Info("host state changed", fields...)
	}
	u.sink.Publish(broadcast)
	return next
}

func (u *useCase) noHost(ctx context.Context) {
	for {
		select {
		case env := <-u.events:
			state := u.State()
			if err := check(state, env.sender, env.event); err != nil {
				u.reject(env, state, err)
				continue
			}
			if env.event.Type != domain.RequestToHostEvent {
				u.reject(env, state, nil)
				continue
			}
			details := *env.event.Details
			u.startHosting(env.sender, details)
			env.result <- nil
			return
		case <-ctx.Done():
			return
		}
	}
}

func (u *useCase) startHosting(owner string, details domain.HostDetails) {
	u.gate.Lock()
	defer u.gate.Unlock()
	u.transition(domain.HostState{
		Phase:   domain.Loading,
		Details: &details,
		Owner:   owner,
	}, domain.BroadcastEvent{Type: domain.NewHost, Host: &details})
}

func (u *useCase) loading(ctx context.Context, state domain.HostState) {
	timer := time.NewTimer(u.cfg.LoadingTimeout)
	defer timer.Stop()
	for {
		select {
		case env := <-u.events:
			if err := check(state, env.sender, env.event); err != nil {
				u.reject(env, state, err)
				continue
			}
			switch env.event.Type {
			case domain.LoadingEvent:
				progress := min(env.event.Progress, 100)
				next := state
				next.Progress = progress
				state = u.transition(next, domain.BroadcastEvent{Type: domain.HostLoading, Progress: progress})
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(u.cfg.LoadingTimeout)
				env.result <- nil
			case domain.LoadedEvent:
				u.transition(domain.HostState{
					Phase:   domain.Up,
					Details: state.Details,
					Owner:   state.Owner,
				}, domain.BroadcastEvent{Type: domain.HostLoaded})
				env.result <- nil
				return
			default:
				u.reject(env, state, nil)
			}
		case <-timer.C:
			u.logger.Warn("host did not finish loading in time", zap.Duration("timeout", u.cfg.LoadingTimeout))
			u.transition(domain.HostState{Phase: domain.NoHost}, domain.BroadcastEvent{Type: domain.HostCanceled})
			return
		case <-ctx.Done():
			return
		}
	}
}

// up races the reachability prober against a ShuttingDown report. Whichever
// comes first decides the next state; the prober is stopped before returning.
func (u *useCase) up(ctx context.Context, state domain.HostState) {
	probeCtx, cancel := context.WithCancel(ctx)
	failed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if u.probeUntil(probeCtx, *state.Details, false) {
			close(failed)
		}
	}()
	defer func() {
		cancel()
		<-done
	}()
	for {
		select {
		case <-failed:
			u.transition(domain.HostState{
				Phase:   domain.Unreachable,
				Details: state.Details,
				Owner:   state.Owner,
			}, domain.BroadcastEvent{Type: domain.HostUnreachable})
			return
		case env := <-u.events:
			if err := check(state, env.sender, env.event); err != nil {
				u.reject(env, state, err)
				continue
			}
			if env.event.Type != domain.ShuttingDownEvent {
				u.reject(env, state, nil)
				continue
			}
			u.transition(domain.HostState{
				Phase:   domain.ShuttingDown,
				Details: state.Details,
				Owner:   state.Owner,
			}, domain.BroadcastEvent{Type: domain.HostShuttingDown})
			env.result <- nil
			return
		case <-ctx.Done():
			return
		}
	}
}

func (u *useCase) unreachable(ctx context.Context, state domain.HostState) {
	probeCtx, cancel := context.WithTimeout(ctx, u.cfg.UnreachableTimeout)
	restored := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if u.probeUntil(probeCtx, *state.Details, true) {
			close(restored)
		}
	}()
	defer func() {
		cancel()
		<-done
	}()
	for {
		select {
		case <-restored:
			u.transition(domain.HostState{
				Phase:   domain.Up,
				Details: state.Details,
				Owner:   state.Owner,
			}, domain.BroadcastEvent{Type: domain.HostRestored})
			return
		case env := <-u.events:
			if err := check(state, env.sender, env.event); err != nil {
				u.reject(env, state, err)
				continue
			}
			u.reject(env, state, nil)
		case <-probeCtx.Done():
			if ctx.Err() != nil {
				return
			}
			select {
			case <-restored:
				/* the last probe succeeded right at the deadline */
				continue
			default:
			}
			u.logger.Warn("host dropped", zap.String("host", state.Details.Addr()),
				zap.Duration("timeout", u.cfg.UnreachableTimeout))
			u.transition(domain.HostState{Phase: domain.NoHost}, domain.BroadcastEvent{Type: domain.HostDropped})
			return
		}
	}
}

// shuttingDown does not tell a clean ShutDown apart from a timeout: both end
// with HostShutdown.
func (u *useCase) shuttingDown(ctx context.Context, state domain.HostState) {
	timer := time.NewTimer(u.cfg.ShutdownTimeout)
	defer timer.Stop()
	for {
		select {
		case env := <-u.events:
			if err := check(state, env.sender, env.event); err != nil {
				u.reject(env, state, err)
				continue
			}
			if env.event.Type != domain.ShutDownEvent {
				u.reject(env, state, nil)
				continue
			}
			u.transition(domain.HostState{Phase: domain.NoHost}, domain.BroadcastEvent{Type: domain.HostShutdown})
			env.result <- nil
			return
		case <-timer.C:
			u.logger.Warn("host did not report shutdown in time", zap.Duration("timeout", u.cfg.ShutdownTimeout))
			u.transition(domain.HostState{Phase: domain.NoHost}, domain.BroadcastEvent{Type: domain.HostShutdown})
			return
		case <-ctx.Done():
			return
		}
	}
}

// probeUntil polls the host every probe interval. With wantUp it returns true
// on the first successful probe, otherwise once ProbeFailures probes in a row
// have failed. It returns false when ctx is done.
func (u *useCase) probeUntil(ctx context.Context, details domain.HostDetails, wantUp bool) bool {
	ticker := time.NewTicker(u.cfg.ProbeInterval)
	defer ticker.Stop()
	failures := 0
	for {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		}
		probeCtx, cancel := context.WithTimeout(ctx, u.cfg.ProbeTimeout)
		err := u.prober.Probe(probeCtx, details)
		cancel()
		if ctx.Err() != nil {
			return false
		}
		if err == nil {
			metricProbes.WithLabelValues("ok").Inc()
			if wantUp {
				return true
			}
			failures = 0
			continue
		}
		metricProbes.WithLabelValues("failed").Inc()
		u.logger.Debug("host probe failed", zap.String("host", details.Addr()), zap.Error(err))
		failures++
		if !wantUp && failures >= u.cfg.ProbeFailures {
			return true
		}
	}
}
