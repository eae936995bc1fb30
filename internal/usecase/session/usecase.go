package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/pkg/broadcast"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type session struct {
	user   string
	cursor *broadcast.Cursor[domain.BroadcastEvent]
	busy   *atomic.Bool
	closed *atomic.Bool
	done   chan struct{}
	once   *sync.Once
}

func (s *session) invalidate() {
	s.closed.Store(true)
	s.once.Do(func() {
		close(s.done)
	})
}

type useCase struct {
	sessions *xsync.MapOf[string, *session]
	stream   *broadcast.Stream[domain.BroadcastEvent]
	logger   *zap.Logger
}

func New(stream *broadcast.Stream[domain.BroadcastEvent], logger *zap.Logger) *useCase {
	return &useCase{
		sessions: xsync.NewMapOf[string, *session](),
		stream:   stream,
		logger:   logger,
	}
}

// Login binds a new session to a fresh cursor positioned at the stream tail.
func (u *useCase) Login(user string) (string, error) {
	if user == "" {
		return "", errors.WithMessage(domain.ErrBadCredentials, "empty user name")
	}
	id := uuid.NewString()
	u.sessions.Store(id, &session{
		user:   user,
		cursor: u.stream.Subscribe(),
		busy:   atomic.NewBool(false),
		closed: atomic.NewBool(false),
		done:   make(chan struct{}),
		once:   &sync.Once{},
	})
	metricSessions.Inc()
	u.logger.Info("session opened", zap.String("user", user))
	return id, nil
}

func (u *useCase) Logout(sessionId string) {
	if s, ok := u.sessions.LoadAndDelete(sessionId); ok {
		s.invalidate()
		metricSessions.Dec()
		u.logger.Info("session closed", zap.String("user", s.user))
	}
}

func (u *useCase) User(sessionId string) (string, error) {
	s, err := u.lookup(sessionId)
	if err != nil {
		return "", err
	}
	return s.user, nil
}

func (u *useCase) lookup(sessionId string) (*session, error) {
	s, ok := u.sessions.Load(sessionId)
	if !ok || s.closed.Load() {
		return nil, domain.ErrSessionExpired
	}
	return s, nil
}

// AwaitEvent blocks until the next event after the session's cursor. Only one
// call per session may wait at a time. A lagging session is invalidated and
// the caller has to log in again.
func (u *useCase) AwaitEvent(ctx context.Context, sessionId string) (domain.BroadcastEvent, error) {
	s, err := u.lookup(sessionId)
	if err != nil {
		return domain.BroadcastEvent{}, err
	}
	if !s.busy.CompareAndSwap(false, true) {
		return domain.BroadcastEvent{}, domain.ErrBackLogLocked
	}
	defer s.busy.Store(false)
	if s.closed.Load() {
		return domain.BroadcastEvent{}, domain.ErrSessionExpired
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-waitCtx.Done():
		}
	}()

	event, err := s.cursor.Next(waitCtx)
	var lagged broadcast.LaggedError
	switch {
	case err == nil:
		metricDelivered.Inc()
		return event, nil
	case errors.As(err, &lagged):
		metricLagged.Inc()
		u.logger.Warn("session lagged behind event stream",
			zap.String("user", s.user), zap.Uint64("missed", lagged.Missed))
		u.Logout(sessionId)
		return domain.BroadcastEvent{}, errors.WithMessagef(domain.ErrLagging, "missed %d events", lagged.Missed)
	case s.closed.Load(), errors.Is(err, broadcast.ErrClosed):
		return domain.BroadcastEvent{}, domain.ErrSessionExpired
	default:
		return domain.BroadcastEvent{}, errors.WithMessage(err, "wait for event")
	}
}

// ClearUser invalidates every session of user, waking their waiters.
func (u *useCase) ClearUser(user string) int {
	cleared := 0
	u.sessions.Range(func(id string, s *session) bool {
		if s.user != user {
			return true
		}
		s.invalidate()
		if _, ok := u.sessions.LoadAndDelete(id); ok {
			metricSessions.Dec()
			cleared++
		}
		return true
	})
	if cleared > 0 {
		u.logger.Info("cleared user sessions", zap.String("user", user), zap.Int("sessions", cleared))
	}
	return cleared
}
