package session

import (
	"context"
	"testing"
	"time"

	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newUseCase(capacity int) (*useCase, *broadcast.Stream[domain.BroadcastEvent]) {
	stream := broadcast.New[domain.BroadcastEvent](capacity)
	return New(stream, zap.NewNop()), stream
}

func await(u *useCase, id string) (domain.BroadcastEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return u.AwaitEvent(ctx, id)
}

func TestEverySessionGetsEveryEvent(t *testing.T) {
	u, stream := newUseCase(8)
	a, err := u.Login("alice")
	require.NoError(t, err)
	b, err := u.Login("bob")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	stream.Publish(domain.BroadcastEvent{Type: domain.HostLoaded})
	for _, id := range []string{a, b} {
		event, err := await(u, id)
		require.NoError(t, err)
		assert.Equal(t, domain.HostLoaded, event.Type)
	}
}

func TestUnknownSessionExpired(t *testing.T) {
	u, _ := newUseCase(8)
	_, err := await(u, "nope")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	_, err = u.User("nope")
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestSingleWaiterPerSession(t *testing.T) {
	u, stream := newUseCase(8)
	id, err := u.Login("alice")
	require.NoError(t, err)

	first := make(chan error, 1)
	go func() {
		_, err := await(u, id)
		first <- err
	}()
	require.Eventually(t, func() bool {
		s, _ := u.sessions.Load(id)
		return s.busy.Load()
	}, time.Second, time.Millisecond)

	_, err = await(u, id)
	assert.ErrorIs(t, err, domain.ErrBackLogLocked)

	stream.Publish(domain.BroadcastEvent{Type: domain.HostShutdown})
	require.NoError(t, <-first)

	stream.Publish(domain.BroadcastEvent{Type: domain.NewHost})
	event, err := await(u, id)
	require.NoError(t, err)
	assert.Equal(t, domain.NewHost, event.Type)
}

func TestCancelledWaitKeepsCursor(t *testing.T) {
	u, stream := newUseCase(8)
	id, err := u.Login("alice")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = u.AwaitEvent(ctx, id)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	stream.Publish(domain.BroadcastEvent{Type: domain.HostDropped})
	event, err := await(u, id)
	require.NoError(t, err)
	assert.Equal(t, domain.HostDropped, event.Type)
}

func TestClearUser(t *testing.T) {
	u, _ := newUseCase(8)
	a1, _ := u.Login("alice")
	a2, _ := u.Login("alice")
	b, _ := u.Login("bob")

	waiting := make(chan error, 1)
	go func() {
		_, err := await(u, a1)
		waiting <- err
	}()
	require.Eventually(t, func() bool {
		s, _ := u.sessions.Load(a1)
		return s.busy.Load()
	}, time.Second, time.Millisecond)

	assert.Equal(t, 2, u.ClearUser("alice"))
	assert.ErrorIs(t, <-waiting, domain.ErrSessionExpired)
	for _, id := range []string{a1, a2} {
		_, err := await(u, id)
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
		_, err = u.User(id)
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
	}
	user, err := u.User(b)
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestConcurrentClearUserCountsEachSessionOnce(t *testing.T) {
	u, _ := newUseCase(8)
	const sessions = 64
	for i := 0; i < sessions; i++ {
		_, err := u.Login("alice")
		require.NoError(t, err)
	}
	counts := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			counts <- u.ClearUser("alice")
		}()
	}
	assert.Equal(t, sessions, <-counts+<-counts)
	assert.Zero(t, u.sessions.Size())
}

func TestLaggingSessionIsInvalidated(t *testing.T) {
	u, stream := newUseCase(2)
	id, _ := u.Login("alice")
	for i := 0; i < 5; i++ {
		stream.Publish(domain.BroadcastEvent{Type: domain.HostLoading, Progress: uint8(i)})
	}
	_, err := await(u, id)
	assert.ErrorIs(t, err, domain.ErrLagging)
	_, err = await(u, id)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}

func TestLogout(t *testing.T) {
	u, _ := newUseCase(2)
	id, _ := u.Login("alice")
	u.Logout(id)
	_, err := u.User(id)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
}
