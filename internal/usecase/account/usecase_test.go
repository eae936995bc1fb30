package account

import (
	"context"
	"testing"
	"time"

	"github.com/kiryu-dev/worldhost/internal/adapters/objectstore"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/kiryu-dev/worldhost/internal/usecase/session"
	"github.com/kiryu-dev/worldhost/pkg/broadcast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newUseCase(t *testing.T) (useCase, domain.SessionUseCase) {
	t.Helper()
	repo, err := objectstore.OpenMemory(1, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = repo.Close()
	})
	sessions := session.New(broadcast.New[domain.BroadcastEvent](4), zap.NewNop())
	return New(repo, sessions, zap.NewNop()), sessions
}

func TestLogin(t *testing.T) {
	u, sessions := newUseCase(t)
	require.NoError(t, u.AddUser("alice", "wonderland"))
	assert.ErrorIs(t, u.AddUser("alice", "again"), domain.ErrAlreadyExists)

	_, err := u.Login("alice", "wrong")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
	_, err = u.Login("nobody", "wonderland")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)

	id, err := u.Login("alice", "wonderland")
	require.NoError(t, err)
	user, err := sessions.User(id)
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
}

func TestChangePasswordClearsSessions(t *testing.T) {
	u, sessions := newUseCase(t)
	require.NoError(t, u.AddUser("alice", "old"))
	first, err := u.Login("alice", "old")
	require.NoError(t, err)
	second, err := u.Login("alice", "old")
	require.NoError(t, err)

	assert.ErrorIs(t, u.ChangePassword(first, "nope", "new"), domain.ErrBadCredentials)
	require.NoError(t, u.ChangePassword(first, "old", "new"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, id := range []string{first, second} {
		_, err := sessions.AwaitEvent(ctx, id)
		assert.ErrorIs(t, err, domain.ErrSessionExpired)
	}
	_, err = u.Login("alice", "old")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
	_, err = u.Login("alice", "new")
	require.NoError(t, err)
}

func TestRemoveUser(t *testing.T) {
	u, sessions := newUseCase(t)
	require.NoError(t, u.AddUser("bob", "pw"))
	id, err := u.Login("bob", "pw")
	require.NoError(t, err)

	require.NoError(t, u.RemoveUser("bob"))
	_, err = sessions.User(id)
	assert.ErrorIs(t, err, domain.ErrSessionExpired)
	_, err = u.Login("bob", "pw")
	assert.ErrorIs(t, err, domain.ErrBadCredentials)
	assert.ErrorIs(t, u.RemoveUser("bob"), domain.ErrNotFound)
}
