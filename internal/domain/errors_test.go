package domain

import (
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"expired", errors.WithMessage(ErrSessionExpired, "await event"), KindExpired},
		{"bad credentials", ErrBadCredentials, KindUnauthorized},
		{"save in use", errors.WithMessage(ErrSaveInUse, "set save"), KindConflict},
		{"backlog", ErrBackLogLocked, KindConflict},
		{"lagging", ErrLagging, KindLagging},
		{"transient", errors.WithMessage(TransientIO(os.ErrPermission), "read object"), KindTransientIO},
		{"internal", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
		})
	}
}

func TestErrorOfKindKeepsSentinel(t *testing.T) {
	err := errors.WithMessage(ErrNotEmpty, "dump save")
	back := ErrorOfKind(KindOf(err), Reason(err), err.Error())
	assert.ErrorIs(t, back, ErrNotEmpty)

	back = ErrorOfKind(KindExpired, "", "gone")
	assert.ErrorIs(t, back, ErrSessionExpired)
	assert.Equal(t, KindTransientIO, KindOf(ErrorOfKind(KindTransientIO, "", "disk")))
}

func TestIsHost(t *testing.T) {
	state := HostState{Phase: Up, Owner: "alice", Details: &HostDetails{Host: "10.0.0.1", Port: 25565}}
	assert.True(t, state.IsHost("alice"))
	assert.False(t, state.IsHost("bob"))
	assert.False(t, HostState{Phase: NoHost, Owner: "alice"}.IsHost("alice"))
	assert.Equal(t, "10.0.0.1:25565", state.Details.Addr())
}
