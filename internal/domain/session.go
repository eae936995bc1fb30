package domain

import (
	"context"
)

const (
	SessionHeader = "X-Session-Id"
)

type SessionUseCase interface {
	Login(user string) (string, error)
	Logout(sessionId string)
	User(sessionId string) (string, error)
	AwaitEvent(ctx context.Context, sessionId string) (BroadcastEvent, error)
	ClearUser(user string) int
}

type Account struct {
	Name         string `json:"name"`
	PasswordHash []byte `json:"password_hash"`
}

type AccountRepository interface {
	GetAccount(name string) (Account, error)
	PutAccount(account Account) error
	DeleteAccount(name string) error
}

type AccountUseCase interface {
	Login(user string, password string) (string, error)
	ChangePassword(sessionId string, oldPassword string, newPassword string) error
	AddUser(name string, password string) error
	RemoveUser(name string) error
}
