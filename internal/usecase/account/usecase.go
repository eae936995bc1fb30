package account

import (
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type useCase struct {
	repo     domain.AccountRepository
	sessions domain.SessionUseCase
	logger   *zap.Logger
}

func New(repo domain.AccountRepository, sessions domain.SessionUseCase, logger *zap.Logger) useCase {
	return useCase{
		repo:     repo,
		sessions: sessions,
		logger:   logger,
	}
}

func (u useCase) Login(user string, password string) (string, error) {
	account, err := u.repo.GetAccount(user)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "", domain.ErrBadCredentials
	case err != nil:
		return "", errors.WithMessage(err, "get account")
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)); err != nil {
		u.logger.Info("rejected login", zap.String("user", user))
		return "", domain.ErrBadCredentials
	}
	return u.sessions.Login(user)
}

// ChangePassword invalidates every session of the user, including the one
// used to make the change.
func (u useCase) ChangePassword(sessionId string, oldPassword string, newPassword string) error {
	user, err := u.sessions.User(sessionId)
	if err != nil {
		return err
	}
	account, err := u.repo.GetAccount(user)
	if err != nil {
		return errors.WithMessage(err, "get account")
	}
	if err := bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(oldPassword)); err != nil {
		return domain.ErrBadCredentials
	}
	if err := u.setPassword(user, newPassword); err != nil {
		return err
	}
	u.sessions.ClearUser(user)
	return nil
}

func (u useCase) AddUser(name string, password string) error {
	if name == "" || password == "" {
		return errors.WithMessage(domain.ErrBadCredentials, "empty name or password")
	}
	_, err := u.repo.GetAccount(name)
	switch {
	case err == nil:
		return errors.WithMessagef(domain.ErrAlreadyExists, "user '%s'", name)
	case !errors.Is(err, domain.ErrNotFound):
		return errors.WithMessage(err, "get account")
	}
	if err := u.setPassword(name, password); err != nil {
		return err
	}
	u.logger.Info("user added", zap.String("user", name))
	return nil
}

func (u useCase) RemoveUser(name string) error {
	if _, err := u.repo.GetAccount(name); err != nil {
		return errors.WithMessage(err, "get account")
	}
	if err := u.repo.DeleteAccount(name); err != nil {
		return errors.WithMessage(err, "delete account")
	}
	u.sessions.ClearUser(name)
	u.logger.Info("user removed", zap.String("user", name))
	return nil
}

func (u useCase) setPassword(name string, password string) error {
	if password == "" {
		return errors.WithMessage(domain.ErrBadCredentials, "empty password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return errors.WithMessage(err, "hash password")
	}
	if err := u.repo.PutAccount(domain.Account{Name: name, PasswordHash: hash}); err != nil {
		return errors.WithMessage(err, "put account")
	}
	return nil
}
