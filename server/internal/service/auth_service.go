package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"DocChat/server/internal/dto"
	"DocChat/server/internal/model"
	"DocChat/server/internal/repository"
	"DocChat/server/internal/utils"
)

// TokenIssuer signs access tokens for a user.
type TokenIssuer interface {
	Issue(userID, email string) (string, error)
}

type AuthService struct {
	repo   repository.UserRepository
	tokens TokenIssuer
	logger *slog.Logger
}

func NewAuthService(repo repository.UserRepository, tokens TokenIssuer) *AuthService {
	return &AuthService{repo: repo, tokens: tokens, logger: slog.Default().With("service", "auth")}
}

func (s *AuthService) Register(ctx context.Context, req dto.RegisterReq) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	// 1. unique email
	if s.repo.IsEmailExist(ctx, email) {
		return nil, fmt.Errorf("%w: email %s", ErrConflict, email)
	}

	// 2. hash
	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	// 3. persist
	user := &model.User{
		Email:        email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("%w: email %s", ErrConflict, email)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", "user_id", user.ID)
	return user, nil
}

// Login reports ErrAuthentication for both an unknown email and a wrong password.
func (s *AuthService) Login(ctx context.Context, req dto.LoginReq) (*dto.LoginResp, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.repo.GetByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown email", ErrAuthentication)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		return nil, fmt.Errorf("%w: wrong password", ErrAuthentication)
	}

	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &dto.LoginResp{
		Token: token,
		User: dto.UserInfo{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		},
	}, nil
}
