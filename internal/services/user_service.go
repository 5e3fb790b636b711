package services

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/sjperalta/fintera-invoicing/pkg/logger"
	"gorm.io/gorm"
)

// CreateUserRequest registers a reviewer, approver or ingestion account
type CreateUserRequest struct {
	Email    string `json:"email" binding:"required"`
	FullName string `json:"full_name" binding:"required"`
	Role     string `json:"role" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserService manages the accounts allowed to act on invoices
type UserService struct {
	repo repository.UserRepository
}

func NewUserService(repo repository.UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, "user")
	}
	return u, nil
}

func (s *UserService) List(ctx context.Context, query *repository.ListQuery) ([]models.User, int64, error) {
	return s.repo.List(ctx, query)
}

func validRole(role string) bool {
	switch role {
	case models.RoleAdmin, models.RoleController, models.RoleCFO, models.RoleIngestion:
		return true
	}
	return false
}

// Create registers a new account. Only admins may create users.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actor models.Actor) (*models.User, error) {
	if !actor.HasRole(models.RoleAdmin) {
		return nil, ErrForbidden
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	role := strings.ToLower(strings.TrimSpace(req.Role))
	verr := &ValidationError{Message: "invalid user"}
	if _, err := mail.ParseAddress(email); err != nil {
		verr.field("email", "must be a valid email address")
	}
	if strings.TrimSpace(req.FullName) == "" {
		verr.field("full_name", "required")
	}
	if !validRole(role) {
		verr.field("role", "must be admin, controller, cfo or ingestion")
	}
	if len(req.Password) < 8 {
		verr.field("password", "must be at least 8 characters")
	}
	if !verr.empty() {
		return nil, verr
	}

	hashed, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:             email,
		FullName:          strings.TrimSpace(req.FullName),
		Role:              role,
		EncryptedPassword: hashed,
		Status:            models.StatusActive,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, &ValidationError{Message: "invalid user", Fields: map[string]string{"email": "already registered"}}
		}
		return nil, err
	}
	logger.Info("user created", "user_id", user.ID, "role", user.Role, "by", actor.ID)
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return err
	}
	user := &models.User{Email: email, FullName: "Administrator", Role: models.RoleAdmin, EncryptedPassword: hashed}
	if err := s.repo.Create(ctx, user); err != nil {
		return err
	}
	logger.Info("bootstrap admin created", "email", email)
	return nil
}
