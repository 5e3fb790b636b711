package services

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sjperalta/fintera-invoicing/internal/config"
	"github.com/sjperalta/fintera-invoicing/internal/models"
	"github.com/sjperalta/fintera-invoicing/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type mockUserRepo struct {
	repository.UserRepository
	mockFindByEmail func(ctx context.Context, email string) (*models.User, error)
}

func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.mockFindByEmail(ctx, email)
}

func userWithPassword(t *testing.T, password, status string) *models.User {
	t.Helper()
	hashed, err := HashPassword(password)
	require.NoError(t, err)
	return &models.User{
		ID:                "u-1",
		Email:             "carla@fintera.app",
		FullName:          "Carla Controller",
		Role:              models.RoleController,
		Status:            status,
		EncryptedPassword: hashed,
	}
}

func TestAuthService_Login_InactiveUser(t *testing.T) {
	mockRepo := &mockUserRepo{}
	service := NewAuthService(mockRepo, &config.Config{JWTSecret: "secret"})

	mockRepo.mockFindByEmail = func(ctx context.Context, email string) (*models.User, error) {
		return userWithPassword(t, "password1", models.StatusInactive), nil
	}

	result, err := service.Login(context.Background(), "carla@fintera.app", "password1")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInactiveAccount)
}

func TestAuthService_Login_UnknownUserOrWrongPassword(t *testing.T) {
	mockRepo := &mockUserRepo{}
	service := NewAuthService(mockRepo, &config.Config{JWTSecret: "secret"})

	mockRepo.mockFindByEmail = func(ctx context.Context, email string) (*models.User, error) {
		return nil, gorm.ErrRecordNotFound
	}
	_, err := service.Login(context.Background(), "ghost@fintera.app", "password1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	mockRepo.mockFindByEmail = func(ctx context.Context, email string) (*models.User, error) {
		return userWithPassword(t, "password1", models.StatusActive), nil
	}
	_, err = service.Login(context.Background(), "carla@fintera.app", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthService_Login_IssuesToken(t *testing.T) {
	var lookedUp string
	mockRepo := &mockUserRepo{mockFindByEmail: func(ctx context.Context, email string) (*models.User, error) {
		lookedUp = email
		return userWithPassword(t, "password1", models.StatusActive), nil
	}}
	service := NewAuthService(mockRepo, &config.Config{JWTSecret: "secret", JWTExpirationHours: 2})
	fixed := time.Date(2024, 3, 31, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time { return fixed }

	result, err := service.Login(context.Background(), "  Carla@Fintera.app ", "password1")
	require.NoError(t, err)
	assert.Equal(t, "carla@fintera.app", lookedUp)
	assert.Equal(t, fixed.Add(2*time.Hour), result.ExpiresAt)
	assert.Equal(t, "u-1", result.User.ID)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(result.Token, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte("secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return fixed }))
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims["user_id"])
	assert.Equal(t, models.RoleController, claims["role"])
	assert.Equal(t, "Carla Controller", claims["name"])
}

func TestHashPassword(t *testing.T) {
	hashed, err := HashPassword("s3cret-pass")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret-pass", hashed)
	assert.True(t, VerifyPassword("s3cret-pass", hashed))
	assert.False(t, VerifyPassword("other", hashed))
}
