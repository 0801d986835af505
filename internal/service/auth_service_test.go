package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/examily/examily-backend/internal/config"
	"github.com/examily/examily-backend/internal/model"
)

func testAuth(expiry time.Duration) *AuthService {
	return NewAuthService(&config.Config{
		JWTSecret:  "test-secret",
		JWTExpiry:  expiry,
		BcryptCost: bcrypt.MinCost,
	}, nil)
}

func TestAuthService_TokenRoundTrip(t *testing.T) {
	s := testAuth(2 * time.Hour)
	u := &model.User{ID: uuid.New(), Email: "ada@example.edu", Role: model.RoleTeacher}

	token, err := s.GenerateToken(u)
	require.NoError(t, err)

	claims, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, model.RoleTeacher, claims.Role)
	assert.WithinDuration(t, time.Now().Add(2*time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestAuthService_RejectsBadTokens(t *testing.T) {
	s := testAuth(time.Hour)
	u := &model.User{ID: uuid.New(), Role: model.RoleStudent}

	expired, err := testAuth(-time.Minute).GenerateToken(u)
	require.NoError(t, err)
	_, err = s.ValidateToken(expired)
	assert.Error(t, err)

	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour}, nil)
	forged, err := other.GenerateToken(u)
	require.NoError(t, err)
	_, err = s.ValidateToken(forged)
	assert.Error(t, err)

	_, err = s.ValidateToken("not-a-jwt")
	assert.Error(t, err)
}

func TestAuthService_NewUserKeepsRoleFields(t *testing.T) {
	s := testAuth(time.Hour)

	student, err := s.NewUser(&model.RegisterRequest{
		Name: " Grace ", Email: "Grace@Example.EDU", Password: "secret1",
		Role: model.RoleStudent, Program: "Computer Science", Subject: "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, "Grace", student.Name)
	assert.Equal(t, "grace@example.edu", student.Email)
	require.NotNil(t, student.Program)
	assert.Nil(t, student.Subject)
	assert.NoError(t, s.CheckPassword(student.PasswordHash, "secret1"))
	assert.ErrorIs(t, s.CheckPassword(student.PasswordHash, "wrong"), ErrInvalidCredentials)

	teacher, err := s.NewUser(&model.RegisterRequest{
		Name: "Alan", Email: "alan@example.edu", Password: "secret1",
		Role: model.RoleTeacher, Subject: "Mathematics",
	})
	require.NoError(t, err)
	assert.Nil(t, teacher.Program)
	require.NotNil(t, teacher.Subject)
	assert.Equal(t, "Mathematics", *teacher.Subject)
}
