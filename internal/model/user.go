package model

import (
	"time"

	"github.com/google/uuid"
)

// Role distinguishes the two kinds of accounts.
type Role string

const (
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User represents a teacher or student account.
type User struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Program      *string   `json:"program,omitempty"` // Student only
	Subject      *string   `json:"subject,omitempty"` // Teacher only
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RegisterRequest is the payload for creating a new account.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required,min=2,max=100"`
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=6,max=128"`
	Role     Role   `json:"role" binding:"required,oneof=teacher student"`
	Program  string `json:"program" binding:"omitempty,max=100"`
	Subject  string `json:"subject" binding:"omitempty,max=100"`
}

// LoginRequest is the payload for authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=1,max=128"`
}

// AuthResponse is returned after successful registration or login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
