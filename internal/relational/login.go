package relational

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"edu-data-console/models"
)

// Login checks a username/password pair against the user table. Passwords
// are compared as stored.
func (s *Store) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}

	var u User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBadCredentials
	}
	if err != nil {
		return nil, classify("login", err)
	}
	if u.Password != password {
		return nil, ErrBadCredentials
	}
	if !u.IsActive {
		return nil, ErrInactive
	}

	return &models.LoginResponse{
		UserID:   u.UserID,
		Username: u.Username,
		Role:     u.UserRole,
	}, nil
}
