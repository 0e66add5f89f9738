package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/logger"
	"github.com/google/uuid"
)

// Store is the persistence the Service needs.
type Store interface {
	Create(ctx context.Context, id string) (*Session, error)
	Touch(ctx context.Context, id string) error
	DeleteIdle(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service contains the business logic for viewer sessions.
type Service struct {
	store  Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a new session Service.
func NewService(store Store, jwtSecret string, ttl time.Duration) *Service {
	return &Service{store: store, secret: []byte(jwtSecret), ttl: ttl, now: time.Now}
}

// Open creates a session and issues a JWT for it.
func (s *Service) Open(ctx context.Context) (string, *Session, error) {
	sess, err := s.store.Create(ctx, uuid.NewString())
	if err != nil {
		return "", nil, fmt.Errorf("open session: %w", err)
	}
	token, err := s.issueToken(sess.ID)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	logger.Infof("session %s opened", sess.ID)
	return token, sess, nil
}

// Touch records activity; unknown sessions are reported as ErrNotFound.
func (s *Service) Touch(ctx context.Context, id string) error {
	return s.store.Touch(ctx, id)
}

// Expire removes sessions idle for longer than idle.
func (s *Service) Expire(ctx context.Context, idle time.Duration) (int64, error) {
	return s.store.DeleteIdle(ctx, s.now().Add(-idle))
}

// IsNotFound returns true when the error indicates a session was not found.
func (s *Service) IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// issueToken creates a signed JWT whose subject is the session ID.
func (s *Service) issueToken(sessionID string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
