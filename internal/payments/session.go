package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionInvalid is returned when a checkout session is absent, expired,
// or does not belong to the caller.
var ErrSessionInvalid = errors.New("checkout session invalid")

const sessionKeyPrefix = "checkout:session:"

// Session is the Redis-backed checkout session linking an order id to its
// pending payment. It gates verification but is not a lock; the payment
// status compare-and-set is what makes duplicate verifies safe.
type Session struct {
	PaymentID      uuid.UUID   `json:"payment_id"`
	GatewayOrderID string      `json:"gateway_order_id"`
	UserID         uuid.UUID   `json:"user_id"`
	CourseIDs      []uuid.UUID `json:"course_ids"`
	FinalAmount    float64     `json:"final_amount"`
}

// SessionStore stores checkout sessions in Redis with a TTL.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSessionStore creates a session store. ttl is typically one hour.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(orderID string) string { return sessionKeyPrefix + orderID }

// Put stores the session under its order id.
func (s *SessionStore) Put(ctx context.Context, orderID string, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(orderID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get loads the session for an order id; ErrSessionInvalid when absent.
func (s *SessionStore) Get(ctx context.Context, orderID string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(orderID)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, ErrSessionInvalid
	}
	return &sess, nil
}

// Delete removes the session. Missing keys are not an error.
func (s *SessionStore) Delete(ctx context.Context, orderID string) error {
	if err := s.client.Del(ctx, sessionKey(orderID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
