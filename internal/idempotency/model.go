// Package idempotency stores responses to retried write requests so a
// repeated Idempotency-Key replays the first outcome instead of running the
// operation again.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length of 64 characters")
)

const (
	// MaxKeyLength bounds the Idempotency-Key header.
	MaxKeyLength = 64

	// DefaultExpiry is how long a stored response is replayed.
	DefaultExpiry = 24 * time.Hour
)

// Record is the first response to a (user, key) pair, together with a
// fingerprint of the request that produced it.
type Record struct {
	UserID        string    `cbor:"1,keyasint" json:"userId"`
	Key           string    `cbor:"2,keyasint" json:"key"`
	Method        string    `cbor:"3,keyasint" json:"method"`
	Route         string    `cbor:"4,keyasint" json:"route"`
	Status        int       `cbor:"5,keyasint" json:"status"`
	Body          string    `cbor:"6,keyasint" json:"body"`
	RequestSHA256 string    `cbor:"7,keyasint" json:"requestSha256"`
	CreatedAt     time.Time `cbor:"8,keyasint" json:"createdAt"`
}

// HashRequest returns the hex SHA-256 of a request body.
func HashRequest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// NewRecord builds the record for a response to a request whose body hashed
// to requestSHA256. CreatedAt is left for the repository to stamp.
func NewRecord(userID, key, method, route, requestSHA256 string, status int, body []byte) *Record {
	return &Record{
		UserID:        userID,
		Key:           key,
		Method:        method,
		Route:         route,
		Status:        status,
		Body:          string(body),
		RequestSHA256: requestSHA256,
	}
}

// Matches reports whether a retry is the request the record was stored for:
// same method, same route and a body with the same hash.
func (r *Record) Matches(method, route, requestSHA256 string) bool {
	return r.Method == method && r.Route == route && r.RequestSHA256 == requestSHA256
}

// ValidateKey rejects empty and overlong keys.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return ErrInvalidKey
	case len(key) > MaxKeyLength:
		return ErrKeyTooLong
	}
	return nil
}

// Repository persists records. Keys are scoped by user, so two users may
// send the same key.
type Repository interface {
	// Get returns ErrKeyNotFound when nothing is stored for the pair.
	Get(ctx context.Context, userID, key string) (*Record, error)

	// Store returns ErrKeyExists when the pair is already taken.
	Store(ctx context.Context, record *Record) error

	// DeleteOlderThan drops records older than age and reports how many.
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}
