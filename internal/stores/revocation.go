package stores

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedRecordVersionV1 = 1

// ErrRevocationBackend is returned when Redis is unreachable. A lookup miss
// is never an error: IsRevoked reports (false, nil) for unknown tokens.
var ErrRevocationBackend = errors.New("revocation backend unavailable")

// RevokedToken is the durable record of an explicitly invalidated token.
// The raw token itself is never stored; its SHA-256 keys the record.
type RevokedToken struct {
	TokenType string
	SubjectID string
	Role      string
	Reason    string
	RevokedAt int64
	ExpiresAt int64
}

type RevocationStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRevocationStore(redisClient redis.UniversalClient, prefix string) *RevocationStore {
	if prefix == "" {
		prefix = "ha"
	}
	return &RevocationStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RevocationStore) key(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return s.prefix + ":rvk:" + hex.EncodeToString(sum[:])
}

// Revoke inserts a revocation record. It is idempotent: revoking an already
// revoked token returns the existing record unchanged. The record's TTL
// tracks the token's own expiry, with a one-minute floor so that revoking an
// already-expired token still leaves a briefly observable record.
func (s *RevocationStore) Revoke(ctx context.Context, rawToken string, record *RevokedToken) (*RevokedToken, error) {
	encoded, err := encodeRevokedToken(record)
	if err != nil {
		return nil, err
	}

	ttl := time.Until(time.Unix(record.ExpiresAt, 0))
	if ttl < time.Minute {
		ttl = time.Minute
	}

	key := s.key(rawToken)
	set, err := s.redis.SetNX(ctx, key, encoded, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	if set {
		return record, nil
	}

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// Lost a race with the record's expiry between SETNX and GET.
			if err := s.redis.Set(ctx, key, encoded, ttl).Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
			}
			return record, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return decodeRevokedToken(data)
}

// IsRevoked reports whether rawToken has an active revocation record.
func (s *RevocationStore) IsRevoked(ctx context.Context, rawToken string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.key(rawToken)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return n > 0, nil
}

// Get returns the revocation record for rawToken, or (nil, nil) when none
// exists.
func (s *RevocationStore) Get(ctx context.Context, rawToken string) (*RevokedToken, error) {
	data, err := s.redis.Get(ctx, s.key(rawToken)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRevocationBackend, err)
	}
	return decodeRevokedToken(data)
}

func encodeRevokedToken(record *RevokedToken) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(revokedRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []string{record.TokenType, record.SubjectID, record.Role, record.Reason} {
		if len(field) > 65535 {
			return nil, errors.New("revocation record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}

	return buf.Bytes(), nil
}

func decodeRevokedToken(data []byte) (*RevokedToken, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != revokedRecordVersionV1 {
		return nil, errors.New("invalid revocation record version")
	}

	record := &RevokedToken{}
	if err := binary.Read(reader, binary.BigEndian, &record.RevokedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	for _, field := range []*string{&record.TokenType, &record.SubjectID, &record.Role, &record.Reason} {
		var length uint16
		if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
			return nil, err
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(reader, value); err != nil {
			return nil, err
		}
		*field = string(value)
	}

	return record, nil
}
