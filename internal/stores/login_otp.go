package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const loginRecordVersionV1 = 1

var (
	ErrLoginChallengeNotFound = errors.New("login challenge not found")
	ErrLoginChallengeExpired  = errors.New("login challenge expired")
	ErrLoginChallengeExceeded = errors.New("login challenge attempts exceeded")
	ErrLoginChallengeBackend  = errors.New("login challenge backend unavailable")
)

// LoginChallenge is one live OTP challenge for a (role, phone) pair.
type LoginChallenge struct {
	CodeHash  string
	ExpiresAt int64
	Attempts  uint16
}

type LoginChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewLoginChallengeStore(redisClient redis.UniversalClient, prefix string) *LoginChallengeStore {
	if prefix == "" {
		prefix = "ha"
	}
	return &LoginChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *LoginChallengeStore) key(role, phone string) string {
	return s.prefix + ":lc:" + role + ":" + phone
}

// Put replaces the challenge for (role, phone) wholesale. A re-request is a
// single SET, so two concurrent requests cannot leave two live challenges
// and the attempt counter always restarts with the new code.
func (s *LoginChallengeStore) Put(
	ctx context.Context,
	role, phone string,
	record *LoginChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeLoginChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(role, phone), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	return nil
}

// Get returns the live challenge. A record past its embedded expiry is
// deleted and reported as expired even when the Redis TTL has not fired yet.
func (s *LoginChallengeStore) Get(ctx context.Context, role, phone string) (*LoginChallenge, error) {
	key := s.key(role, phone)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrLoginChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}

	record, err := decodeLoginChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, key).Result()
		return nil, ErrLoginChallengeExpired
	}
	return record, nil
}

func (s *LoginChallengeStore) Delete(ctx context.Context, role, phone string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(role, phone)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter under a WATCH/MULTI
// transaction. It reports exceeded=true (after deleting the record) when the
// increment reaches maxAttempts.
func (s *LoginChallengeStore) RecordFailure(
	ctx context.Context,
	role, phone string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(role, phone)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeLoginChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.ExpiresAt {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrLoginChallengeExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrLoginChallengeExpired
			}

			updated, err := encodeLoginChallenge(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrLoginChallengeNotFound
			}
			if errors.Is(err, ErrLoginChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrLoginChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrLoginChallengeNotFound
}

func encodeLoginChallenge(record *LoginChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.CodeHash) > 65535 {
		return nil, errors.New("login challenge hash too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.CodeHash))); err != nil {
		return nil, err
	}
	buf.WriteString(record.CodeHash)

	return buf.Bytes(), nil
}

func decodeLoginChallenge(data []byte) (*LoginChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != loginRecordVersionV1 {
		return nil, errors.New("invalid login challenge version")
	}

	record := &LoginChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var hashLen uint16
	if err := binary.Read(reader, binary.BigEndian, &hashLen); err != nil {
		return nil, err
	}
	hash := make([]byte, hashLen)
	if _, err := io.ReadFull(reader, hash); err != nil {
		return nil, err
	}
	record.CodeHash = string(hash)

	return record, nil
}
