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

const resetRecordVersionV1 = 1

var (
	ErrResetChallengeNotFound = errors.New("reset challenge not found")
	ErrResetChallengeExpired  = errors.New("reset challenge expired")
	ErrResetChallengeExceeded = errors.New("reset challenge attempts exceeded")
	ErrResetChallengeBackend  = errors.New("reset challenge backend unavailable")
)

// ResetChallenge is one live password-reset challenge for a (role, email)
// pair. Verified records carry the hash of the single-use reset token and
// its own, shorter expiry.
type ResetChallenge struct {
	CodeHash       string
	OTPExpiresAt   int64
	Attempts       uint16
	Verified       bool
	ResetTokenHash [32]byte
	ResetExpiresAt int64
}

// Deadline is the embedded expiry relevant to the record's phase.
func (r *ResetChallenge) Deadline() int64 {
	if r.Verified {
		return r.ResetExpiresAt
	}
	return r.OTPExpiresAt
}

type ResetChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewResetChallengeStore(redisClient redis.UniversalClient, prefix string) *ResetChallengeStore {
	if prefix == "" {
		prefix = "ha"
	}
	return &ResetChallengeStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *ResetChallengeStore) key(role, email string) string {
	return s.prefix + ":rc:" + role + ":" + email
}

// Put replaces the challenge for (role, email) wholesale.
func (s *ResetChallengeStore) Put(
	ctx context.Context,
	role, email string,
	record *ResetChallenge,
	ttl time.Duration,
) error {
	encoded, err := encodeResetChallenge(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(role, email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetChallengeBackend, err)
	}
	return nil
}

// Get returns the live challenge. A record past the expiry of its current
// phase is deleted and reported as expired.
func (s *ResetChallengeStore) Get(ctx context.Context, role, email string) (*ResetChallenge, error) {
	key := s.key(role, email)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetChallengeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetChallengeBackend, err)
	}

	record, err := decodeResetChallenge(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() > record.Deadline() {
		_, _ = s.redis.Del(ctx, key).Result()
		return nil, ErrResetChallengeExpired
	}
	return record, nil
}

func (s *ResetChallengeStore) Delete(ctx context.Context, role, email string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(role, email)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrResetChallengeBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter of a pending challenge under
// a WATCH/MULTI transaction, deleting the record and reporting exceeded=true
// when the limit is reached.
func (s *ResetChallengeStore) RecordFailure(
	ctx context.Context,
	role, email string,
	maxAttempts int,
) (bool, error) {
	const maxRetries = 4
	key := s.key(role, email)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeResetChallenge(data)
			if err != nil {
				return err
			}
			if time.Now().Unix() > record.Deadline() {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetChallengeExpired
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

			ttl := time.Until(time.Unix(record.Deadline(), 0))
			if ttl <= 0 {
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetChallengeExpired
			}

			updated, err := encodeResetChallenge(record)
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
				return false, ErrResetChallengeNotFound
			}
			if errors.Is(err, ErrResetChallengeExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrResetChallengeBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrResetChallengeNotFound
}

func encodeResetChallenge(record *ResetChallenge) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(resetRecordVersionV1)

	var phase byte
	if record.Verified {
		phase = 1
	}
	buf.WriteByte(phase)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.OTPExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ResetExpiresAt); err != nil {
		return nil, err
	}

	if len(record.CodeHash) > 65535 {
		return nil, errors.New("reset challenge hash too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.CodeHash))); err != nil {
		return nil, err
	}
	buf.WriteString(record.CodeHash)
	buf.Write(record.ResetTokenHash[:])

	return buf.Bytes(), nil
}

func decodeResetChallenge(data []byte) (*ResetChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset challenge version")
	}

	phase, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &ResetChallenge{Verified: phase == 1}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.OTPExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ResetExpiresAt); err != nil {
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

	if _, err := io.ReadFull(reader, record.ResetTokenHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
