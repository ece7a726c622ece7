package attestation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "concord:attestation"

// RedisStore implements the Store interface on Redis. Each attestation is a JSON
// string; a key index maps the identity triple to the ID, a set per subject and
// guideline lists IDs, and a sorted set scored by creation time orders all of them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis server at redisURL. A positive ttl expires
// attestations that are not updated within it.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func recordKey(id string) string {
	return redisPrefix + ":" + id
}

func identityKey(subjectID, guideline, variableID string) string {
	return redisPrefix + ":key:" + subjectID + "|" + guideline + "|" + variableID
}

func subjectKey(subjectID, guideline string) string {
	return redisPrefix + ":subject:" + subjectID + "|" + guideline
}

func allKey() string {
	return redisPrefix + ":all"
}

// Save stores or updates an attestation.
func (s *RedisStore) Save(ctx context.Context, a *Attestation) error {
	if err := validateAttestation(a); err != nil {
		return err
	}

	existing, err := s.Get(ctx, a.SubjectID, a.Guideline, a.VariableID)
	if err != nil {
		return fmt.Errorf("failed to check existing: %w", err)
	}
	now := time.Now().UTC()
	if existing != nil {
		a.ID = existing.ID
		a.CreatedAt = existing.CreatedAt
		a.UpdatedAt = now
	} else {
		prepare(a, now)
	}

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal attestation: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, recordKey(a.ID), data, s.ttl)
		pipe.Set(ctx, identityKey(a.SubjectID, a.Guideline, a.VariableID), a.ID, s.ttl)
		pipe.SAdd(ctx, subjectKey(a.SubjectID, a.Guideline), a.ID)
		pipe.ZAdd(ctx, allKey(), redis.Z{Score: float64(a.CreatedAt.UnixNano()), Member: a.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save attestation: %w", err)
	}
	return nil
}

func (s *RedisStore) byID(ctx context.Context, id string) (*Attestation, error) {
	val, err := s.client.Get(ctx, recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
	var a Attestation
	if err := json.Unmarshal(val, &a); err != nil {
		return nil, fmt.Errorf("failed to decode attestation %s: %w", id, err)
	}
	return &a, nil
}

// byIDs loads attestations in order, skipping IDs whose record has expired.
func (s *RedisStore) byIDs(ctx context.Context, ids []string) ([]*Attestation, error) {
	var out []*Attestation
	for _, id := range ids {
		a, err := s.byID(ctx, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

// Get returns the attestation for the triple, or nil.
func (s *RedisStore) Get(ctx context.Context, subjectID, guideline, variableID string) (*Attestation, error) {
	id, err := s.client.Get(ctx, identityKey(subjectID, guideline, variableID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
	return s.byID(ctx, id)
}

// ListForSubject returns the subject's attestations for a guideline, by variable id.
func (s *RedisStore) ListForSubject(ctx context.Context, subjectID, guideline string) ([]*Attestation, error) {
	ids, err := s.client.SMembers(ctx, subjectKey(subjectID, guideline)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	out, err := s.byIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sortByVariable(out)
	return out, nil
}

// List returns attestations newest first with pagination.
func (s *RedisStore) List(ctx context.Context, limit, offset int) ([]*Attestation, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, allKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list attestations: %w", err)
	}
	return s.byIDs(ctx, ids)
}

// Count returns the total number of attestations. With a TTL it also counts entries
// whose record has since expired.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, allKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count attestations: %w", err)
	}
	return n, nil
}

// Delete removes an attestation by ID.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	a, err := s.byID(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, recordKey(id))
		pipe.ZRem(ctx, allKey(), id)
		if a != nil {
			pipe.Del(ctx, identityKey(a.SubjectID, a.Guideline, a.VariableID))
			pipe.SRem(ctx, subjectKey(a.SubjectID, a.Guideline), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete attestation: %w", err)
	}
	return nil
}

// ExportJSON exports all attestations to a JSON writer.
func (s *RedisStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	return exportJSON(ctx, s, writer)
}

// ImportJSON imports attestations from a JSON reader.
func (s *RedisStore) ImportJSON(ctx context.Context, reader io.Reader) (int, int, error) {
	return importJSON(ctx, s, reader)
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
