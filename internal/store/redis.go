package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"collabnotes/api/internal/delta"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each document as one JSON value under "doc:<id>".
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore parses redisURL and verifies the server is reachable.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "doc:",
	}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

func (s *RedisStore) Load(ctx context.Context, id string) (Document, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, storeError("load", id, err)
	}
	doc, err := decodeRecord(id, payload)
	if err != nil {
		return Document{}, storeError("load", id, err)
	}
	return doc, nil
}

func (s *RedisStore) Create(ctx context.Context, id string, content delta.Delta) (Document, error) {
	ts := now()
	payload, err := encodeRecord(content, ts)
	if err != nil {
		return Document{}, storeError("create", id, err)
	}
	created, err := s.client.SetNX(ctx, s.key(id), payload, 0).Result()
	if err != nil {
		return Document{}, storeError("create", id, err)
	}
	if !created {
		return s.Load(ctx, id)
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *RedisStore) Save(ctx context.Context, id string, content delta.Delta) (Document, error) {
	ts := now()
	payload, err := encodeRecord(content, ts)
	if err != nil {
		return Document{}, storeError("save", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), payload, 0).Err(); err != nil {
		return Document{}, storeError("save", id, err)
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return storeError("delete", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SearchText(ctx context.Context, query string, limit int) ([]Document, error) {
	needle := strings.ToLower(query)
	var docs []Document
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, storeError("search", "", err)
		}
		doc, err := decodeRecord(strings.TrimPrefix(key, s.prefix), payload)
		if err != nil {
			return nil, storeError("search", "", err)
		}
		if matchesText(doc, needle) {
			docs = append(docs, doc)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, storeError("search", "", err)
	}
	return newestFirst(docs, limit), nil
}
