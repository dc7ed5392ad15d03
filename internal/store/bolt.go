package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"collabnotes/api/internal/delta"
	bolt "go.etcd.io/bbolt"
)

var documentsBucket = []byte("documents")

// BoltStore keeps documents in a single-file embedded database.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(documentsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(_ context.Context, id string) (Document, error) {
	var payload []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(documentsBucket).Get([]byte(id)); v != nil {
			payload = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Document{}, storeError("load", id, err)
	}
	if payload == nil {
		return Document{}, ErrNotFound
	}
	doc, err := decodeRecord(id, payload)
	if err != nil {
		return Document{}, storeError("load", id, err)
	}
	return doc, nil
}

func (s *BoltStore) Create(_ context.Context, id string, content delta.Delta) (Document, error) {
	ts := now()
	payload, err := encodeRecord(content, ts)
	if err != nil {
		return Document{}, storeError("create", id, err)
	}

	var existing []byte
	err = s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)
		if v := bucket.Get([]byte(id)); v != nil {
			existing = append([]byte(nil), v...)
			return nil
		}
		return bucket.Put([]byte(id), payload)
	})
	if err != nil {
		return Document{}, storeError("create", id, err)
	}
	if existing != nil {
		doc, err := decodeRecord(id, existing)
		if err != nil {
			return Document{}, storeError("create", id, err)
		}
		return doc, nil
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *BoltStore) Save(_ context.Context, id string, content delta.Delta) (Document, error) {
	ts := now()
	payload, err := encodeRecord(content, ts)
	if err != nil {
		return Document{}, storeError("save", id, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).Put([]byte(id), payload)
	})
	if err != nil {
		return Document{}, storeError("save", id, err)
	}
	return Document{ID: id, Content: content, LastModified: ts}, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	found := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(documentsBucket)
		if bucket.Get([]byte(id)) == nil {
			return nil
		}
		found = true
		return bucket.Delete([]byte(id))
	})
	if err != nil {
		return storeError("delete", id, err)
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error {
		if tx.Bucket(documentsBucket) == nil {
			return fmt.Errorf("documents bucket missing")
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) SearchText(_ context.Context, query string, limit int) ([]Document, error) {
	needle := strings.ToLower(query)
	var docs []Document
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(documentsBucket).ForEach(func(k, v []byte) error {
			doc, err := decodeRecord(string(k), v)
			if err != nil {
				return err
			}
			if matchesText(doc, needle) {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, storeError("search", "", err)
	}
	return newestFirst(docs, limit), nil
}
