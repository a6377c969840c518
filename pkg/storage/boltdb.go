package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/eventsync/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// bucketStreams holds one nested bucket per stream
	bucketStreams = []byte("streams")
	// bucketMeta holds cache metadata
	bucketMeta = []byte("meta")

	keyFormat = []byte("format")
)

// formatVersion changes whenever the record encoding changes
const formatVersion = "1"

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) <dataDir>/eventsync.db
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "eventsync.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStreams, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		format := meta.Get(keyFormat)
		if format != nil && string(format) != formatVersion {
			// incompatible cache, start empty
			if err := tx.DeleteBucket(bucketStreams); err != nil {
				return fmt.Errorf("failed to reset cache: %w", err)
			}
			if _, err := tx.CreateBucket(bucketStreams); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucketStreams, err)
			}
		}
		return meta.Put(keyFormat, []byte(formatVersion))
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// SaveRecord upserts a record into its stream bucket
func (s *BoltStore) SaveRecord(rec types.MirrorRecord) error {
	if rec.Stream == "" || rec.Key == "" {
		return errors.New("record needs a stream and a key")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketStreams).CreateBucketIfNotExists([]byte(rec.Stream))
		if err != nil {
			return fmt.Errorf("failed to create stream bucket %s: %w", rec.Stream, err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.Key), data)
	})
}

// GetRecord returns one record
func (s *BoltStore) GetRecord(stream, key string) (*types.MirrorRecord, error) {
	var rec types.MirrorRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams).Bucket([]byte(stream))
		if b == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, stream, key)
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s/%s", ErrNotFound, stream, key)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// LoadRecords returns every record of a stream in key order
func (s *BoltStore) LoadRecords(stream string) ([]types.MirrorRecord, error) {
	var records []types.MirrorRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStreams).Bucket([]byte(stream))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var rec types.MirrorRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to decode %s/%s: %w", stream, k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	return records, err
}

// DeleteStream drops every record of a stream
func (s *BoltStore) DeleteStream(stream string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketStreams).DeleteBucket([]byte(stream))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Streams lists the stream buckets
func (s *BoltStore) Streams() ([]string, error) {
	var streams []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStreams).ForEachBucket(func(k []byte) error {
			streams = append(streams, string(k))
			return nil
		})
	})
	return streams, err
}
