package storage

import (
	"github.com/cuemby/eventsync/pkg/types"
)

// Store persists committed mirror entries between runs
type Store interface {
	// Records
	SaveRecord(rec types.MirrorRecord) error
	LoadRecords(stream string) ([]types.MirrorRecord, error)
	GetRecord(stream, key string) (*types.MirrorRecord, error)
	DeleteStream(stream string) error

	// Streams lists every stream with at least one record
	Streams() ([]string, error)

	// Utility
	Close() error
}
