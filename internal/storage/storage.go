// Package storage keeps a local audit trail of served recommendations and
// model lifecycle events in BoltDB.
//
// Keys are zero-padded nanosecond timestamps followed by the record id, so a
// cursor walk returns records in time order and range queries are a single Seek.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const (
	predictionsBucket = "predictions"  // served recommendations
	eventsBucket      = "model_events" // reloads and retrain requests

	// DBFile is the BoltDB file name inside the data directory.
	DBFile = "forecast-audit.db"
)

// PredictionRecord is one served recommendation.
type PredictionRecord struct {
	ID            string             `json:"id"`
	Timestamp     time.Time          `json:"timestamp"`
	User          string             `json:"user"`
	ModelVersion  string             `json:"model_version"`
	Prediction    string             `json:"prediction"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	Features      map[string]float64 `json:"features"`
	Defaulted     []string           `json:"defaulted,omitempty"`
	Unmapped      []string           `json:"unmapped,omitempty"`
}

// ModelEvent is a reload or retrain request.
type ModelEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	User      string    `json:"user,omitempty"`
	Version   string    `json:"version,omitempty"`
	Success   bool      `json:"success"`
	Detail    string    `json:"detail,omitempty"`
}

// Store wraps the BoltDB handle.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the audit database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(eventsBucket)); err != nil {
			return fmt.Errorf("create events bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// OpenReadOnly opens an existing audit database for reading. It fails while
// another process holds it open for writing.
func OpenReadOnly(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("audit database: %w", err)
	}
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{ReadOnly: true, Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. Safe to call twice.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%019d_%s", ts.UnixNano(), id))
}

func boundKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%019d", ts.UnixNano()))
}

func (s *Store) put(bucket string, ts time.Time, id string, v any) error {
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put(recordKey(ts, id), data)
	})
}

// StorePrediction persists a served recommendation.
func (s *Store) StorePrediction(rec PredictionRecord) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	return s.put(predictionsBucket, rec.Timestamp, rec.ID, rec)
}

// StoreEvent persists a model lifecycle event.
func (s *Store) StoreEvent(ev ModelEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return s.put(eventsBucket, ev.Timestamp, ev.ID, ev)
}

// scan walks bucket from start to end inclusive, calling fn for each value.
func (s *Store) scan(bucket string, start, end time.Time, fn func(v []byte) error) error {
	if s.db == nil {
		return fmt.Errorf("store is closed")
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()

		startKey := boundKey(start)
		endKey := boundKey(end)

		for k, v := c.Seek(startKey); k != nil; k, v = c.Next() {
			if bytes.Compare(k[:min(len(k), len(endKey))], endKey) > 0 {
				break
			}
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetPredictionsInRange returns predictions with start <= ts <= end, oldest first.
func (s *Store) GetPredictionsInRange(start, end time.Time) ([]PredictionRecord, error) {
	var out []PredictionRecord
	err := s.ForEachPrediction(start, end, func(rec PredictionRecord) error {
		out = append(out, rec)
		return nil
	})
	return out, err
}

// ForEachPrediction streams predictions in range. Malformed records are skipped.
func (s *Store) ForEachPrediction(start, end time.Time, fn func(PredictionRecord) error) error {
	return s.scan(predictionsBucket, start, end, func(v []byte) error {
		var rec PredictionRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return nil
		}
		return fn(rec)
	})
}

// GetEventsInRange returns model events with start <= ts <= end, oldest first.
func (s *Store) GetEventsInRange(start, end time.Time) ([]ModelEvent, error) {
	var out []ModelEvent
	err := s.scan(eventsBucket, start, end, func(v []byte) error {
		var ev ModelEvent
		if err := json.Unmarshal(v, &ev); err != nil {
			return nil
		}
		out = append(out, ev)
		return nil
	})
	return out, err
}
