package report

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketRuns = "runs"

// HistoryRecord is the condensed result of one run.
type HistoryRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	StartTime   time.Time `json:"startTime"`
	DurationMs  float64   `json:"durationMs"`
	Passed      bool      `json:"passed"`
	Requests    int64     `json:"requests"`
	FailureRate float64   `json:"failureRate"`
	Iterations  int64     `json:"iterations"`
	PeakVUs     int       `json:"peakVUs"`

	// E2EP95 is absent when no iteration finished polling.
	E2EP95 *float64 `json:"e2eP95,omitempty"`
}

// RecordFromSummary condenses a summary into a history record.
func RecordFromSummary(s *Summary) HistoryRecord {
	rec := HistoryRecord{
		ID:         s.RunID,
		Name:       s.Name,
		StartTime:  s.StartTime,
		DurationMs: s.DurationMs,
		Passed:     s.Passed,
		PeakVUs:    s.PeakVUs,
	}
	if m, ok := s.Metrics["http_reqs"]; ok {
		rec.Requests = int64(m.Values["count"])
	}
	if m, ok := s.Metrics["iterations"]; ok {
		rec.Iterations = int64(m.Values["count"])
	}
	if m, ok := s.Metrics["http_req_failed"]; ok {
		rec.FailureRate = m.Values["rate"]
	}
	if m, ok := s.Metrics["e2e_time"]; ok && !m.Empty {
		if v, ok := m.Values["p(95)"]; ok {
			rec.E2EP95 = &v
		}
	}
	return rec
}

// HistoryStore keeps one record per run in a bbolt file.
type HistoryStore struct {
	db *bbolt.DB
}

// OpenHistory opens (or creates) the history file at path.
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history %s: %w", path, err)
	}

	return &HistoryStore{db: db}, nil
}

// Close closes the underlying file.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// historyKey sorts records by start time, then ID.
func historyKey(rec HistoryRecord) []byte {
	return []byte(fmt.Sprintf("%020d-%s", rec.StartTime.UnixNano(), rec.ID))
}

// Save stores rec, replacing any record with the same start time and ID.
func (h *HistoryStore) Save(rec HistoryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return h.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).Put(historyKey(rec), data)
	})
}

// List returns up to limit records, newest first. limit <= 0 returns all.
func (h *HistoryStore) List(limit int) ([]HistoryRecord, error) {
	var records []HistoryRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketRuns)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(records) >= limit {
				break
			}
			var rec HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode history record %s: %w", k, err)
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// Get returns the record with the given run ID.
func (h *HistoryStore) Get(id string) (*HistoryRecord, error) {
	var found *HistoryRecord
	err := h.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketRuns)).ForEach(func(_, v []byte) error {
			var rec HistoryRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if rec.ID == id {
				found = &rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return found, nil
}
