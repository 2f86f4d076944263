package customers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// FileStore keeps customer records in a CSV file, one record per row.
//
// The whole table is loaded at construction and held in memory; reads are
// served from memory and every mutation rewrites the file through a
// temporary sibling followed by an atomic rename. A failed write never
// touches the existing file, so the prior state survives any persistence
// fault. Single-process ownership of the file is assumed.
type FileStore struct {
	path string

	mu    sync.Mutex
	recs  map[string]Customer
	order []string
	clock func() time.Time
}

var csvHeader = []string{
	"customer_id", "name", "mobile", "email", "status",
	"order_details", "expected_arrival_time", "arrival_confirmed",
	"last_call_time", "last_call_id", "remarks",
	"call_in_flight", "call_attempts", "notified",
	"created_at", "updated_at",
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty file path", ErrStorage)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %w", ErrStorage, err)
		}
	}
	s := &FileStore{
		path:  path,
		recs:  make(map[string]Customer),
		clock: time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// First run; the file appears with the first record.
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, s.path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrStorage, s.path, err)
	}
	if len(rows) == 0 {
		return nil
	}
	if len(rows[0]) != len(csvHeader) {
		return fmt.Errorf("%w: %s: expected %d columns, found %d", ErrStorage, s.path, len(csvHeader), len(rows[0]))
	}
	for i, row := range rows[1:] {
		c, err := unmarshalRow(row)
		if err != nil {
			return fmt.Errorf("%w: %s row %d: %w", ErrStorage, s.path, i+2, err)
		}
		s.recs[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	return nil
}

// flushLocked writes every record to a temporary file in the data directory
// and renames it over the current file. Callers hold s.mu and must apply
// their in-memory mutation only after flushLocked returns nil.
func (s *FileStore) flushLocked(recs map[string]Customer, order []string) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp file: %w", ErrStorage, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("%w: write header: %w", ErrStorage, err)
	}
	for _, id := range order {
		if err := w.Write(marshalRow(recs[id])); err != nil {
			return fmt.Errorf("%w: write row: %w", ErrStorage, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("%w: flush rows: %w", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("%w: sync temp file: %w", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close temp file: %w", ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("%w: replace %s: %w", ErrStorage, s.path, err)
	}
	return nil
}

func (s *FileStore) Create(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	if _, ok := s.recs[c.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidRecord, c.ID)
	}
	next := make(map[string]Customer, len(s.recs)+1)
	for id, rec := range s.recs {
		next[id] = rec
	}
	next[c.ID] = c
	order := append(append([]string(nil), s.order...), c.ID)
	if err := s.flushLocked(next, order); err != nil {
		return err
	}
	s.recs = next
	s.order = order
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.recs[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}

func (s *FileStore) List(ctx context.Context) ([]Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Customer, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.recs[id])
	}
	return out, nil
}

func (s *FileStore) Update(ctx context.Context, id string, p Patch) (Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.recs[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	updated := p.apply(cur, s.clock().UTC())
	next := make(map[string]Customer, len(s.recs))
	for rid, rec := range s.recs {
		next[rid] = rec
	}
	next[id] = updated
	if err := s.flushLocked(next, s.order); err != nil {
		return Customer{}, err
	}
	s.recs = next
	return updated, nil
}

func marshalRow(c Customer) []string {
	return []string{
		c.ID,
		c.Name,
		c.Mobile,
		c.Email,
		string(c.Status),
		c.OrderDetails,
		formatTimePtr(c.ExpectedArrivalTime),
		strconv.FormatBool(c.ArrivalConfirmed),
		formatTimePtr(c.LastCallTime),
		c.LastCallID,
		c.Remarks,
		strconv.FormatBool(c.CallInFlight),
		strconv.Itoa(c.CallAttempts),
		strconv.FormatBool(c.Notified),
		c.CreatedAt.UTC().Format(time.RFC3339Nano),
		c.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func unmarshalRow(row []string) (Customer, error) {
	if len(row) != len(csvHeader) {
		return Customer{}, fmt.Errorf("expected %d columns, found %d", len(csvHeader), len(row))
	}
	var c Customer
	c.ID = row[0]
	c.Name = row[1]
	c.Mobile = row[2]
	c.Email = row[3]
	c.Status = Status(row[4])
	if !ValidStatus(c.Status) {
		return Customer{}, fmt.Errorf("unknown status %q", row[4])
	}
	c.OrderDetails = row[5]

	var err error
	if c.ExpectedArrivalTime, err = parseTimePtr(row[6]); err != nil {
		return Customer{}, fmt.Errorf("expected_arrival_time: %w", err)
	}
	if c.ArrivalConfirmed, err = strconv.ParseBool(row[7]); err != nil {
		return Customer{}, fmt.Errorf("arrival_confirmed: %w", err)
	}
	if c.LastCallTime, err = parseTimePtr(row[8]); err != nil {
		return Customer{}, fmt.Errorf("last_call_time: %w", err)
	}
	c.LastCallID = row[9]
	c.Remarks = row[10]
	if c.CallInFlight, err = strconv.ParseBool(row[11]); err != nil {
		return Customer{}, fmt.Errorf("call_in_flight: %w", err)
	}
	if c.CallAttempts, err = strconv.Atoi(row[12]); err != nil {
		return Customer{}, fmt.Errorf("call_attempts: %w", err)
	}
	if c.Notified, err = strconv.ParseBool(row[13]); err != nil {
		return Customer{}, fmt.Errorf("notified: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, row[14]); err != nil {
		return Customer{}, fmt.Errorf("created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, row[15]); err != nil {
		return Customer{}, fmt.Errorf("updated_at: %w", err)
	}
	return c, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	t = t.UTC()
	return &t, nil
}
