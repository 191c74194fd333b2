package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

const (
	// Positions filled longer than this ago are purged by Cleanup.
	positionRetention = time.Hour
	// Positions older than this are dropped at load time.
	positionMaxAge = 24 * time.Hour
)

// PositionStore persists positions as line-delimited JSON, one file per
// exchange. Malformed lines are skipped on load, never aborting the whole
// file.
type PositionStore struct {
	dir       string
	logger    *zap.Logger
	positions map[string][]*domain.Position
	nowFn     func() time.Time
}

func NewPositionStore(dir string, logger *zap.Logger) (*PositionStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create positions dir: %w", err)
	}
	return &PositionStore{
		dir:       dir,
		logger:    logger,
		positions: make(map[string][]*domain.Position),
		nowFn:     time.Now,
	}, nil
}

func (s *PositionStore) filename(exchange string) string {
	return filepath.Join(s.dir, "open_positions_"+exchange+".jsonl")
}

// Load reads the exchange's position file, dropping malformed lines and
// records older than 24 hours. The surviving set becomes the working set.
func (s *PositionStore) Load(exchange string) ([]*domain.Position, error) {
	f, err := os.Open(s.filename(exchange))
	if err != nil {
		if os.IsNotExist(err) {
			s.positions[exchange] = nil
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	cutoff := s.nowFn().Add(-positionMaxAge)
	var kept []*domain.Position
	skipped := 0
	total := 0

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		total++
		var pos domain.Position
		if err := json.Unmarshal(line, &pos); err != nil {
			skipped++
			continue
		}
		if pos.Timestamp.Before(cutoff) {
			continue
		}
		kept = append(kept, &pos)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn("Skipped malformed position records",
			zap.String("exchange", exchange), zap.Int("skipped", skipped))
	}

	s.positions[exchange] = kept
	if len(kept) < total {
		if err := s.persist(exchange); err != nil {
			s.logger.Error("Failed to rewrite filtered positions", zap.Error(err))
		}
	}
	return kept, nil
}

func (s *PositionStore) persist(exchange string) error {
	tmp := s.filename(exchange) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, pos := range s.positions[exchange] {
		line, err := json.Marshal(pos)
		if err != nil {
			f.Close()
			return err
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.filename(exchange))
}

func (s *PositionStore) Add(pos *domain.Position) error {
	s.positions[pos.Exchange] = append(s.positions[pos.Exchange], pos)
	return s.persist(pos.Exchange)
}

// UpdateStatus flips the status of the position identified by
// (orderID, exchange). A filled position never goes back to open.
func (s *PositionStore) UpdateStatus(orderID, exchange string, status domain.PositionStatus) (bool, error) {
	for _, pos := range s.positions[exchange] {
		if pos.OrderID != orderID {
			continue
		}
		if pos.Status == domain.PositionFilled && status == domain.PositionOpen {
			return false, fmt.Errorf("position %s already filled", orderID)
		}
		pos.Status = status
		if status == domain.PositionFilled {
			pos.FilledAt = s.nowFn()
		}
		return true, s.persist(exchange)
	}
	return false, nil
}

// Cleanup removes positions filled longer than an hour ago, persisting only
// when something changed.
func (s *PositionStore) Cleanup(exchange string) (int, error) {
	cutoff := s.nowFn().Add(-positionRetention)
	current := s.positions[exchange]
	kept := current[:0:0]
	for _, pos := range current {
		if pos.Status == domain.PositionFilled && !pos.FilledAt.IsZero() && pos.FilledAt.Before(cutoff) {
			continue
		}
		kept = append(kept, pos)
	}
	removed := len(current) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	s.positions[exchange] = kept
	return removed, s.persist(exchange)
}

func (s *PositionStore) OpenForPair(exchange, pair string) []*domain.Position {
	var out []*domain.Position
	for _, pos := range s.positions[exchange] {
		if pos.Pair == pair && pos.Status == domain.PositionOpen {
			out = append(out, pos)
		}
	}
	return out
}
