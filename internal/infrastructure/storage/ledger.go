package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// TradeLog is the append-only trade ledger, one JSON record per line. The
// file is only rewritten in place when matched-volume bookkeeping changes.
type TradeLog struct {
	path   string
	logger *zap.Logger
}

func NewTradeLog(path string, logger *zap.Logger) *TradeLog {
	return &TradeLog{path: path, logger: logger}
}

func (l *TradeLog) Append(rec *domain.TradeRecord) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append trade record: %w", err)
	}
	return nil
}

// All loads every readable record; malformed lines are skipped.
func (l *TradeLog) All() ([]*domain.TradeRecord, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []*domain.TradeRecord
	skipped := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec domain.TradeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			skipped++
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		l.logger.Warn("Skipped malformed trade records", zap.Int("skipped", skipped))
	}
	return records, nil
}

// UpdateMatched rewrites the ledger applying the matched-volume state of
// the given buy records, keyed by order ID.
func (l *TradeLog) UpdateMatched(updated []*domain.TradeRecord) error {
	if len(updated) == 0 {
		return nil
	}
	byID := make(map[string]*domain.TradeRecord, len(updated))
	for _, rec := range updated {
		byID[rec.OrderID] = rec
	}

	records, err := l.All()
	if err != nil {
		return err
	}
	changed := 0
	for _, rec := range records {
		upd, ok := byID[rec.OrderID]
		if !ok || rec.Type != domain.SideBuy || rec.Pair != upd.Pair {
			continue
		}
		rec.MatchedVolume = upd.MatchedVolume
		rec.FullyMatched = upd.FullyMatched
		changed++
	}
	if changed == 0 {
		return nil
	}

	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, rec := range records {
		line, err := json.Marshal(rec)
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
	return os.Rename(tmp, l.path)
}
