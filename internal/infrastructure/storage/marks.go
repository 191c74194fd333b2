package storage

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitos/subcent_bot/internal/domain"
)

// OrderMarkStore persists the recorded-order dedup file as pipe-separated
// tuples: order_id|timestamp|exchange|status.
type OrderMarkStore struct {
	path string
}

func NewOrderMarkStore(path string) *OrderMarkStore {
	return &OrderMarkStore{path: path}
}

func (s *OrderMarkStore) Load() (map[string]*domain.OrderMark, error) {
	marks := make(map[string]*domain.OrderMark)

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return marks, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 4 {
			continue
		}
		ts, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		marks[parts[0]] = &domain.OrderMark{
			OrderID:   parts[0],
			Timestamp: time.Unix(sec, nsec),
			Exchange:  parts[2],
			Status:    parts[3],
		}
	}
	return marks, scanner.Err()
}

func (s *OrderMarkStore) Save(marks map[string]*domain.OrderMark) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, m := range marks {
		ts := float64(m.Timestamp.UnixNano()) / 1e9
		fmt.Fprintf(w, "%s|%s|%s|%s\n",
			m.OrderID, strconv.FormatFloat(ts, 'f', -1, 64), m.Exchange, m.Status)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
