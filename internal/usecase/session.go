package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vitos/subcent_bot/internal/domain"
	"go.uber.org/zap"
)

// SessionWriter flushes the session summary at shutdown: a human-readable
// text file in the sessions directory and a row in the session history.
type SessionWriter struct {
	dir     string
	history domain.SessionRepository // nil when history is disabled
	logger  *zap.Logger
}

func NewSessionWriter(dir string, history domain.SessionRepository, logger *zap.Logger) *SessionWriter {
	return &SessionWriter{dir: dir, history: history, logger: logger}
}

func (w *SessionWriter) Flush(ctx context.Context, snap domain.SessionSnapshot) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}

	name := "session_" + snap.StartTime.Format("20060102_150405") + ".txt"
	path := filepath.Join(w.dir, name)
	if err := os.WriteFile(path, []byte(w.render(snap)), 0o644); err != nil {
		return fmt.Errorf("failed to write session summary: %w", err)
	}
	w.logger.Info("Session summary written", zap.String("path", path))

	if w.history != nil {
		if err := w.history.SaveSession(ctx, &snap); err != nil {
			w.logger.Error("Failed to save session history", zap.Error(err))
		}
	}
	return nil
}

func (w *SessionWriter) render(snap domain.SessionSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TRADING SESSION SUMMARY\n")
	fmt.Fprintf(&b, "=======================\n")
	fmt.Fprintf(&b, "Start:            %s\n", snap.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "End:              %s\n", snap.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Duration:         %s\n", snap.EndTime.Sub(snap.StartTime).Round(1e9))
	fmt.Fprintf(&b, "Shutdown reason:  %s\n\n", snap.ShutdownReason)

	fmt.Fprintf(&b, "Orders placed:    %d\n", snap.OrdersPlaced)
	fmt.Fprintf(&b, "Orders filled:    %d\n", snap.OrdersFilled)
	fmt.Fprintf(&b, "Total trades:     %d (%d buys, %d sells)\n",
		snap.TotalTrades, snap.BuyTrades, snap.SellTrades)
	fmt.Fprintf(&b, "Total volume:     %.8f\n", snap.TotalVolume)
	fmt.Fprintf(&b, "Total fees:       %.8f\n", snap.TotalFees)
	fmt.Fprintf(&b, "Realized P&L:     %.8f\n", snap.TotalProfitLoss)
	fmt.Fprintf(&b, "Win rate:         %.1f%% (%d wins, %d losses)\n",
		snap.WinRate, snap.WinningTrades, snap.LosingTrades)
	fmt.Fprintf(&b, "Errors:           %d\n", snap.ErrorsEncountered)

	if len(snap.PairsTraded) > 0 {
		pairs := append([]string(nil), snap.PairsTraded...)
		sort.Strings(pairs)
		fmt.Fprintf(&b, "Pairs traded:     %s\n", strings.Join(pairs, ", "))
	}

	if len(snap.TradesPerExchange) > 0 {
		fmt.Fprintf(&b, "\nPer exchange:\n")
		names := make([]string, 0, len(snap.TradesPerExchange))
		for name := range snap.TradesPerExchange {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "  %-10s trades=%d profit=%.8f\n",
				name, snap.TradesPerExchange[name], snap.ProfitPerExchange[name])
		}
	}
	return b.String()
}
