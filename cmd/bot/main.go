package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/subcent_bot/internal/config"
	"github.com/vitos/subcent_bot/internal/domain"
	"github.com/vitos/subcent_bot/internal/infrastructure/exchange"
	"github.com/vitos/subcent_bot/internal/infrastructure/logger"
	"github.com/vitos/subcent_bot/internal/infrastructure/storage"
	"github.com/vitos/subcent_bot/internal/usecase"
	"github.com/vitos/subcent_bot/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Init Storage
	positions, err := storage.NewPositionStore(cfg.Storage.TradeLogsDir, log)
	if err != nil {
		log.Fatal("Failed to init position store", zap.Error(err))
	}
	// Trade activity additionally goes to a file in the trade logs dir so
	// fills survive log rotation on stderr.
	auditLog, err := logger.NewFileLogger(cfg.Storage.TradeLogsDir+"/trades.log", cfg.Logging.Level)
	if err != nil {
		log.Warn("Trade audit log unavailable, using main logger", zap.Error(err))
		auditLog = log
	}
	trades := storage.NewTradeLog(cfg.Storage.TradeLogsDir+"/trades.jsonl", auditLog)
	marks := storage.NewOrderMarkStore(cfg.Storage.TradeLogsDir + "/recorded_orders.txt")

	history, err := storage.NewSessionStore(cfg.Storage.SessionDB)
	if err != nil {
		log.Fatal("Failed to init session store", zap.Error(err))
	}
	defer history.Close()

	// 4. Init Exchanges
	exchanges := make(map[string]domain.Exchange)
	if cfg.Kraken.Enabled {
		kraken, err := exchange.NewKraken(cfg.Kraken.APIKey, cfg.Kraken.APISecret, "")
		if err != nil {
			log.Error("Failed to init kraken", zap.Error(err))
		} else {
			exchanges[kraken.Name()] = kraken
		}
	}
	if cfg.BitMart.Enabled {
		bitmart := exchange.NewBitMart(cfg.BitMart.APIKey, cfg.BitMart.APISecret, cfg.BitMart.Memo, "")
		exchanges[bitmart.Name()] = bitmart
	}
	if len(exchanges) == 0 {
		log.Fatal("No exchange initialized")
	}

	// 5. Load persisted positions
	for name := range exchanges {
		if _, err := positions.Load(name); err != nil {
			log.Error("Failed to load positions", zap.String("exchange", name), zap.Error(err))
		}
	}

	// 6. Init Web Server (display collaborator)
	server := web.NewServer(cfg.Server.Port, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Error("Web server failed", zap.Error(err))
		}
	}()

	// 7. Init Trader
	trader := usecase.NewTrader(cfg, exchanges, positions, marks, trades, history, nil, server, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 8. Run until interrupted; the trader flushes the session summary on
	// the way out regardless of why it stopped.
	if err := trader.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Trading stopped", zap.Error(err))
	}

	log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	server.Shutdown(shutdownCtx)
}
