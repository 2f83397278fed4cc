package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	http_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/http"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// 支援的 Ledger Store 後端
const (
	BackendMemory = "memory"
	BackendMySQL  = "mysql"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Ledger struct {
		Backend     string        `yaml:"backend"`
		WALPath     string        `yaml:"wal_path"`
		LockTimeout time.Duration `yaml:"lock_timeout"`
	} `yaml:"ledger"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	MySQL mysql.Config `yaml:"mysql"`
}

func main() {
	// 1. 載入設定 (.env 先於 yaml，環境變數可覆寫)
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on system env vars")
	}
	cfg := loadConfig()

	zlog, err := logger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// 2. 初始化 Ledger Store
	var ledger usecase.Ledger
	switch cfg.Ledger.Backend {
	case BackendMySQL:
		dbClient, err := mysql.NewClient(cfg.MySQL)
		if err != nil {
			zlog.Fatal("failed to connect to mysql", zap.Error(err))
		}
		defer func() { _ = dbClient.Close() }()
		zlog.Info("connected to mysql")

		ledger, err = mysql_adapter.NewMySQLLedger(dbClient)
		if err != nil {
			zlog.Fatal("failed to init mysql ledger", zap.Error(err))
		}
	case BackendMemory:
		walFile, err := wal.Open(cfg.Ledger.WALPath)
		if err != nil {
			zlog.Fatal("failed to open wal", zap.Error(err))
		}
		defer func() { _ = walFile.Close() }()

		memLedger, err := memory_adapter.NewMemoryLedger(walFile)
		if err != nil {
			zlog.Fatal("failed to init memory ledger", zap.Error(err))
		}
		zlog.Info("memory ledger recovered from wal", zap.String("path", cfg.Ledger.WALPath))
		ledger = memLedger
	default:
		zlog.Fatal("invalid ledger backend", zap.String("backend", cfg.Ledger.Backend))
	}

	// 3. 組裝核心：Guard -> Engine / Query
	guard := usecase.NewAccountGuard(ledger, cfg.Ledger.LockTimeout)
	engine := usecase.NewEngine(ledger, guard, zlog)
	query := usecase.NewQuery(ledger, guard, zlog)

	// 4. REST in-adapter
	server := http_adapter.NewServer(engine, query, zlog)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		zlog.Info("starting http server", zap.String("addr", cfg.Server.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		zlog.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			zlog.Error("shutdown error", zap.Error(err))
		}
		zlog.Info("server exited")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}
}

func loadConfig() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfgData, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(cfgData, &cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	// 補全預設配置 (如果 yaml 沒寫)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendMemory
	}
	if cfg.Ledger.WALPath == "" {
		cfg.Ledger.WALPath = "wal.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.MySQL.MaxOpenConns == 0 {
		cfg.MySQL.MaxOpenConns = 100
	}
	if cfg.MySQL.MaxIdleConns == 0 {
		cfg.MySQL.MaxIdleConns = 10
	}
	if cfg.MySQL.ConnMaxLifetime == 0 {
		cfg.MySQL.ConnMaxLifetime = 30 * time.Minute
	}
	return cfg
}
