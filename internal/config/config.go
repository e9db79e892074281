package config

import (
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	authConfig "github.com/Lomkaaa/M-Store-server/internal/auth/config"
	handlerConfig "github.com/Lomkaaa/M-Store-server/internal/handler/config"
	loggerConfig "github.com/Lomkaaa/M-Store-server/internal/logger/config"
	storeConfig "github.com/Lomkaaa/M-Store-server/internal/store/config"
	sweeperConfig "github.com/Lomkaaa/M-Store-server/internal/sweeper/config"
)

type Config struct {
	Handler handlerConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
	Sweeper sweeperConfig.Config
}

const (
	defaultServerAddr   = ":8080"
	defaultLogLevel     = "info"
	defaultInterval     = 5 * time.Minute
	defaultPendingAfter = 2 * time.Minute
	defaultPaidAfter    = 5 * time.Minute
	defaultShippedAfter = 20 * time.Minute
)

// GetConfig: значения из флагов, поверх них переменные окружения.
// .env подхватывается, если лежит рядом
func GetConfig() Config {
	_ = godotenv.Load()

	cfg := Config{
		Sweeper: sweeperConfig.Config{
			PendingAfter: defaultPendingAfter,
			PaidAfter:    defaultPaidAfter,
			ShippedAfter: defaultShippedAfter,
		},
	}

	flag.StringVar(&cfg.Handler.ServerAddr, "a", defaultServerAddr, "адрес сервера")
	flag.StringVar(&cfg.Store.DBDsn, "d", "", "строка подключения к БД")
	flag.StringVar(&cfg.Logger.LogLevel, "l", defaultLogLevel, "уровень логирования")
	flag.StringVar(&cfg.Auth.JWTSecret, "s", "mstore-secret", "секрет для подписи токенов")
	flag.DurationVar(&cfg.Sweeper.Interval, "i", defaultInterval, "период обновления статусов")
	flag.Parse()

	if addr := os.Getenv("RUN_ADDRESS"); addr != "" {
		cfg.Handler.ServerAddr = addr
	}
	if dsn := os.Getenv("DATABASE_URI"); dsn != "" {
		cfg.Store.DBDsn = dsn
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logger.LogLevel = lvl
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.Sweeper.Interval = d
		}
	}

	return cfg
}
