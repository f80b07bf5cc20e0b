/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	busyTimeout, err := getEnvDuration("DB_BUSY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	pollInterval, err := getEnvDuration("POLL_INTERVAL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	gracePeriod, err := getEnvDuration("POLL_GRACE_PERIOD", 30*time.Second)
	if err != nil {
		return nil, err
	}

	lockTTL, err := getEnvDuration("POLL_LOCK_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	oracleTimeout, err := getEnvDuration("ORACLE_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	feePercent, err := getEnvDecimal("DEFAULT_FEE_PERCENT", decimal.NewFromInt(5))
	if err != nil {
		return nil, err
	}

	minFee, err := getEnvDecimal("DEFAULT_MIN_FEE", decimal.NewFromInt(5))
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(getEnvString("STORE_BACKEND", models.BackendSQLite))
	if backend != models.BackendSQLite && backend != models.BackendPostgres {
		return nil, fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", backend, models.BackendSQLite, models.BackendPostgres)
	}

	return &models.Config{
		StoreBackend: backend,
		AssetsFile:   getEnvString("ASSETS_FILE", "assets.yaml"),
		BotUsername:  getEnvString("BOT_USERNAME", ""),
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "escrow.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
			BusyTimeout:     busyTimeout,
		},
		Postgres: models.PostgresConfig{
			DSN:         getEnvString("POSTGRES_DSN", ""),
			MaxConns:    int32(getEnvInt("POSTGRES_MAX_CONNS", 0)),
			PingTimeout: pingTimeout,
		},
		Redis: models.RedisConfig{
			URL:           getEnvString("REDIS_URL", ""),
			EventsChannel: getEnvString("REDIS_EVENTS_CHANNEL", "escrow-events"),
		},
		Scheduler: models.SchedulerConfig{
			PollInterval: pollInterval,
			Workers:      getEnvInt("POLL_WORKERS", 4),
			GracePeriod:  gracePeriod,
			LockTTL:      lockTTL,
		},
		Oracle: models.OracleConfig{
			Timeout:          oracleTimeout,
			MaxRetries:       getEnvInt("ORACLE_MAX_RETRIES", 3),
			BlockCypherURL:   getEnvString("BLOCKCYPHER_URL", ""),
			BlockCypherToken: getEnvString("BLOCKCYPHER_TOKEN", ""),
			EtherscanURL:     getEnvString("ETHERSCAN_URL", ""),
			EtherscanAPIKey:  getEnvString("ETHERSCAN_API_KEY", ""),
			EtherscanChainId: getEnvString("ETHERSCAN_CHAIN_ID", "1"),
			USDTContract:     getEnvString("USDT_CONTRACT", ""),
			RequestsPerSec:   getEnvFloat("ORACLE_REQUESTS_PER_SEC", 0),
		},
		Fees: models.FeeConfig{
			DefaultPercent: feePercent,
			DefaultMinFee:  minFee,
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "p2p-escrow-mediator"),
		},
		Admin: models.AdminConfig{
			AdminIds: getEnvList("ADMIN_IDS"),
		},
		Server: models.ServerConfig{
			MetricsAddr: getEnvString("METRICS_ADDR", ":9090"),
		},
		Logging: models.LoggingConfig{
			File:       getEnvString("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
			Debug:      getEnvBool("LOG_DEBUG", false),
		},
	}, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) (decimal.Decimal, error) {
	if value := os.Getenv(key); value != "" {
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid decimal for %s: %q (%w)", key, value, err)
		}
		if d.IsNegative() {
			return decimal.Zero, fmt.Errorf("%s cannot be negative: %q", key, value)
		}
		return d, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
