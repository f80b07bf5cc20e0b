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

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Store backends selectable through STORE_BACKEND
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config represents the application configuration
type Config struct {
	StoreBackend string
	AssetsFile   string
	BotUsername  string

	Database  DatabaseConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Oracle    OracleConfig
	Fees      FeeConfig
	Formance  FormanceConfig
	Admin     AdminConfig
	Server    ServerConfig
	Logging   LoggingConfig
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	BusyTimeout     time.Duration
}

// PostgresConfig holds pgx pool settings
type PostgresConfig struct {
	DSN         string
	MaxConns    int32
	PingTimeout time.Duration
}

// RedisConfig enables the distributed poll lock and the event channel when URL is set
type RedisConfig struct {
	URL           string
	EventsChannel string
}

// SchedulerConfig holds poll scheduler settings
type SchedulerConfig struct {
	PollInterval time.Duration
	Workers      int
	GracePeriod  time.Duration
	LockTTL      time.Duration
}

// OracleConfig holds explorer endpoints and call budgets
type OracleConfig struct {
	Timeout          time.Duration
	MaxRetries       int
	BlockCypherURL   string
	BlockCypherToken string
	EtherscanURL     string
	EtherscanAPIKey  string
	EtherscanChainId string
	USDTContract     string
	RequestsPerSec   float64
}

// FeeConfig holds fallbacks used when the settings table has no value
type FeeConfig struct {
	DefaultPercent decimal.Decimal
	DefaultMinFee  decimal.Decimal
}

// FormanceConfig enables the settlement journal when StackURL is set
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
}

// AdminConfig lists identities allowed to override, resolve and delete escrows
type AdminConfig struct {
	AdminIds []string
}

// ServerConfig holds the ops HTTP server settings
type ServerConfig struct {
	MetricsAddr string
}

// LoggingConfig holds optional file logging
type LoggingConfig struct {
	File       string
	MaxSizeMB  int
	MaxBackups int
	Debug      bool
}
