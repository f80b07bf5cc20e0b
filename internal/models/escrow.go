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
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Asset is one of the ledgers the mediator can watch
type Asset string

const (
	AssetBTC  Asset = "BTC"
	AssetLTC  Asset = "LTC"
	AssetETH  Asset = "ETH"
	AssetUSDT Asset = "USDT"
)

// SupportedAssets lists every asset in display order
var SupportedAssets = []Asset{AssetBTC, AssetLTC, AssetETH, AssetUSDT}

// ParseAsset normalizes a user supplied symbol ("btc", " USDT ") to an Asset
func ParseAsset(symbol string) (Asset, error) {
	a := Asset(strings.ToUpper(strings.TrimSpace(symbol)))
	for _, supported := range SupportedAssets {
		if a == supported {
			return a, nil
		}
	}
	return "", fmt.Errorf("unsupported asset %q", symbol)
}

func (a Asset) String() string { return string(a) }

// Status is the lifecycle position of an escrow
type Status string

const (
	StatusSetup           Status = "setup"
	StatusAwaitingSeller  Status = "awaiting_seller"
	StatusParticipantsSet Status = "participants_set"
	StatusAwaitingAsset   Status = "awaiting_asset"
	StatusAwaitingAmount  Status = "awaiting_amount"
	StatusAwaitingDeposit Status = "awaiting_deposit"
	StatusFunded          Status = "funded"
	StatusDisputed        Status = "disputed"
	StatusReleased        Status = "released"
	StatusCancelled       Status = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusCancelled
}

func (s Status) String() string { return string(s) }

// Role of an actor relative to one escrow
type Role string

const (
	RoleNone   Role = ""
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Escrow represents one trade between a buyer and a seller
type Escrow struct {
	Id              string          `db:"id" json:"id"`
	BuyerId         string          `db:"buyer_id" json:"buyer_id"`
	SellerId        string          `db:"seller_id" json:"seller_id,omitempty"`
	Asset           Asset           `db:"asset" json:"asset,omitempty"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Fee             decimal.Decimal `db:"fee" json:"fee"`
	NetAmount       decimal.Decimal `db:"net_amount" json:"net_amount"`
	Status          Status          `db:"status" json:"status"`
	Funded          bool            `db:"funded" json:"funded"`
	BuyerConfirmed  bool            `db:"buyer_confirmed" json:"buyer_confirmed"`
	SellerConfirmed bool            `db:"seller_confirmed" json:"seller_confirmed"`
	DisputedBy      string          `db:"disputed_by" json:"disputed_by,omitempty"`
	DisputedFrom    Status          `db:"disputed_from" json:"disputed_from,omitempty"`
	ResolvedBy      string          `db:"resolved_by" json:"resolved_by,omitempty"`
	Version         int64           `db:"version" json:"version"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// RoleOf resolves an actor to their role in this escrow
func (e *Escrow) RoleOf(actorId string) Role {
	switch {
	case actorId == "":
		return RoleNone
	case actorId == e.BuyerId:
		return RoleBuyer
	case e.SellerId != "" && actorId == e.SellerId:
		return RoleSeller
	default:
		return RoleNone
	}
}

// AmountLocked reports whether the fee policy has already priced this escrow
func (e *Escrow) AmountLocked() bool {
	return e.Amount.IsPositive()
}

// Clone returns a copy safe to mutate without touching the original
func (e *Escrow) Clone() *Escrow {
	c := *e
	return &c
}

// TransactionRecord is one observed ledger deposit attributed to an escrow
type TransactionRecord struct {
	Id            string          `db:"id" json:"id"`
	EscrowId      string          `db:"escrow_id" json:"escrow_id"`
	Asset         Asset           `db:"asset" json:"asset"`
	Address       string          `db:"address" json:"address"`
	TxHash        string          `db:"tx_hash" json:"tx_hash"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Confirmations int             `db:"confirmations" json:"confirmations"`
	Confirmed     bool            `db:"confirmed" json:"confirmed"`
	DetectedAt    time.Time       `db:"detected_at" json:"detected_at"`
}

// Wallet is a deposit address a user registered for one asset
type Wallet struct {
	Id        string    `db:"id" json:"id"`
	UserId    string    `db:"user_id" json:"user_id"`
	Asset     Asset     `db:"asset" json:"asset"`
	Address   string    `db:"address" json:"address"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Setting is one row of the process-wide settings table
type Setting struct {
	Key       string    `db:"key" json:"key"`
	Value     string    `db:"value" json:"value"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
