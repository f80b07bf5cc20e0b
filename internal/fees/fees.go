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

package fees

import (
	"errors"
	"fmt"

	"p2p-escrow-mediator/internal/models"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits kept on a fee.
const Precision = 8

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ComputeFee returns fee = max(gross*percent/100, minFee) and net = gross - fee.
// Only the fee is rounded, once, so fee + net always equals gross.
func ComputeFee(gross, feePercent, minFee decimal.Decimal) (models.Quote, error) {
	if !gross.IsPositive() {
		return models.Quote{}, fmt.Errorf("%w: gross amount must be positive, got %s", ErrInvalidAmount, gross.String())
	}
	if feePercent.IsNegative() {
		return models.Quote{}, fmt.Errorf("%w: fee percent cannot be negative, got %s", ErrInvalidAmount, feePercent.String())
	}
	if minFee.IsNegative() {
		return models.Quote{}, fmt.Errorf("%w: minimum fee cannot be negative, got %s", ErrInvalidAmount, minFee.String())
	}

	fee := decimal.Max(gross.Mul(feePercent).Div(hundred), minFee).Round(Precision)
	return models.Quote{
		Gross: gross,
		Fee:   fee,
		Net:   gross.Sub(fee),
	}, nil
}

// ParseAmount parses a user supplied gross amount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, raw)
	}
	return amount, nil
}
