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

package database

const (
	escrowColumns = `id, buyer_id, seller_id, asset, amount, fee, net_amount, status,
		funded, buyer_confirmed, seller_confirmed, disputed_by, disputed_from, resolved_by,
		version, created_at, updated_at`

	// Escrow queries
	queryInsertEscrow = `
		INSERT INTO escrows (` + escrowColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetEscrow = `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE id = ?`

	queryListEscrowsByStatus = `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE status = ?
		ORDER BY created_at`

	queryListEscrowsByUser = `
		SELECT ` + escrowColumns + `
		FROM escrows
		WHERE buyer_id = ? OR seller_id = ?
		ORDER BY created_at DESC`

	// Optimistic lock on version; zero rows affected means another writer won.
	queryUpdateEscrow = `
		UPDATE escrows
		SET seller_id = ?, asset = ?, amount = ?, fee = ?, net_amount = ?, status = ?,
		    funded = ?, buyer_confirmed = ?, seller_confirmed = ?,
		    disputed_by = ?, disputed_from = ?, resolved_by = ?,
		    version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`

	queryDeleteEscrow = `
		DELETE FROM escrows WHERE id = ?`

	// Transaction record queries
	queryInsertTransaction = `
		INSERT OR IGNORE INTO escrow_transactions
			(id, escrow_id, asset, address, tx_hash, amount, confirmations, confirmed, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetTransactionOwner = `
		SELECT escrow_id FROM escrow_transactions
		WHERE asset = ? AND tx_hash = ?`

	queryListTransactions = `
		SELECT id, escrow_id, asset, address, tx_hash, amount, confirmations, confirmed, detected_at
		FROM escrow_transactions
		WHERE escrow_id = ?
		ORDER BY detected_at`

	queryDeleteTransactions = `
		DELETE FROM escrow_transactions WHERE escrow_id = ?`

	// Settings queries
	queryGetSetting = `
		SELECT value FROM settings WHERE key = ?`

	queryUpsertSetting = `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	queryListSettings = `
		SELECT key, value, updated_at FROM settings ORDER BY key`

	// Wallet queries
	queryUpsertWallet = `
		INSERT INTO wallets (id, user_id, asset, address, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, asset) DO UPDATE SET address = excluded.address
		RETURNING id, user_id, asset, address, created_at`

	queryGetDepositAddress = `
		SELECT address FROM wallets
		WHERE user_id = ? AND asset = ?`

	queryGetUserWallets = `
		SELECT id, user_id, asset, address, created_at
		FROM wallets
		WHERE user_id = ?
		ORDER BY asset`
)
