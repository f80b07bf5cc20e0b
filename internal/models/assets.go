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

// Explorer families used by the ledger oracle
const (
	ExplorerUTXO    = "utxo"
	ExplorerAccount = "account"
)

// DefaultUSDTContract is the Ethereum mainnet Tether token contract
const DefaultUSDTContract = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

// AssetConfig describes how one asset is observed on chain
type AssetConfig struct {
	Symbol                string `yaml:"symbol"`
	Network               string `yaml:"network"`
	Explorer              string `yaml:"explorer"`
	Chain                 string `yaml:"chain"`
	Decimals              int    `yaml:"decimals"`
	RequiredConfirmations int    `yaml:"required_confirmations"`
	Contract              string `yaml:"contract,omitempty"`
}

// DefaultAssetConfigs returns the built-in settings used when no assets file is present
func DefaultAssetConfigs() map[Asset]AssetConfig {
	return map[Asset]AssetConfig{
		AssetBTC: {
			Symbol: "BTC", Network: "bitcoin", Explorer: ExplorerUTXO, Chain: "btc",
			Decimals: 8, RequiredConfirmations: 2,
		},
		AssetLTC: {
			Symbol: "LTC", Network: "litecoin", Explorer: ExplorerUTXO, Chain: "ltc",
			Decimals: 8, RequiredConfirmations: 6,
		},
		AssetETH: {
			Symbol: "ETH", Network: "ethereum", Explorer: ExplorerAccount, Chain: "eth",
			Decimals: 18, RequiredConfirmations: 12,
		},
		AssetUSDT: {
			Symbol: "USDT", Network: "ethereum", Explorer: ExplorerAccount, Chain: "eth",
			Decimals: 6, RequiredConfirmations: 12, Contract: DefaultUSDTContract,
		},
	}
}
