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

package common

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"p2p-escrow-mediator/internal/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type AssetsConfig struct {
	Assets []models.AssetConfig `yaml:"assets"`
}

// LoadAssetConfig reads per-asset settings from assetsFile and layers them
// over the built-in defaults. A missing file yields the defaults.
func LoadAssetConfig(assetsFile string) (map[models.Asset]models.AssetConfig, error) {
	assets := models.DefaultAssetConfigs()
	if assetsFile == "" {
		return assets, nil
	}

	var assetsPath string
	if filepath.IsAbs(assetsFile) {
		assetsPath = assetsFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		assetsPath = filepath.Join(wd, assetsFile)
	}

	data, err := os.ReadFile(assetsPath)
	if errors.Is(err, os.ErrNotExist) {
		zap.L().Info("No assets file, using built-in asset settings", zap.String("file", assetsFile))
		return assets, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", assetsFile, err)
	}

	var config AssetsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", assetsFile, err)
	}

	for i, asset := range config.Assets {
		symbol, err := models.ParseAsset(asset.Symbol)
		if err != nil {
			return nil, fmt.Errorf("asset at index %d: %w", i, err)
		}
		if asset.Network == "" {
			return nil, fmt.Errorf("asset at index %d missing network", i)
		}
		if asset.Explorer != models.ExplorerUTXO && asset.Explorer != models.ExplorerAccount {
			return nil, fmt.Errorf("asset %s has unknown explorer %q", symbol, asset.Explorer)
		}
		if asset.Decimals <= 0 {
			return nil, fmt.Errorf("asset %s must have positive decimals", symbol)
		}
		if asset.RequiredConfirmations < 0 {
			return nil, fmt.Errorf("asset %s has negative required_confirmations", symbol)
		}
		asset.Symbol = symbol.String()
		assets[symbol] = asset
	}

	zap.L().Info("Loaded asset settings",
		zap.String("file", assetsFile),
		zap.Int("overrides", len(config.Assets)))
	return assets, nil
}

// ApplyContractOverride replaces the USDT token contract when contract is set.
func ApplyContractOverride(assets map[models.Asset]models.AssetConfig, contract string) {
	if contract == "" {
		return
	}
	usdt, ok := assets[models.AssetUSDT]
	if !ok {
		return
	}
	usdt.Contract = contract
	assets[models.AssetUSDT] = usdt
}
