package oracle

import (
	"errors"
	"fmt"
	"strings"

	"p2p-escrow-mediator/internal/models"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
)

var ErrInvalidAddress = errors.New("invalid address")

type utxoNetwork struct {
	hrp      string
	versions []byte
}

var utxoNetworks = map[models.Asset]utxoNetwork{
	models.AssetBTC: {hrp: "bc", versions: []byte{0x00, 0x05}},
	models.AssetLTC: {hrp: "ltc", versions: []byte{0x30, 0x32, 0x05}},
}

// ValidateAddress checks that address is a well formed mainnet address for asset.
func ValidateAddress(asset models.Asset, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	switch asset {
	case models.AssetBTC, models.AssetLTC:
		return validateUTXO(utxoNetworks[asset], address)
	case models.AssetETH, models.AssetUSDT:
		return validateHex(address)
	default:
		return fmt.Errorf("%w: unsupported asset %s", ErrInvalidAddress, asset)
	}
}

func validateUTXO(network utxoNetwork, address string) error {
	if strings.HasPrefix(strings.ToLower(address), network.hrp+"1") {
		return validateSegwit(network.hrp, address)
	}

	decoded, version, err := base58.CheckDecode(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(decoded) != 20 {
		return fmt.Errorf("%w: payload is %d bytes", ErrInvalidAddress, len(decoded))
	}
	for _, v := range network.versions {
		if version == v {
			return nil
		}
	}
	return fmt.Errorf("%w: unexpected version byte 0x%02x", ErrInvalidAddress, version)
}

// validateSegwit accepts witness v0 with the bech32 checksum and v1+ (taproot
// and later) with the bech32m checksum, as BIP-350 requires.
func validateSegwit(hrp, address string) error {
	gotHrp, data, encoding, err := bech32.DecodeGeneric(address)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if gotHrp != hrp {
		return fmt.Errorf("%w: prefix %q, want %q", ErrInvalidAddress, gotHrp, hrp)
	}
	if len(data) < 1 || data[0] > 16 {
		return fmt.Errorf("%w: unsupported witness version", ErrInvalidAddress)
	}
	witnessVersion := data[0]
	switch {
	case witnessVersion == 0 && encoding != bech32.Version0:
		return fmt.Errorf("%w: witness v0 requires bech32", ErrInvalidAddress)
	case witnessVersion > 0 && encoding != bech32.VersionM:
		return fmt.Errorf("%w: witness v%d requires bech32m", ErrInvalidAddress, witnessVersion)
	}

	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch witnessVersion {
	case 0:
		if len(program) != 20 && len(program) != 32 {
			return fmt.Errorf("%w: witness program is %d bytes", ErrInvalidAddress, len(program))
		}
	case 1:
		if len(program) != 32 {
			return fmt.Errorf("%w: taproot program is %d bytes", ErrInvalidAddress, len(program))
		}
	default:
		if len(program) < 2 || len(program) > 40 {
			return fmt.Errorf("%w: witness program is %d bytes", ErrInvalidAddress, len(program))
		}
	}
	return nil
}

func validateHex(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return fmt.Errorf("%w: not a hex address", ErrInvalidAddress)
	}
	// Mixed case carries an EIP-55 checksum that must match.
	body := address[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		if common.HexToAddress(address).Hex() != address {
			return fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
		}
	}
	return nil
}
