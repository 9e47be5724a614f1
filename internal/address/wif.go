package address

import (
	"encoding/hex"
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// secp256k1N is the order of the secp256k1 group; a valid private key
// scalar k must satisfy 0 < k < secp256k1N (§6). Hardcoded rather than
// pulled from btcec's curve params, since the well-known constant
// needs no dependency on btcec's internal API surface.
var secp256k1N, _ = new(big.Int).SetString(
	"FFFFFFFFFFFFFFFFFFFFFFFFFFFFFFFEBAAEDCE6AF48A03BBFD25E8CD0364141", 16)

// validateScalar rejects an all-zero secret or one at/above the group
// order, either of which btcec would otherwise accept and turn into an
// invalid signature rather than a clean decode-time error.
func validateScalar(raw []byte) error {
	k := new(big.Int).SetBytes(raw)
	if k.Sign() == 0 || k.Cmp(secp256k1N) >= 0 {
		return wallet.Wrap(wallet.ErrInvalidKey, "private key scalar out of range [1, n-1]")
	}
	return nil
}

// DecodeWIF parses a base58-check WIF secret (network byte 0x80
// mainnet / 0xEF testnet, optional 0x01 compression suffix, 32-byte
// secret) via btcutil's base58 codec, or a bare 64-hex-character
// secret as a fallback, per spec §6.
func DecodeWIF(s string) (*btcec.PrivateKey, error) {
	priv, err := decodeHexKey(s)
	if err == nil {
		return priv, nil
	}
	if err != errNotHex {
		// s was structurally a 64-hex-character secret, just not a
		// valid one — don't mask that behind a base58-decode failure.
		return nil, err
	}

	payload, version, err := base58.CheckDecode(s)
	if err != nil {
		return nil, wallet.Wrap(wallet.ErrInvalidAddress, "invalid WIF or hex secret: %v", err)
	}
	if version != 0x80 && version != 0xEF {
		return nil, wallet.Wrap(wallet.ErrInvalidAddress, "unrecognized WIF version byte 0x%02x", version)
	}

	switch len(payload) {
	case 32:
		// uncompressed
	case 33:
		if payload[32] != 0x01 {
			return nil, wallet.Wrap(wallet.ErrInvalidAddress, "invalid WIF compression flag")
		}
		payload = payload[:32]
	default:
		return nil, wallet.Wrap(wallet.ErrInvalidAddress, "invalid WIF secret length %d", len(payload))
	}
	if err := validateScalar(payload); err != nil {
		return nil, err
	}

	priv, _ := btcec.PrivKeyFromBytes(payload)
	return priv, nil
}

func decodeHexKey(s string) (*btcec.PrivateKey, error) {
	if len(s) != 64 {
		return nil, errNotHex
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, wallet.Wrap(wallet.ErrInvalidKey, "invalid hex secret: %v", err)
	}
	if err := validateScalar(raw); err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return priv, nil
}

var errNotHex = notHexErr{}

type notHexErr struct{}

func (notHexErr) Error() string { return "not a 64-hex-character secret" }
