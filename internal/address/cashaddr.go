// Package address implements the CashAddr codec of spec §6: the
// "ecash:"-prefixed, base32-payload address format the wallet both
// consumes (decoding a recipient) and produces (none of the example
// pack — BTC-family repos that decode base58/bech32 addresses via
// btcutil — implements CashAddr, so this package is hand-written
// against the published algorithm rather than adapted from an example;
// every other address concern (WIF decoding) still goes through
// btcutil). No third-party library in the retrieval pack implements
// this codec, so it is a deliberate, documented standard-library
// exception (see DESIGN.md).
package address

import (
	"errors"
	"strings"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

const (
	charset       = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"
	defaultPrefix = "ecash"
	typeP2PKH     = 0
	hashLenBytes  = 20
)

var charsetIndex = func() map[byte]byte {
	m := make(map[byte]byte, len(charset))
	for i := 0; i < len(charset); i++ {
		m[charset[i]] = byte(i)
	}
	return m
}()

// Decode parses a CashAddr string and returns its 20-byte P2PKH hash.
// Any prefix mismatch, bad checksum, non-P2PKH type, or wrong hash
// length fails with ErrInvalidAddress.
func Decode(addr string) ([20]byte, error) {
	var out [20]byte

	raw := addr
	prefix := defaultPrefix
	if idx := strings.LastIndexByte(raw, ':'); idx >= 0 {
		prefix = strings.ToLower(raw[:idx])
		raw = raw[idx+1:]
	}
	if raw == "" {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "empty address payload")
	}

	lower := strings.ToLower(raw)
	upper := strings.ToUpper(raw)
	if raw != lower && raw != upper {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "mixed-case address %q", addr)
	}
	raw = lower

	data := make([]byte, len(raw))
	for i := 0; i < len(raw); i++ {
		v, ok := charsetIndex[raw[i]]
		if !ok {
			return out, wallet.Wrap(wallet.ErrInvalidAddress, "invalid character %q in address", raw[i])
		}
		data[i] = v
	}

	if polymod(append(expandPrefix(prefix), data...)) != 0 {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "checksum mismatch for %q", addr)
	}
	if len(data) < 8 {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "address payload too short")
	}
	payload5 := data[:len(data)-8]

	payload, err := convertBits(payload5, 5, 8, false)
	if err != nil || len(payload) == 0 {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "malformed payload in %q", addr)
	}

	versionByte := payload[0]
	addrType := (versionByte >> 3) & 0x0f
	sizeIndex := versionByte & 0x07
	hash := payload[1:]

	if addrType != typeP2PKH {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "unsupported address type %d (P2PKH only)", addrType)
	}
	if sizeFromIndex(sizeIndex) != hashLenBytes || len(hash) != hashLenBytes {
		return out, wallet.Wrap(wallet.ErrInvalidAddress, "unexpected hash length in %q", addr)
	}

	copy(out[:], hash)
	return out, nil
}

// Encode renders a 20-byte P2PKH hash as a canonical "ecash:"-prefixed
// CashAddr string.
func Encode(hash [20]byte) string {
	versionByte := byte(typeP2PKH<<3) | sizeIndexFor(hashLenBytes)
	payload := append([]byte{versionByte}, hash[:]...)
	payload5, _ := convertBits(payload, 8, 5, true)

	checksumInput := append(expandPrefix(defaultPrefix), payload5...)
	checksumInput = append(checksumInput, make([]byte, 8)...)
	mod := polymod(checksumInput)

	checksum := make([]byte, 8)
	for i := 0; i < 8; i++ {
		checksum[i] = byte((mod >> uint(5*(7-i))) & 31)
	}

	var sb strings.Builder
	sb.WriteString(defaultPrefix)
	sb.WriteByte(':')
	for _, v := range append(payload5, checksum...) {
		sb.WriteByte(charset[v])
	}
	return sb.String()
}

func expandPrefix(prefix string) []byte {
	out := make([]byte, 0, len(prefix)+1)
	for i := 0; i < len(prefix); i++ {
		out = append(out, prefix[i]&0x1f)
	}
	out = append(out, 0)
	return out
}

// polymod is the CashAddr BCH-style checksum over 5-bit groups.
func polymod(data []byte) uint64 {
	generator := [5]uint64{0x98f2bc8e61, 0x79b76d99e2, 0xf33e5fb3c4, 0xae2eabe2a8, 0x1e4f43e470}
	chk := uint64(1)
	for _, d := range data {
		top := chk >> 35
		chk = ((chk & 0x07ffffffff) << 5) ^ uint64(d)
		for i := 0; i < 5; i++ {
			if (top>>uint(i))&1 != 0 {
				chk ^= generator[i]
			}
		}
	}
	return chk ^ 1
}

// convertBits regroups a byte slice between bit widths, the same
// bit-packing scheme bech32/CashAddr both rely on.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := uint32(0)
	bits := uint(0)
	var ret []byte
	maxv := uint32(1<<toBits) - 1

	for _, value := range data {
		if uint32(value)>>fromBits != 0 {
			return nil, errors.New("address: invalid data range")
		}
		acc = (acc << fromBits) | uint32(value)
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || (acc<<(toBits-bits))&maxv != 0 {
		return nil, errors.New("address: invalid padding")
	}
	return ret, nil
}

func sizeFromIndex(idx byte) int {
	sizes := [8]int{20, 24, 28, 32, 40, 48, 56, 64}
	if int(idx) >= len(sizes) {
		return 0
	}
	return sizes[idx]
}

func sizeIndexFor(lengthBytes int) byte {
	switch lengthBytes {
	case 20:
		return 0
	case 24:
		return 1
	case 28:
		return 2
	case 32:
		return 3
	case 40:
		return 4
	case 48:
		return 5
	case 56:
		return 6
	case 64:
		return 7
	default:
		return 0
	}
}
