// Package txbuilder assembles and signs wire-format transactions for
// the three flavors of §4.7/§4.8: plain P2PKH, OP_RETURN data
// carriers, and (via internal/token) the SLP/ALP output shapes that
// share this package's signing core. Grounded on
// Tadasu85-utxo-sweeper-go's use of wire.MsgTx/wire.NewTxIn/TxOut for
// assembly, generalized to eCash's CashAddr/P2PKH address family and
// BCH-style SIGHASH_FORKID signing rather than BTC's.
package txbuilder

import (
	"github.com/zh/minimal-xec-wallet/internal/address"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

const (
	opDup         = 0x76
	opHash160     = 0xa9
	opEqualVerify = 0x88
	opCheckSig    = 0xac
	opReturn      = 0x6a
	opPushData1   = 0x4c
)

// P2PKHScript builds `OP_DUP OP_HASH160 <push-20> <hash160>
// OP_EQUALVERIFY OP_CHECKSIG`, exactly 25 bytes (§6).
func P2PKHScript(hash [20]byte) []byte {
	out := make([]byte, 0, 25)
	out = append(out, opDup, opHash160, 0x14)
	out = append(out, hash[:]...)
	out = append(out, opEqualVerify, opCheckSig)
	return out
}

// DecodeP2PKHAddress validates addr is a CashAddr P2PKH address and
// returns its 20-byte hash.
func DecodeP2PKHAddress(addr string) ([20]byte, error) {
	return address.Decode(addr)
}

// pushData returns the minimal-push encoding of data: a single-byte
// length prefix for L ≤ 75, or the pushdata-1 prefix (0x4c + 1-byte
// length) for 76 ≤ L ≤ 255, per §4.8.
func pushData(data []byte) ([]byte, error) {
	l := len(data)
	switch {
	case l <= 75:
		return append([]byte{byte(l)}, data...), nil
	case l <= 255:
		return append([]byte{opPushData1, byte(l)}, data...), nil
	default:
		return nil, wallet.Wrap(wallet.ErrPayloadTooLarge, "push data length %d exceeds 255-byte pushdata-1 range", l)
	}
}

// OpReturnScript builds `OP_RETURN <push>(payload)` for an arbitrary
// already-assembled payload (e.g. a raw message, or an SLP/ALP
// serialized carrier).
func OpReturnScript(payload []byte) ([]byte, error) {
	push, err := pushData(payload)
	if err != nil {
		return nil, err
	}
	return append([]byte{opReturn}, push...), nil
}

// PushData exports the minimal-push encoder for callers outside this
// package that assemble a multi-push OP_RETURN carrier (the token
// engine's ALP eMPP payload).
func PushData(data []byte) ([]byte, error) { return pushData(data) }

// OpReturnScriptMulti builds `OP_RETURN <push>(chunks[0]) <push>(chunks[1])...`,
// the eMPP shape ALP carriers use to pack several logical fields as
// independent pushes in one output.
func OpReturnScriptMulti(chunks [][]byte) ([]byte, error) {
	out := []byte{opReturn}
	for _, c := range chunks {
		push, err := pushData(c)
		if err != nil {
			return nil, err
		}
		out = append(out, push...)
	}
	return out, nil
}
