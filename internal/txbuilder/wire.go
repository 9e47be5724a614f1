package txbuilder

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// assemble builds an unsigned wire.MsgTx from Plan inputs (in Plan
// order) and the given outputs (in caller order), §4.7 step 4.
func assemble(inputs []wallet.UTXO, outputs []*wire.TxOut) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range inputs {
		hash, err := chainhash.NewHashFromStr(u.Outpoint.Txid)
		if err != nil {
			return nil, wallet.Wrap(wallet.ErrInvalidUTXOStructure, "bad txid %q: %v", u.Outpoint.Txid, err)
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Outpoint.Vout), nil, nil))
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}
	return tx, nil
}

// SerializeHex renders tx in the canonical eCash wire format (the
// standard Bitcoin legacy encoding: no segwit marker/flag, since no
// input carries witness data) and returns it as lowercase hex.
func SerializeHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// DeserializeHex parses a canonical wire-format transaction from hex,
// used by the round-trip tests (§8) and by callers that need to
// inspect a previously-built raw transaction.
func DeserializeHex(rawHex string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, wallet.Wrap(wallet.ErrInvalidUTXOStructure, "invalid hex: %v", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, wallet.Wrap(wallet.ErrInvalidUTXOStructure, "invalid wire transaction: %v", err)
	}
	return tx, nil
}
