package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/internal/address"
)

// SighashAll and the BCH/XEC replay-protection bit combine into the
// single sighash type byte every input is signed with, §6 ("SIGHASH
// type = ALL with replay-protection bit").
const (
	SighashAll    = 0x01
	SighashForkID = 0x40
	SighashType   = SighashAll | SighashForkID
)

// KeySource produces the secp256k1 keypair used to sign every input of
// a transaction. WIFKeySource is the only concrete implementation in
// this package; mnemonic+HD-path derivation is left as an external
// collaborator seam (§4.7 "prefer mnemonic+HD-path; fall back to WIF"
// — no BIP-39 wordlist/BIP-32 derivation library appears anywhere in
// the retrieval pack to ground an implementation on).
type KeySource interface {
	PrivateKey() (*btcec.PrivateKey, error)
}

// WIFKeySource derives a keypair from a WIF or bare-hex secret.
type WIFKeySource struct {
	Secret string
}

func (w WIFKeySource) PrivateKey() (*btcec.PrivateKey, error) {
	return address.DecodeWIF(w.Secret)
}

// signInput computes the BIP143-style (SIGHASH_FORKID) sighash for
// input i spending prevScript/prevValue, signs it, and returns the
// scriptSig: push(DER signature ∥ sighash type) push(compressed pubkey).
func signInput(tx *wire.MsgTx, i int, prevScript []byte, prevValueSats int64, priv *btcec.PrivateKey) ([]byte, error) {
	digest := sighashDigest(tx, i, prevScript, prevValueSats)
	sig := ecdsa.Sign(priv, digest)

	sigBytes := append(sig.Serialize(), byte(SighashType))
	pubKeyBytes := priv.PubKey().SerializeCompressed()

	sigPush, err := pushData(sigBytes)
	if err != nil {
		return nil, err
	}
	pubPush, err := pushData(pubKeyBytes)
	if err != nil {
		return nil, err
	}
	return append(sigPush, pubPush...), nil
}

// sighashDigest implements the replay-protected (SIGHASH_FORKID)
// sighash algorithm: a BIP143-shaped preimage computed over the whole
// transaction even though the inputs are legacy (non-segwit) P2PKH,
// the way BCH/XEC distinguish their signatures from plain Bitcoin's.
func sighashDigest(tx *wire.MsgTx, i int, prevScript []byte, prevValueSats int64) []byte {
	var prevouts, sequences, outputs bytes.Buffer
	for _, in := range tx.TxIn {
		prevouts.Write(in.PreviousOutPoint.Hash[:])
		binary.Write(&prevouts, binary.LittleEndian, in.PreviousOutPoint.Index)
		binary.Write(&sequences, binary.LittleEndian, in.Sequence)
	}
	for _, out := range tx.TxOut {
		binary.Write(&outputs, binary.LittleEndian, out.Value)
		wire.WriteVarBytes(&outputs, 0, out.PkScript)
	}
	hashPrevouts := doubleSHA256(prevouts.Bytes())
	hashSequence := doubleSHA256(sequences.Bytes())
	hashOutputs := doubleSHA256(outputs.Bytes())

	in := tx.TxIn[i]
	var preimage bytes.Buffer
	binary.Write(&preimage, binary.LittleEndian, tx.Version)
	preimage.Write(hashPrevouts)
	preimage.Write(hashSequence)
	preimage.Write(in.PreviousOutPoint.Hash[:])
	binary.Write(&preimage, binary.LittleEndian, in.PreviousOutPoint.Index)
	wire.WriteVarBytes(&preimage, 0, prevScript)
	binary.Write(&preimage, binary.LittleEndian, prevValueSats)
	binary.Write(&preimage, binary.LittleEndian, in.Sequence)
	preimage.Write(hashOutputs)
	binary.Write(&preimage, binary.LittleEndian, tx.LockTime)
	binary.Write(&preimage, binary.LittleEndian, uint32(SighashType))

	return doubleSHA256(preimage.Bytes())
}

func doubleSHA256(b []byte) []byte {
	h1 := sha256.Sum256(b)
	h2 := sha256.Sum256(h1[:])
	return h2[:]
}
