package txbuilder

import (
	"math/big"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/internal/coinselect"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// Built is the outcome of a build, carrying both the raw hex a caller
// broadcasts and the txid computed over it (§4.7 step 6).
type Built struct {
	RawHex string
	Txid   string
}

// BuildPlain assembles, signs, and serializes a plain P2PKH send: the
// Plan's inputs fund recipients (in order) plus an optional trailing
// change output, per §4.7.
func BuildPlain(plan wallet.Plan, recipients []wallet.Recipient, changeAddress string, keySrc KeySource) (Built, error) {
	if len(plan.Inputs) == 0 {
		return Built{}, wallet.Wrap(wallet.ErrInsufficientFunds, "plan has no inputs")
	}
	if len(recipients) == 0 {
		return Built{}, wallet.Wrap(wallet.ErrInvalidAddress, "no recipients given")
	}

	outs, err := recipientOutputs(recipients)
	if err != nil {
		return Built{}, err
	}

	if plan.ChangeSats != nil && plan.ChangeSats.Sign() > 0 {
		if changeAddress == "" {
			return Built{}, wallet.Wrap(wallet.ErrInvalidAddress, "plan has change but no change address was given")
		}
		changeOut, err := p2pkhOutput(changeAddress, plan.ChangeSats)
		if err != nil {
			return Built{}, err
		}
		outs = append(outs, changeOut)
	}

	tx, err := assemble(plan.Inputs, outs)
	if err != nil {
		return Built{}, err
	}
	priv, err := keySrc.PrivateKey()
	if err != nil {
		return Built{}, wallet.Wrap(wallet.ErrInvalidAddress, "key source: %v", err)
	}
	if err := signPlan(tx, plan.Inputs, priv); err != nil {
		return Built{}, err
	}
	return finish(tx)
}

// BuildSweep spends every given UTXO to a single destination, the
// output being the total input value less the estimated fee for a
// one-output transaction. Fails if the residual falls below the dust
// limit (§4.7 "send all").
func BuildSweep(utxos []wallet.UTXO, toAddress string, feeRateSatPerByte float64, keySrc KeySource) (Built, error) {
	if len(utxos) == 0 {
		return Built{}, wallet.Wrap(wallet.ErrInsufficientFunds, "no utxos to sweep")
	}
	for _, u := range utxos {
		if u.HasToken() {
			return Built{}, wallet.Wrap(wallet.ErrWrongProtocolForTokn, "sweep cannot spend token-bearing utxo %s", u.Outpoint)
		}
	}

	total := big.NewInt(0)
	for _, u := range utxos {
		total.Add(total, u.Sats)
	}

	opts := coinselect.DefaultOptions()
	opts.FeeRateSatPerByte = feeRateSatPerByte
	fee := coinselect.EstimateFee(len(utxos), 1, opts)

	residual := new(big.Int).Sub(total, fee)
	if residual.Cmp(wallet.DustLimitBig()) < 0 {
		return Built{}, wallet.Wrap(wallet.ErrDustOutput, "sweep residual %s sats is below the dust limit after a %s sat fee", residual, fee)
	}

	out, err := p2pkhOutput(toAddress, residual)
	if err != nil {
		return Built{}, err
	}

	tx, err := assemble(utxos, []*wire.TxOut{out})
	if err != nil {
		return Built{}, err
	}
	priv, err := keySrc.PrivateKey()
	if err != nil {
		return Built{}, wallet.Wrap(wallet.ErrInvalidAddress, "key source: %v", err)
	}
	if err := signPlan(tx, utxos, priv); err != nil {
		return Built{}, err
	}
	return finish(tx)
}

// recipientOutputs validates and converts Recipients to wire.TxOuts in
// order; every recipient must decode to a P2PKH address and clear the
// dust limit (§4.7 step 2).
func recipientOutputs(recipients []wallet.Recipient) ([]*wire.TxOut, error) {
	outs := make([]*wire.TxOut, 0, len(recipients))
	for _, r := range recipients {
		if r.Sats == nil || r.Sats.Cmp(wallet.DustLimitBig()) < 0 {
			return nil, wallet.Wrap(wallet.ErrDustOutput, "recipient %s amount %s sats is below the dust limit", r.Address, r.Sats)
		}
		out, err := p2pkhOutput(r.Address, r.Sats)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}
	return outs, nil
}

func p2pkhOutput(addr string, sats *big.Int) (*wire.TxOut, error) {
	return P2PKHOutput(addr, sats)
}

// P2PKHOutput decodes addr and builds the wire.TxOut paying it sats;
// exported for the token engine's output assembly.
func P2PKHOutput(addr string, sats *big.Int) (*wire.TxOut, error) {
	hash, err := DecodeP2PKHAddress(addr)
	if err != nil {
		return nil, err
	}
	return wire.NewTxOut(sats.Int64(), P2PKHScript(hash)), nil
}

// signPlan signs every input of tx against its matching Plan/utxo
// entry, in the same order inputs were assembled (§4.7 step 5).
func signPlan(tx *wire.MsgTx, inputs []wallet.UTXO, priv *btcec.PrivateKey) error {
	for i, u := range inputs {
		sigScript, err := signInput(tx, i, u.OutputScript, u.Sats.Int64(), priv)
		if err != nil {
			return err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// BuildRaw assembles, signs, and serializes an arbitrary ordered list
// of inputs and already-constructed outputs. It is the entry point the
// token engine uses to assemble SLP/ALP transactions, whose output
// shape (OP_RETURN carrier, token recipients, token change, plain
// change) doesn't fit the plain/OP_RETURN builders above.
func BuildRaw(inputs []wallet.UTXO, outputs []*wire.TxOut, keySrc KeySource) (Built, error) {
	if len(inputs) == 0 {
		return Built{}, wallet.Wrap(wallet.ErrInsufficientFunds, "no inputs to spend")
	}
	tx, err := assemble(inputs, outputs)
	if err != nil {
		return Built{}, err
	}
	priv, err := keySrc.PrivateKey()
	if err != nil {
		return Built{}, wallet.Wrap(wallet.ErrInvalidAddress, "key source: %v", err)
	}
	if err := signPlan(tx, inputs, priv); err != nil {
		return Built{}, err
	}
	return finish(tx)
}

func finish(tx *wire.MsgTx) (Built, error) {
	rawHex, err := SerializeHex(tx)
	if err != nil {
		return Built{}, err
	}
	h := tx.TxHash()
	return Built{RawHex: rawHex, Txid: h.String()}, nil
}
