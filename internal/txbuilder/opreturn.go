package txbuilder

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// DefaultOpReturnPrefix tags a message as wallet-originated, §4.8.
var DefaultOpReturnPrefix = []byte{0x6d, 0x02}

// MaxOpReturnBytes bounds prefix+message combined (§4.8, §6).
const MaxOpReturnBytes = 223

// BuildOpReturn assembles a transaction carrying a single zero-value
// OP_RETURN data output ahead of the ordinary recipient/change outputs
// (§4.8). prefix defaults to DefaultOpReturnPrefix when nil.
func BuildOpReturn(plan wallet.Plan, prefix, message []byte, recipients []wallet.Recipient, changeAddress string, keySrc KeySource) (Built, error) {
	if prefix == nil {
		prefix = DefaultOpReturnPrefix
	}
	payload := append(append([]byte(nil), prefix...), message...)
	if len(payload) > MaxOpReturnBytes {
		return Built{}, wallet.Wrap(wallet.ErrPayloadTooLarge, "op_return payload %d bytes exceeds the %d-byte limit", len(payload), MaxOpReturnBytes)
	}

	script, err := OpReturnScript(payload)
	if err != nil {
		return Built{}, err
	}
	carrier := wire.NewTxOut(0, script)

	if len(plan.Inputs) == 0 {
		return Built{}, wallet.Wrap(wallet.ErrInsufficientFunds, "plan has no inputs")
	}

	outs := []*wire.TxOut{carrier}
	recipientOuts, err := recipientOutputs(recipients)
	if err != nil {
		return Built{}, err
	}
	outs = append(outs, recipientOuts...)

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
