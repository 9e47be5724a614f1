package token

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

const slpLokadID = "SLP\x00"

// slpCarrier serializes the SLP OP_RETURN payload: a lokad ID, a kind
// tag ("SEND" or "BURN"), the token id, and the atom amounts in output
// order (§4.9 "SLP send"/"SLP burn"). The real SLP wire format encodes
// these as BIP-62-style pushes per field; this carrier is a compact
// deterministic stand-in, since no SLP/ALP encoding library exists
// anywhere in the retrieval pack to ground a byte-for-byte real one on
// (see DESIGN.md).
func slpCarrier(kind string, tokenID string, amounts []*big.Int) []byte {
	var buf bytes.Buffer
	buf.WriteString(slpLokadID)
	buf.WriteString(kind)
	buf.WriteString(tokenID)
	for _, a := range amounts {
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], safeUint64(a))
		buf.Write(amt[:])
	}
	return buf.Bytes()
}

func safeUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func slpCarrierBytes(tokenID string, numAmounts int) int {
	return len(slpLokadID) + 4 + len(tokenID) + 8*numAmounts
}

// SendSLP implements §4.9 "SLP send": selects token inputs covering
// the recipients, funds dust+fee from the token inputs' own dust (or
// plain UTXOs), and assembles [OP_RETURN(send), recipients, optional
// token change, optional plain change].
func SendSLP(req SendRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	if len(req.Recipients) == 0 {
		return Result{}, wallet.Wrap(wallet.ErrInvalidAddress, "slp send needs at least one recipient")
	}
	if len(req.Recipients) > wallet.TokenRecipientCap {
		return Result{}, wallet.Wrap(wallet.ErrTooManyRecipients, "%d recipients exceeds the %d cap", len(req.Recipients), wallet.TokenRecipientCap)
	}

	tokenUTXOs, plainUTXOs, _ := partition(utxos, req.TokenID, wallet.ProtocolSLP)
	required := sumAtoms(req.Recipients)

	dustOutputsForChange := func(change *big.Int) int {
		n := len(req.Recipients)
		if change.Sign() > 0 {
			n++
		}
		return n
	}
	carrierBytes := slpCarrierBytes(req.TokenID, len(req.Recipients)+1)

	sel, err := selectAndFund(tokenUTXOs, required, dustOutputsForChange, carrierBytes, req.FeeRateSatPerByte)
	if err != nil {
		return Result{}, err
	}
	hasChange := sel.changeAtoms.Sign() > 0
	dustOutputs := dustOutputsForChange(sel.changeAtoms)

	fp, err := topUpFunding(sel, dustOutputs, plainUTXOs, carrierBytes, req.FeeRateSatPerByte, true)
	if err != nil {
		return Result{}, err
	}

	amounts := make([]*big.Int, 0, len(req.Recipients)+1)
	for _, r := range req.Recipients {
		amounts = append(amounts, r.Atoms)
	}
	if hasChange {
		amounts = append(amounts, sel.changeAtoms)
	}
	carrier, err := txbuilder.OpReturnScript(slpCarrier("SEND", req.TokenID, amounts))
	if err != nil {
		return Result{}, err
	}

	outs := []*wire.TxOut{wire.NewTxOut(0, carrier)}
	for _, r := range req.Recipients {
		out, err := txbuilder.P2PKHOutput(r.Address, wallet.DustLimitBig())
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	}
	if hasChange {
		out, err := txbuilder.P2PKHOutput(req.ChangeAddress, wallet.DustLimitBig())
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	}
	// SLP suppresses a below-dust plain change output (§4.9 step 4).
	if fp.plainChange != nil && fp.plainChange.Cmp(wallet.DustLimitBig()) >= 0 {
		out, err := txbuilder.P2PKHOutput(req.PlainChangeAddr, fp.plainChange)
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	} else {
		fp.plainChange = big.NewInt(0)
	}

	inputs := append(append([]wallet.UTXO(nil), sel.tokenInputs...), fp.extraInputs...)
	built, err := txbuilder.BuildRaw(inputs, outs, keySrc)
	if err != nil {
		return Result{}, err
	}
	return Result{
		RawHex: built.RawHex, Txid: built.Txid,
		ChangeAtoms: sel.changeAtoms, PlainChange: fp.plainChange,
		InputsUsed: len(inputs), RecipientCnt: len(req.Recipients),
	}, nil
}

// BurnSLP implements §4.9 "SLP burn": a complete burn (no remainder)
// carries a BURN payload and emits no token change output; a partial
// burn carries a SEND payload listing only the change amount
// (burn-by-omission).
func BurnSLP(req BurnRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	tokenUTXOs, plainUTXOs, _ := partition(utxos, req.TokenID, wallet.ProtocolSLP)

	dustOutputsForChange := func(change *big.Int) int {
		if change.Sign() > 0 {
			return 1
		}
		return 0
	}
	carrierBytes := slpCarrierBytes(req.TokenID, 1)

	sel, err := selectAndFund(tokenUTXOs, req.BurnAtoms, dustOutputsForChange, carrierBytes, req.FeeRateSatPerByte)
	if err != nil {
		return Result{}, err
	}
	complete := sel.changeAtoms.Sign() == 0
	dustOutputs := dustOutputsForChange(sel.changeAtoms)

	fp, err := topUpFunding(sel, dustOutputs, plainUTXOs, carrierBytes, req.FeeRateSatPerByte, true)
	if err != nil {
		return Result{}, err
	}

	var carrierPayload []byte
	if complete {
		carrierPayload = slpCarrier("BURN", req.TokenID, []*big.Int{req.BurnAtoms})
	} else {
		carrierPayload = slpCarrier("SEND", req.TokenID, []*big.Int{sel.changeAtoms})
	}
	carrier, err := txbuilder.OpReturnScript(carrierPayload)
	if err != nil {
		return Result{}, err
	}

	outs := []*wire.TxOut{wire.NewTxOut(0, carrier)}
	if !complete {
		out, err := txbuilder.P2PKHOutput(req.ChangeAddress, wallet.DustLimitBig())
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	}
	if fp.plainChange != nil && fp.plainChange.Cmp(wallet.DustLimitBig()) >= 0 {
		out, err := txbuilder.P2PKHOutput(req.PlainChangeAddr, fp.plainChange)
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	} else {
		fp.plainChange = big.NewInt(0)
	}

	inputs := append(append([]wallet.UTXO(nil), sel.tokenInputs...), fp.extraInputs...)
	built, err := txbuilder.BuildRaw(inputs, outs, keySrc)
	if err != nil {
		return Result{}, err
	}
	return Result{
		RawHex: built.RawHex, Txid: built.Txid,
		ChangeAtoms: sel.changeAtoms, PlainChange: fp.plainChange,
		InputsUsed: len(inputs),
	}, nil
}
