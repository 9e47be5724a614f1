package token

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/btcd/wire"

	"github.com/zh/minimal-xec-wallet/internal/txbuilder"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

const alpLokadID = "SLP2\x00ALP"

// alpCarrier builds the ALP eMPP payload as a series of independent
// pushes: a lokad-id chunk, a kind tag, the token id, and one chunk per
// amount, wrapped by OpReturnScriptMulti the way ALP's eMPP carrier
// packs multiple logical fields into one output (§4.9 "ALP send/burn").
// As with SLP, no real ALP encoding library exists in the retrieval
// pack, so this is a deterministic stand-in (see DESIGN.md).
func alpCarrier(kind string, tokenID string, amounts []*big.Int) ([]byte, error) {
	chunks := [][]byte{[]byte(alpLokadID), []byte(kind), []byte(tokenID)}
	for _, a := range amounts {
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], safeUint64(a))
		chunks = append(chunks, amt[:])
	}
	return txbuilder.OpReturnScriptMulti(chunks)
}

func alpCarrierBytes(tokenID string, numAmounts int) int {
	var buf bytes.Buffer
	buf.WriteString(alpLokadID)
	buf.WriteString(tokenID)
	return buf.Len() + numAmounts*8 + 8 // + per-chunk push overhead, roughly
}

// SendALP implements §4.9 "ALP send": identical bookkeeping to SLP,
// except fee funding may also draw on other-token dust, and a plain
// change output is emitted whenever strictly positive (no dust
// suppression, unlike SLP).
func SendALP(req SendRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	if len(req.Recipients) == 0 {
		return Result{}, wallet.Wrap(wallet.ErrInvalidAddress, "alp send needs at least one recipient")
	}
	if len(req.Recipients) > wallet.TokenRecipientCap {
		return Result{}, wallet.Wrap(wallet.ErrTooManyRecipients, "%d recipients exceeds the %d cap", len(req.Recipients), wallet.TokenRecipientCap)
	}

	tokenUTXOs, plainUTXOs, otherTokenUTXOs := partition(utxos, req.TokenID, wallet.ProtocolALP)
	required := sumAtoms(req.Recipients)

	dustOutputsForChange := func(change *big.Int) int {
		n := len(req.Recipients)
		if change.Sign() > 0 {
			n++
		}
		return n
	}
	carrierBytes := alpCarrierBytes(req.TokenID, len(req.Recipients)+1)

	sel, err := selectAndFund(tokenUTXOs, required, dustOutputsForChange, carrierBytes, req.FeeRateSatPerByte)
	if err != nil {
		return Result{}, err
	}
	hasChange := sel.changeAtoms.Sign() > 0
	dustOutputs := dustOutputsForChange(sel.changeAtoms)

	extraPool := append(append([]wallet.UTXO(nil), plainUTXOs...), otherTokenUTXOs...)
	fp, err := topUpFunding(sel, dustOutputs, extraPool, carrierBytes, req.FeeRateSatPerByte, true)
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
	carrier, err := alpCarrier("alpSend", req.TokenID, amounts)
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
	// ALP emits plain change whenever strictly positive, no dust
	// suppression (§4.9 output ordering step 4).
	if fp.plainChange != nil && fp.plainChange.Sign() > 0 {
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

// BurnALP implements §4.9 "ALP burn": never omission-based, the
// carrier always states burn_atoms explicitly regardless of whether
// there is change.
func BurnALP(req BurnRequest, utxos []wallet.UTXO, keySrc txbuilder.KeySource) (Result, error) {
	tokenUTXOs, plainUTXOs, otherTokenUTXOs := partition(utxos, req.TokenID, wallet.ProtocolALP)

	dustOutputsForChange := func(change *big.Int) int {
		if change.Sign() > 0 {
			return 1
		}
		return 0
	}
	carrierBytes := alpCarrierBytes(req.TokenID, 2)

	sel, err := selectAndFund(tokenUTXOs, req.BurnAtoms, dustOutputsForChange, carrierBytes, req.FeeRateSatPerByte)
	if err != nil {
		return Result{}, err
	}
	hasChange := sel.changeAtoms.Sign() > 0
	dustOutputs := dustOutputsForChange(sel.changeAtoms)

	extraPool := append(append([]wallet.UTXO(nil), plainUTXOs...), otherTokenUTXOs...)
	fp, err := topUpFunding(sel, dustOutputs, extraPool, carrierBytes, req.FeeRateSatPerByte, true)
	if err != nil {
		return Result{}, err
	}

	carrier, err := alpCarrier("alpBurn", req.TokenID, []*big.Int{req.BurnAtoms, sel.changeAtoms})
	if err != nil {
		return Result{}, err
	}

	outs := []*wire.TxOut{wire.NewTxOut(0, carrier)}
	if hasChange {
		out, err := txbuilder.P2PKHOutput(req.ChangeAddress, wallet.DustLimitBig())
		if err != nil {
			return Result{}, err
		}
		outs = append(outs, out)
	}
	if fp.plainChange != nil && fp.plainChange.Sign() > 0 {
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
