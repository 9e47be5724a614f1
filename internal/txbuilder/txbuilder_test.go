package txbuilder

import (
	"math/big"
	"strings"
	"testing"

	"github.com/zh/minimal-xec-wallet/internal/address"
	"github.com/zh/minimal-xec-wallet/pkg/wallet"
)

// a private key of scalar 1, a valid nonzero secp256k1 secret accepted
// via the bare-64-hex-character fallback (§6).
const testWIFSecret = "0000000000000000000000000000000000000000000000000000000000000001"

func testAddress(t *testing.T, seed byte) string {
	t.Helper()
	var hash [20]byte
	for i := range hash {
		hash[i] = seed + byte(i)
	}
	return address.Encode(hash)
}

func TestAddressEncodeDecodeRoundTrip(t *testing.T) {
	var hash [20]byte
	for i := range hash {
		hash[i] = byte(i + 1)
	}
	addr := address.Encode(hash)
	if !strings.HasPrefix(addr, "ecash:") {
		t.Fatalf("encoded address missing ecash: prefix: %s", addr)
	}
	got, err := address.Decode(addr)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != hash {
		t.Fatalf("round trip mismatch: got %x, want %x", got, hash)
	}
}

func TestP2PKHScriptShape(t *testing.T) {
	var hash [20]byte
	for i := range hash {
		hash[i] = byte(i)
	}
	script := P2PKHScript(hash)
	if len(script) != 25 {
		t.Fatalf("script length = %d, want 25", len(script))
	}
	if script[0] != opDup || script[1] != opHash160 || script[2] != 0x14 {
		t.Fatalf("unexpected script prefix: %x", script[:3])
	}
	if script[23] != opEqualVerify || script[24] != opCheckSig {
		t.Fatalf("unexpected script suffix: %x", script[23:])
	}
}

// S3 (OP_RETURN encoding) — prefix 0x6d 0x02, message "Hi" ⇒ payload
// length 4, script = 0x6a 0x04 0x6d 0x02 0x48 0x69.
func TestOpReturnScriptShortPush(t *testing.T) {
	script, err := OpReturnScript(append([]byte{0x6d, 0x02}, []byte("Hi")...))
	if err != nil {
		t.Fatalf("OpReturnScript: %v", err)
	}
	want := []byte{0x6a, 0x04, 0x6d, 0x02, 0x48, 0x69}
	if string(script) != string(want) {
		t.Fatalf("script = % x, want % x", script, want)
	}
}

// Message of length 74 (prefix 2 bytes + 74 = 76) ⇒ pushdata-1 (0x4c 0x4c).
func TestOpReturnScriptPushData1(t *testing.T) {
	msg := make([]byte, 74)
	for i := range msg {
		msg[i] = 'x'
	}
	payload := append([]byte{0x6d, 0x02}, msg...)
	script, err := OpReturnScript(payload)
	if err != nil {
		t.Fatalf("OpReturnScript: %v", err)
	}
	if script[0] != 0x6a || script[1] != 0x4c || script[2] != 0x4c {
		t.Fatalf("expected pushdata-1 prefix 0x6a 0x4c 0x4c, got % x", script[:3])
	}
	if len(script) != 3+76 {
		t.Fatalf("script length = %d, want %d", len(script), 3+76)
	}
}

func TestOpReturnPayloadTooLarge(t *testing.T) {
	payload := make([]byte, 300)
	if _, err := OpReturnScript(payload); err == nil {
		t.Fatal("expected PAYLOAD_TOO_LARGE error")
	}
}

func TestBuildOpReturnRejectsOversizedMessage(t *testing.T) {
	plan := wallet.Plan{
		Inputs: []wallet.UTXO{{
			Outpoint:     wallet.Outpoint{Txid: strings.Repeat("ab", 32), Vout: 0},
			Sats:         big.NewInt(100000),
			OutputScript: P2PKHScript([20]byte{}),
		}},
		ChangeSats: big.NewInt(0),
	}
	bigMsg := make([]byte, 300)
	_, err := BuildOpReturn(plan, nil, bigMsg, nil, "", WIFKeySource{Secret: testWIFSecret})
	if err == nil {
		t.Fatal("expected PAYLOAD_TOO_LARGE error")
	}
}

// §8 invariant 4 + round-trip law: every recipient decodes to a 20-byte
// hash and the built transaction's first recipient script matches the
// canonical P2PKH shape; serializing then parsing preserves inputs,
// outputs, values, and scripts.
func TestBuildPlainAndRoundTrip(t *testing.T) {
	recipientAddr := testAddress(t, 1)
	changeAddr := testAddress(t, 50)

	txid := strings.Repeat("11", 32)
	plan := wallet.Plan{
		Inputs: []wallet.UTXO{{
			Outpoint:     wallet.Outpoint{Txid: txid, Vout: 0},
			Sats:         big.NewInt(100000),
			OutputScript: P2PKHScript([20]byte{9, 9, 9}),
		}},
		TotalInputSats: big.NewInt(100000),
		EstimatedFee:   big.NewInt(226),
		ChangeSats:     big.NewInt(9774),
	}
	recipients := []wallet.Recipient{{Address: recipientAddr, Sats: big.NewInt(90000)}}

	built, err := BuildPlain(plan, recipients, changeAddr, WIFKeySource{Secret: testWIFSecret})
	if err != nil {
		t.Fatalf("BuildPlain: %v", err)
	}
	if built.RawHex == "" || built.Txid == "" {
		t.Fatalf("expected non-empty raw hex and txid, got %+v", built)
	}

	tx, err := DeserializeHex(built.RawHex)
	if err != nil {
		t.Fatalf("DeserializeHex: %v", err)
	}
	if len(tx.TxIn) != 1 {
		t.Fatalf("TxIn count = %d, want 1", len(tx.TxIn))
	}
	if len(tx.TxOut) != 2 {
		t.Fatalf("TxOut count = %d, want 2 (recipient + change)", len(tx.TxOut))
	}
	if tx.TxOut[0].Value != 90000 {
		t.Fatalf("first output value = %d, want 90000", tx.TxOut[0].Value)
	}
	hash, err := DecodeP2PKHAddress(recipientAddr)
	if err != nil {
		t.Fatalf("DecodeP2PKHAddress: %v", err)
	}
	wantScript := P2PKHScript(hash)
	if string(tx.TxOut[0].PkScript) != string(wantScript) {
		t.Fatalf("first output script = % x, want % x", tx.TxOut[0].PkScript, wantScript)
	}
	if tx.TxOut[1].Value != 9774 {
		t.Fatalf("change output value = %d, want 9774", tx.TxOut[1].Value)
	}

	reserialized, err := SerializeHex(tx)
	if err != nil {
		t.Fatalf("SerializeHex: %v", err)
	}
	if reserialized != built.RawHex {
		t.Fatalf("serialize-then-parse-then-serialize did not round trip: %s != %s", reserialized, built.RawHex)
	}
}

func TestBuildPlainRejectsDustRecipient(t *testing.T) {
	plan := wallet.Plan{
		Inputs: []wallet.UTXO{{
			Outpoint:     wallet.Outpoint{Txid: strings.Repeat("22", 32), Vout: 0},
			Sats:         big.NewInt(100000),
			OutputScript: P2PKHScript([20]byte{}),
		}},
	}
	recipients := []wallet.Recipient{{Address: testAddress(t, 2), Sats: big.NewInt(100)}}
	_, err := BuildPlain(plan, recipients, "", WIFKeySource{Secret: testWIFSecret})
	if err == nil {
		t.Fatal("expected DUST_OUTPUT error for a sub-dust recipient")
	}
}

func TestBuildSweepFailsBelowDust(t *testing.T) {
	utxos := []wallet.UTXO{{
		Outpoint:     wallet.Outpoint{Txid: strings.Repeat("33", 32), Vout: 0},
		Sats:         big.NewInt(600),
		OutputScript: P2PKHScript([20]byte{}),
	}}
	_, err := BuildSweep(utxos, testAddress(t, 3), 1.2, WIFKeySource{Secret: testWIFSecret})
	if err == nil {
		t.Fatal("expected a dust-residual sweep to fail")
	}
}

func TestBuildSweepRejectsTokenUTXO(t *testing.T) {
	utxos := []wallet.UTXO{{
		Outpoint:     wallet.Outpoint{Txid: strings.Repeat("44", 32), Vout: 0},
		Sats:         big.NewInt(100000),
		OutputScript: P2PKHScript([20]byte{}),
		Token:        &wallet.TokenAnnotation{TokenID: "t", Atoms: big.NewInt(1), Protocol: wallet.ProtocolSLP},
	}}
	_, err := BuildSweep(utxos, testAddress(t, 4), 1.2, WIFKeySource{Secret: testWIFSecret})
	if err == nil {
		t.Fatal("expected sweep to refuse a token-bearing utxo")
	}
}
