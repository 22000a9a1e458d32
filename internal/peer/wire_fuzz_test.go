package peer

import (
	"bytes"
	"testing"

	"github.com/djkazic/wizards-wallet/internal/params"
)

// FuzzReadMessage feeds arbitrary bytes to the framing decoder. It must
// never panic, and a message it accepts must re-encode to one that decodes
// to the same payload.
func FuzzReadMessage(f *testing.F) {
	var tx bytes.Buffer
	_ = WriteMessage(&tx, testNet, &MsgTx{Tx: sampleTx()})
	f.Add(tx.Bytes())
	var block bytes.Buffer
	_ = WriteMessage(&block, testNet, &MsgBlock{Block: params.RegTest.GenesisBlock})
	f.Add(block.Bytes())
	f.Add(frame(testNet, CmdPing, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	f.Add(frame(testNet, CmdHeaders, []byte{0xfe, 0xff, 0xff, 0xff, 0xff}))
	f.Add(frame(testNet, CmdInv, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}))
	f.Add([]byte{0xfa, 0xbf, 0xb5, 0xda})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg, err := ReadMessage(bytes.NewReader(data), testNet, 1<<20)
		if err != nil {
			return
		}
		var buf bytes.Buffer
		if err := WriteMessage(&buf, testNet, msg); err != nil {
			t.Fatalf("re-encode %s: %v", msg.Command(), err)
		}
		again, err := ReadMessage(&buf, testNet, 1<<20)
		if err != nil {
			t.Fatalf("re-decode %s: %v", msg.Command(), err)
		}
		if again.Command() != msg.Command() {
			t.Fatalf("command changed: %q != %q", again.Command(), msg.Command())
		}
		if !bytes.Equal(again.Encode(), msg.Encode()) {
			t.Fatalf("%s payload not stable across round trip", msg.Command())
		}
	})
}
