package recorder

import (
	"encoding/binary"
	"testing"
)

// TestOddByteCarryAlignsAcrossReads verifies a trailing odd byte from one
// Read is prepended to the next call instead of being dropped, so an
// unlucky pipe read boundary never permanently desyncs sample framing.
func TestOddByteCarryAlignsAcrossReads(t *testing.T) {
	var c oddByteCarry

	first := c.align([]byte{0x01, 0x02, 0x03})
	if len(first) != 2 || !c.hasPending || c.pending != 0x03 {
		t.Fatalf("expected [0x01 0x02] with 0x03 carried, got %v (pending=%v hasPending=%v)", first, c.pending, c.hasPending)
	}

	second := c.align([]byte{0x04, 0x05})
	want := []byte{0x03, 0x04, 0x05}
	if len(second) != 2 {
		t.Fatalf("expected an even-length result after carry+new odd byte, got %v", second)
	}
	if second[0] != want[0] || second[1] != want[1] {
		t.Fatalf("expected carried byte 0x03 prepended, got %v", second)
	}
	if !c.hasPending || c.pending != 0x05 {
		t.Fatalf("expected 0x05 carried forward, got pending=%v hasPending=%v", c.pending, c.hasPending)
	}
}

// TestIQToStereo16CarriesOddByteAcrossReads verifies a single I/Q pair split
// across two Read calls converts to the same stereo frame it would if
// delivered in one call, instead of the I and Q channels ending up
// permanently swapped for the rest of the capture.
func TestIQToStereo16CarriesOddByteAcrossReads(t *testing.T) {
	whole := newIQToStereo16()
	wholeOut := whole.apply([]byte{200, 50})

	split := newIQToStereo16()
	firstOut := split.apply([]byte{200})
	if len(firstOut) != 0 {
		t.Fatalf("expected no output from a single buffered byte, got %v", firstOut)
	}
	secondOut := split.apply([]byte{50})

	if len(secondOut) != len(wholeOut) {
		t.Fatalf("split conversion produced %d bytes, whole produced %d", len(secondOut), len(wholeOut))
	}
	for i := range wholeOut {
		if secondOut[i] != wholeOut[i] {
			t.Fatalf("split conversion diverged at byte %d: got %v, want %v", i, secondOut, wholeOut)
		}
	}
}

// TestDCBlockFIR9CarriesOddByteAcrossReads verifies the DC-block filter's
// sample history advances identically whether a 2-byte sample arrives in
// one Read or split across two.
func TestDCBlockFIR9CarriesOddByteAcrossReads(t *testing.T) {
	raw := make([]byte, 4)
	sampleA := int16(1000)
	sampleB := int16(-500)
	binary.LittleEndian.PutUint16(raw[0:], uint16(sampleA))
	binary.LittleEndian.PutUint16(raw[2:], uint16(sampleB))

	whole := newDCBlockFIR9()
	wholeOut := whole.apply(raw)

	split := newDCBlockFIR9()
	firstOut := split.apply(raw[:3])
	secondOut := split.apply(raw[3:])
	combined := append(firstOut, secondOut...)

	if len(combined) != len(wholeOut) {
		t.Fatalf("split filtering produced %d bytes, whole produced %d", len(combined), len(wholeOut))
	}
	for i := range wholeOut {
		if combined[i] != wholeOut[i] {
			t.Fatalf("split filtering diverged at byte %d: got %v, want %v", i, combined, wholeOut)
		}
	}
}
