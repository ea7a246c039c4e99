package guac

import (
	"strings"
	"testing"
	"testing/quick"
)

func TestInstructionEncode(t *testing.T) {
	cases := []struct {
		inst Instruction
		want string
	}{
		{NewInstruction("mouse", "0", "100", "200"), "5.mouse,1.0,3.100,3.200;"},
		{NewInstruction(""), "0.;"},
		{NewInstruction("nop"), "3.nop;"},
	}
	for _, c := range cases {
		if got := c.inst.Encode(); got != c.want {
			t.Errorf("Encode(%v) = %q, want %q", c.inst, got, c.want)
		}
	}
}

func TestInstructionEncodeMeasuresCodePoints(t *testing.T) {
	// "日本語" is 3 code points but 9 bytes in UTF-8; the length prefix
	// must reflect code points, or a real guacd decoder desyncs.
	inst := NewInstruction("clipboard", "日本語")
	want := "9.clipboard,3.日本語;"
	if got := inst.Encode(); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestDecodeOneRoundTrip(t *testing.T) {
	inst := NewInstruction("mouse", "0", "100", "200")
	encoded := inst.Encode()
	decoded, err := DecodeOne(encoded)
	if err != nil {
		t.Fatalf("DecodeOne: %v", err)
	}
	if len(decoded) != len(inst) {
		t.Fatalf("len = %d, want %d", len(decoded), len(inst))
	}
	for i := range inst {
		if decoded[i] != inst[i] {
			t.Errorf("arg %d = %q, want %q", i, decoded[i], inst[i])
		}
	}
}

func TestInstructionRoundTripProperty(t *testing.T) {
	f := func(opcode string, a, b string) bool {
		// The codec carries UTF-8 text only; skip any generated input
		// that is not valid UTF-8.
		if !isValidUTF8(opcode) || !isValidUTF8(a) || !isValidUTF8(b) {
			return true
		}
		inst := NewInstruction(opcode, a, b)
		encoded := inst.Encode()
		decoded, err := DecodeOne(encoded)
		if err != nil {
			return false
		}
		if len(decoded) != len(inst) {
			return false
		}
		for i := range inst {
			if decoded[i] != inst[i] {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Error(err)
	}
}

func isValidUTF8(s string) bool {
	return strings.ToValidUTF8(s, "") == s
}
