package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/mathvm/pkg/value"
)

func TestDisassembleProgram(t *testing.T) {
	out := Disassemble(sampleProgram(t))

	wants := []string{
		"; mathvm bytecode v1",
		"; Constants:",
		`"hi\n"`,
		"; Natives:",
		"sqrt double(double)",
		"; === function 0: <top> ===",
		"; === function 1: sqrt ===",
		"[NATIVE]",
		"SLOAD",
		"STORESVAR0     ; s",
		"CALL           1 ; sqrt",
		"CALLNATIVE     0 ; sqrt",
		"STOP",
	}
	for _, want := range wants {
		if !strings.Contains(out, want) {
			t.Errorf("disassembly missing %q:\n%s", want, out)
		}
	}
}

func TestDisassembleJumpsAndContext(t *testing.T) {
	p := NewProgram()
	top := &Function{Name: "<top>", Parent: NoParent}
	top.AddLocal("n", value.Int)
	p.AddFunction(top)

	b := top.Code
	loop := NewLabel()
	b.Bind(loop)
	b.EmitU16Pair(OpLoadCtxIVar, 0, 0)
	b.Emit(OpPop)
	b.EmitJump(OpJa, loop)

	lines := DisassembleToLines(p, top)
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "LOADCTXIVAR    0 0 ; <top>.n") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[2], "JA             -9 (-> 0000)") {
		t.Errorf("line 2 = %q", lines[2])
	}
}

func TestDisassembleUndecodable(t *testing.T) {
	p := NewProgram()
	top := &Function{Name: "<top>", Parent: NoParent, Code: BufferFrom([]byte{0xFE})}
	p.AddFunction(top)
	if out := DisassembleFunction(p, top); !strings.Contains(out, "unknown opcode") {
		t.Errorf("disassembly = %q", out)
	}
}
