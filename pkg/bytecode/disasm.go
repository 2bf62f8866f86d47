package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of the whole program.
func Disassemble(p *Program) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; mathvm bytecode v%d\n", FormatVersion))
	sb.WriteString(fmt.Sprintf("; Functions: %d, Natives: %d\n\n", len(p.Functions), len(p.Natives)))

	// Constants
	if len(p.Constants) > 1 {
		sb.WriteString("; Constants:\n")
		for i, s := range p.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %q\n", i, truncate(s, 40)))
		}
		sb.WriteString("\n")
	}

	// Natives
	if len(p.Natives) > 0 {
		sb.WriteString("; Natives:\n")
		for _, n := range p.Natives {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s\n", n.ID, n.Name, n.Signature))
		}
		sb.WriteString("\n")
	}

	for i, f := range p.Functions {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(DisassembleFunction(p, f))
	}
	return sb.String()
}

// DisassembleFunction returns the listing of a single function.
func DisassembleFunction(p *Program, f *Function) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("; === function %d: %s ===\n", f.ID, f.Name))
	sb.WriteString(fmt.Sprintf("; %s %s(", f.ReturnType, f.Name))
	for i, param := range f.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%s %s", param.Type, param.Name))
	}
	sb.WriteString(")")
	if f.Parent != NoParent {
		sb.WriteString(fmt.Sprintf(" parent=%d", f.Parent))
	}
	if f.Native {
		sb.WriteString(" [NATIVE]")
	}
	sb.WriteString("\n")

	// Locals
	if f.LocalsCount > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", f.LocalsCount))
		for slot, name := range f.VarNames {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s\n", slot, f.VarTypes[slot], name))
		}
	}

	// Code section
	code := f.Code
	for at := 0; at < code.Len(); {
		in, err := code.Decode(at)
		if err != nil {
			sb.WriteString(fmt.Sprintf("%04X  <%v>\n", at, err))
			break
		}
		sb.WriteString(fmt.Sprintf("%04X  %s\n", at, formatInstruction(p, f, in)))
		at = in.Next()
	}
	return sb.String()
}

// DisassembleToLines returns the code section of f as a slice of lines.
func DisassembleToLines(p *Program, f *Function) []string {
	var lines []string
	for at := 0; at < f.Code.Len(); {
		in, err := f.Code.Decode(at)
		if err != nil {
			break
		}
		lines = append(lines, fmt.Sprintf("%04X  %s", at, formatInstruction(p, f, in)))
		at = in.Next()
	}
	return lines
}

// formatInstruction renders one instruction with its decoded operands
// and, where available, the names they refer to.
func formatInstruction(p *Program, f *Function, in Instruction) string {
	name := in.Op.String()

	switch {
	case in.Op == OpILoad:
		return fmt.Sprintf("%-14s %d", name, in.Int)
	case in.Op == OpDLoad:
		return fmt.Sprintf("%-14s %v", name, in.Double)
	case in.Op == OpSLoad:
		s, _ := p.Constant(in.U16)
		return fmt.Sprintf("%-14s %d ; %q", name, in.U16, truncate(s, 20))
	case in.Op.IsJump():
		return fmt.Sprintf("%-14s %+d (-> %04X)", name, in.Target-in.Next(), in.Target)
	case in.Op == OpCall:
		if callee, ok := p.Function(in.U16); ok {
			return fmt.Sprintf("%-14s %d ; %s", name, in.U16, callee.Name)
		}
		return fmt.Sprintf("%-14s %d", name, in.U16)
	case in.Op == OpCallNative:
		if n, ok := p.Native(in.U16); ok {
			return fmt.Sprintf("%-14s %d ; %s", name, in.U16, n.Name)
		}
		return fmt.Sprintf("%-14s %d", name, in.U16)
	}

	va, ok := GetVarAccess(in.Op)
	if !ok {
		return name
	}
	switch {
	case va.Ctx:
		owner := f
		if o, found := p.Function(in.U16); found {
			owner = o
		}
		return fmt.Sprintf("%-14s %d %d ; %s.%s", name, in.U16, in.Slot, owner.Name, varName(owner, int(in.Slot)))
	case va.Slot >= 0:
		if n := varName(f, va.Slot); n != "" {
			return fmt.Sprintf("%-14s ; %s", name, n)
		}
		return name
	default:
		return fmt.Sprintf("%-14s %d ; %s", name, in.U16, varName(f, int(in.U16)))
	}
}

func varName(f *Function, slot int) string {
	if slot < len(f.VarNames) {
		return f.VarNames[slot]
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-3] + "..."
	}
	return s
}
