// Package bytecode defines the mathvm stack-machine instruction set and the
// compiled Program artifact shared by the translator and the virtual
// machine.
//
// The bytecode format is designed for:
//   - Compact representation (1 byte opcodes, fixed-width operands)
//   - Safe decoding (every read is bounds checked through Buffer)
//   - Easy serialization (programs are stored as CBOR images)
//
// # Architecture Overview
//
//   - Opcodes: a closed set of typed instructions. Binary instructions
//     compute "upper OP lower", where upper is the top of the stack.
//
//   - Buffer: a function's instruction stream with typed append and read
//     helpers. Branches target Labels; jumps to an unbound label get a
//     placeholder that Bind patches once the label's position is known.
//
//   - Program: the interned string pool (id 0 is ""), function descriptors
//     in id order (id 0 is the top level) and the natives bound by name.
//
//   - Verify: structural checks over a Program, including stack depth
//     agreement at control-flow merges.
//
//   - Images: MarshalImage/UnmarshalImage encode a Program as "MVBC"
//     followed by canonical CBOR.
//
// # Variables
//
// Each function owns a flat array of local slots. A variable declared by
// an enclosing function is reached with the context-qualified opcodes,
// whose first operand is the id of the function that declared it. The VM
// resolves that id along the lexical parent chain, never the call chain.
package bytecode
