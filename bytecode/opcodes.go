package bytecode

import "fmt"

// Opcode is a single instruction byte in the serialized tree stream.
//
// The byte values are part of the persisted wire format and must never
// change: streams written by older versions stay readable.
type Opcode byte

const (
	// OpEnter opens a node that has children. Payload: kind id varint,
	// flag byte, position opcode, length varint.
	OpEnter Opcode = 0x01
	// OpExit closes the most recent unmatched OpEnter.
	OpExit Opcode = 0x02
	// OpLeaf encodes a node without children. Payload as OpEnter.
	OpLeaf Opcode = 0x03

	// OpSetPos carries an absolute node start position (unsigned varint).
	OpSetPos Opcode = 0x10
	// OpDeltaPos carries the start position as a zigzag delta from the
	// previous node's start.
	OpDeltaPos Opcode = 0x11

	// OpField tags the next node with a field id (unsigned varint) naming
	// the slot it fills in its parent.
	OpField Opcode = 0x20
	// OpNoField clears any pending field tag. Encoders may omit it; the
	// absence of OpField means no field.
	OpNoField Opcode = 0x21

	// OpRepeatLast is reserved for a future optimization. Decoders
	// recognize it as a no-op.
	OpRepeatLast Opcode = 0x30
	// OpSkip is reserved. Decoders consume its count varint and ignore it.
	OpSkip Opcode = 0x31

	// OpCheckpoint records (node index varint) in the stream; the matching
	// byte offset lives in the checkpoint side table.
	OpCheckpoint Opcode = 0xF0
	// OpEnd terminates the stream.
	OpEnd Opcode = 0xFF
)

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	switch op {
	case OpEnter:
		return "Enter"
	case OpExit:
		return "Exit"
	case OpLeaf:
		return "Leaf"
	case OpSetPos:
		return "SetPos"
	case OpDeltaPos:
		return "DeltaPos"
	case OpField:
		return "Field"
	case OpNoField:
		return "NoField"
	case OpRepeatLast:
		return "RepeatLast"
	case OpSkip:
		return "Skip"
	case OpCheckpoint:
		return "Checkpoint"
	case OpEnd:
		return "End"
	default:
		return fmt.Sprintf("Opcode(0x%02x)", byte(op))
	}
}

// Node flag byte layout. The remaining bits are reserved and must be zero.
const (
	FlagNamed    byte = 1 << 0
	FlagError    byte = 1 << 1
	FlagMissing  byte = 1 << 2
	FlagExtra    byte = 1 << 3
	FlagHasField byte = 1 << 4
)
