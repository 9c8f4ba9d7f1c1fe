// Package bytecode implements the compact binary codec for parsed syntax
// trees.
//
// A tree is serialized in preorder as an opcode stream: Enter/Leaf open a
// node (kind id, flag byte, position, length), Exit closes a branch, and End
// terminates the stream. Kind and field names are deduplicated into side
// tables and referenced by small integer ids. Node start positions are
// zigzag deltas from the previous node's start; nodes at checkpoint
// boundaries carry absolute positions so random access can decode from the
// nearest checkpoint without scanning the whole stream.
//
// The serialized envelope is self-describing and integrity-checked
// (magic, version, CRC32C). Decoding never panics on corrupted or truncated
// input; it returns typed errors instead.
package bytecode
