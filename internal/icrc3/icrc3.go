// Package icrc3 implements the ICRC-3 generic value model and its
// representation-independent hash, which is the chaining hash of the ledger.
//
// Every block is a Value. The hash of a Value does not depend on the order of
// map fields or on how the value is laid out in memory, so any party holding a
// block can recompute the phash stored in its successor.
//
// Hashing rules:
//   - Nat: SHA-256 of the unsigned LEB128 encoding.
//   - Int: SHA-256 of the signed LEB128 encoding.
//   - Text: SHA-256 of the UTF-8 bytes.
//   - Blob: SHA-256 of the bytes.
//   - Array: SHA-256 of the concatenated element hashes.
//   - Map: SHA-256 of the bytewise-sorted concatenation of hash(key)||hash(value).
package icrc3
