// Package storage defines the outcome ledger: one Record per orchestration
// run or batch entry, with its terminal status, attempt count and usage.
//
// Backends live in subpackages (memory, postgres, sqlite). The ledger
// stores outcomes only; conversations are never persisted.
package storage
