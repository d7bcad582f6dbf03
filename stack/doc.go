// Package stack allocates guarded kernel stacks.
//
// Each stack lives in its own sub-region sized to the stack plus one guard
// page on either side. The stack mapping sits between the guards and is
// pre-faulted in full so that running on it never takes a page fault:
//
//	| guard | stack (read/write, committed) | guard |
//
// Allocate either returns a complete stack or leaves nothing behind. A Set
// bundles the safe stack with an optional unsafe stack and rolls back the
// first when the second cannot be allocated.
package stack
