// Package clock implements the vector clocks used to order writes across
// peers without requiring a single global authority.
//
// Problem:
// Two peers can edit the same document at the same time, with no
// coordination between them. We need a way to tell, once both versions
// are known to a third peer:
//
//  1. one version causally follows the other → accept the newer one
//  2. one version causally precedes the other → discard it
//  3. neither follows the other → a real conflict, hand it to the resolver
//
// A vector clock solves this.
//
// How it works:
//
// Each document carries a map:
//
//	peerID → counter
//
// Every time a peer writes the document, it increments its own counter.
//
// Example:
//
//	Peer A writes:
//	  {a:1}
//
//	Peer B receives it and stores it, then writes its own change:
//	  {a:1, b:1}
//
//	Later Peer A receives that version back and compares clocks:
//	  b's counter increased and a's did not decrease → the incoming
//	  version causally follows what Peer A has → accept it.
//
// Vector clocks only capture partial ordering — causality, not wall-clock
// time. Two clocks can be genuinely incomparable; that is the signal a
// concurrent edit happened.
package clock

import "maps"

// Relation describes how two vector clocks relate to each other.
type Relation int

const (
	Equal      Relation = iota // both clocks are identical
	Before                     // this clock causally precedes the other
	After                      // this clock causally follows the other
	Concurrent                 // neither precedes the other — a real conflict
)

func (r Relation) String() string {
	switch r {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// Clock is a map from peer id to logical counter.
//
//	{
//	    "peer-a": 3,
//	    "peer-b": 1,
//	}
//
// peer-a has written this document 3 times, peer-b once.
type Clock map[string]uint64

// New returns an empty clock, ready to be incremented.
func New() Clock {
	return make(Clock)
}

// Increment raises the counter for peerID by one. Call this every time
// the local peer produces a new version of the document.
func (c Clock) Increment(peerID string) {
	c[peerID]++
}

// Compare determines how c relates to other.
//
// It checks whether c has any counter strictly greater than other's, and
// vice versa:
//
//  1. c has some counter greater, other has none greater → After
//  2. other has some counter greater, c has none greater → Before
//  3. neither has a greater counter                      → Equal
//  4. both have some counter greater than the other       → Concurrent
func (c Clock) Compare(other Clock) Relation {
	cDominates := false
	otherDominates := false

	for peer, cnt := range c {
		if cnt > other[peer] {
			cDominates = true
		} else if cnt < other[peer] {
			otherDominates = true
		}
	}

	for peer, cnt := range other {
		if _, ok := c[peer]; !ok && cnt > 0 {
			otherDominates = true
		}
	}

	switch {
	case !cDominates && !otherDominates:
		return Equal
	case cDominates && !otherDominates:
		return After
	case !cDominates && otherDominates:
		return Before
	default:
		return Concurrent
	}
}

// HappensBefore reports whether c causally precedes or equals other —
// i.e. other could have been produced with knowledge of c.
func (c Clock) HappensBefore(other Clock) bool {
	switch c.Compare(other) {
	case Before, Equal:
		return true
	default:
		return false
	}
}

// Merge combines two clocks, keeping the maximum counter per peer. Used
// when a concurrent edit is resolved and both histories must be
// preserved going forward.
//
// Merge does not resolve the conflict itself — it only combines version
// history so future comparisons see both edits as already known.
func (c Clock) Merge(other Clock) Clock {
	merged := c.Copy()
	for peer, cnt := range other {
		if cnt > merged[peer] {
			merged[peer] = cnt
		}
	}
	return merged
}

// Copy returns a deep copy of c. Maps are reference types in Go; without
// copying, two clocks could alias the same backing map and corrupt each
// other on the next Increment.
func (c Clock) Copy() Clock {
	out := make(Clock, len(c))
	maps.Copy(out, c)
	return out
}
