// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"bytes"

	"github.com/cockroachdb/redact"
)

// KeyRange is a user key interval with an inclusive start. The end is
// inclusive unless RightExclusive is set. A nil Right means the interval is
// unbounded above; since the empty key sorts first, an empty Left is
// unbounded below.
//
// The zero value is the infinite range.
type KeyRange struct {
	Left           []byte
	Right          []byte
	RightExclusive bool
}

// KeyRangeInclusive creates the range [left, right].
func KeyRangeInclusive(left, right []byte) KeyRange {
	return KeyRange{Left: left, Right: right}
}

// KeyRangeEndExclusive creates the range [left, right).
func KeyRangeEndExclusive(left, right []byte) KeyRange {
	return KeyRange{Left: left, Right: right, RightExclusive: true}
}

// InfKeyRange returns the range covering every key.
func InfKeyRange() KeyRange {
	return KeyRange{}
}

// IsInf returns true if the range covers every key.
func (r KeyRange) IsInf() bool {
	return len(r.Left) == 0 && r.Right == nil
}

// IsEmpty returns true if the range contains no key.
func (r KeyRange) IsEmpty() bool {
	if r.Right == nil {
		return false
	}
	c := bytes.Compare(r.Left, r.Right)
	return c > 0 || (c == 0 && r.RightExclusive)
}

// EndsBefore returns true if every key of the range sorts before key.
func (r KeyRange) EndsBefore(key []byte) bool {
	if r.Right == nil {
		return false
	}
	c := bytes.Compare(r.Right, key)
	return c < 0 || (c == 0 && r.RightExclusive)
}

// ContainsKey returns true if key is within the range.
func (r KeyRange) ContainsKey(key []byte) bool {
	return bytes.Compare(r.Left, key) <= 0 && !r.EndsBefore(key)
}

// Overlaps returns true if the two ranges share at least one key. Empty
// ranges overlap nothing.
func (r KeyRange) Overlaps(other KeyRange) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	// There is no overlap iff one interval ends before the other starts.
	return !r.EndsBefore(other.Left) && !other.EndsBefore(r.Left)
}

// CompareRight compares the end boundaries of two ranges. An unbounded end is
// larger than any bounded one; at the same key an exclusive end is smaller
// than an inclusive one.
func (r KeyRange) CompareRight(other KeyRange) int {
	switch {
	case r.Right == nil && other.Right == nil:
		return 0
	case r.Right == nil:
		return +1
	case other.Right == nil:
		return -1
	}
	if c := bytes.Compare(r.Right, other.Right); c != 0 {
		return c
	}
	switch {
	case r.RightExclusive == other.RightExclusive:
		return 0
	case r.RightExclusive:
		return -1
	default:
		return +1
	}
}

// Extend returns the smallest range containing both r and other. Empty ranges
// are ignored.
func (r KeyRange) Extend(other KeyRange) KeyRange {
	if r.IsEmpty() {
		return other
	}
	if other.IsEmpty() {
		return r
	}
	res := r
	if bytes.Compare(other.Left, r.Left) < 0 {
		res.Left = other.Left
	}
	if r.CompareRight(other) < 0 {
		res.Right = other.Right
		res.RightExclusive = other.RightExclusive
	}
	return res
}

// Clone returns a deep copy of the range.
func (r KeyRange) Clone() KeyRange {
	res := KeyRange{RightExclusive: r.RightExclusive}
	if r.Left != nil {
		res.Left = bytes.Clone(r.Left)
	}
	if r.Right != nil {
		res.Right = bytes.Clone(r.Right)
	}
	return res
}

func (r KeyRange) String() string {
	return redact.StringWithoutMarkers(r)
}

// SafeFormat implements redact.SafeFormatter.
func (r KeyRange) SafeFormat(w redact.SafePrinter, _ rune) {
	if len(r.Left) == 0 {
		w.SafeString("[-inf")
	} else {
		w.Printf("[%s", r.Left)
	}
	switch {
	case r.Right == nil:
		w.SafeString(", +inf)")
	case r.RightExclusive:
		w.Printf(", %s)", r.Right)
	default:
		w.Printf(", %s]", r.Right)
	}
}
