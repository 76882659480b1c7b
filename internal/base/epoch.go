// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package base

import (
	"fmt"
	"math"
	"time"
)

// Epoch is a hybrid timestamp: the physical time in milliseconds since
// EpochOrigin shifted left by 16 bits, plus a logical counter in the low bits.
type Epoch uint64

const epochPhysicalShift = 16

// MaxEpoch is larger than every epoch assigned to a write.
const MaxEpoch Epoch = math.MaxUint64

// EpochOrigin is the zero point of the physical part of an Epoch.
var EpochOrigin = time.Date(2021, time.January, 1, 0, 0, 0, 0, time.UTC)

// EpochFromPhysicalTime returns the smallest epoch with the given physical
// time (milliseconds since EpochOrigin).
func EpochFromPhysicalTime(millis uint64) Epoch {
	return Epoch(millis << epochPhysicalShift)
}

// EpochFromTime returns the smallest epoch at wall time t. Times before
// EpochOrigin map to epoch zero.
func EpochFromTime(t time.Time) Epoch {
	millis := t.Sub(EpochOrigin).Milliseconds()
	if millis < 0 {
		return 0
	}
	return EpochFromPhysicalTime(uint64(millis))
}

// PhysicalTime returns the milliseconds since EpochOrigin encoded in e.
func (e Epoch) PhysicalTime() uint64 {
	return uint64(e) >> epochPhysicalShift
}

// Time returns the wall time encoded in e.
func (e Epoch) Time() time.Time {
	return EpochOrigin.Add(time.Duration(e.PhysicalTime()) * time.Millisecond)
}

// SubtractMillis returns the smallest epoch whose physical time is millis
// earlier than e's, saturating at zero.
func (e Epoch) SubtractMillis(millis uint64) Epoch {
	p := e.PhysicalTime()
	if p < millis {
		return 0
	}
	return EpochFromPhysicalTime(p - millis)
}

func (e Epoch) String() string {
	if e == MaxEpoch {
		return "max"
	}
	return fmt.Sprintf("%d", uint64(e))
}

// SafeValue implements redact.SafeValue.
func (Epoch) SafeValue() {}
