// Copyright 2024 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cockroachdb/crlib/crstrings"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
)

// debugParser is a helper used to implement parsing of debug strings, like
// ParseSstableInfoDebug.
//
// It takes a string and splits it into tokens. Tokens are separated by
// whitespace; in addition separators ":-[]()" are always separate tokens. For
// example, the string `000001:[a - b]` results in tokens `000001`,
// `:`, `[`, `a`, `-`, `b`, `]`, .
//
// All debugParser methods throw panics instead of returning errors. The code
// that uses a debugParser can recover them and convert them to errors.
type debugParser struct {
	original  string
	tokens    []string
	lastToken string
}

const debugParserSeparators = ":-[]()"

func makeDebugParser(s string) debugParser {
	p := debugParser{
		original: s,
	}
	for _, f := range strings.Fields(s) {
		for f != "" {
			pos := strings.IndexAny(f, debugParserSeparators)
			if pos == -1 {
				p.tokens = append(p.tokens, f)
				break
			}
			if pos > 0 {
				p.tokens = append(p.tokens, f[:pos])
			}
			p.tokens = append(p.tokens, f[pos:pos+1])
			f = f[pos+1:]
		}
	}
	return p
}

// Done returns true if there are no more tokens.
func (p *debugParser) Done() bool {
	return len(p.tokens) == 0
}

// Peek returns the next token, without consuming the token. Returns "" if there
// are no more tokens.
func (p *debugParser) Peek() string {
	if p.Done() {
		p.lastToken = ""
		return ""
	}
	p.lastToken = p.tokens[0]
	return p.tokens[0]
}

// Next returns the next token, or "" if there are no more tokens.
func (p *debugParser) Next() string {
	res := p.Peek()
	if res != "" {
		p.tokens = p.tokens[1:]
	}
	return res
}

// Expect consumes the next tokens, verifying that they exactly match the
// arguments.
func (p *debugParser) Expect(tokens ...string) {
	for _, tok := range tokens {
		if res := p.Next(); res != tok {
			p.Errf("expected %q, got %q", tok, res)
		}
	}
}

// Uint64 parses the next token as an uint64.
func (p *debugParser) Uint64() uint64 {
	x, err := strconv.ParseUint(p.Next(), 10, 64)
	if err != nil {
		p.Errf("cannot parse number: %v", err)
	}
	return x
}

// TableIDs parses a comma separated list of table ids.
func (p *debugParser) TableIDs() []base.TableID {
	var ids []base.TableID
	for _, f := range strings.Split(p.Next(), ",") {
		x, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			p.Errf("cannot parse table id: %v", err)
		}
		ids = append(ids, base.TableID(x))
	}
	return ids
}

// Errf panics with an error which includes the original string and the last
// token.
func (p *debugParser) Errf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	panic(errors.Errorf("error parsing %q at token %q: %s", p.original, p.lastToken, msg))
}

// errFromPanic can be used in a recover block to convert panics into errors.
func errFromPanic(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Errorf("%v", r)
}

// ParseSstableInfoDebug parses an sstable from its DebugString
// representation, e.g.
//
//	5:[a-c] size:10 tables:[1,2] epochs:[1-3] keys:100 stale:20 tombstones:1
//
// A closing ")" makes the end of the key range exclusive. Omitted fields are
// zero.
func ParseSstableInfoDebug(s string) (_ *SstableInfo, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errFromPanic(r)
		}
	}()
	p := makeDebugParser(s)
	m := &SstableInfo{}
	m.SstID = base.SstID(p.Uint64())
	p.Expect(":", "[")
	m.KeyRange.Left = []byte(p.Next())
	p.Expect("-")
	m.KeyRange.Right = []byte(p.Next())
	switch closer := p.Next(); closer {
	case "]":
	case ")":
		m.KeyRange.RightExclusive = true
	default:
		p.Errf("expected ] or ), got %q", closer)
	}
	for !p.Done() {
		field := p.Next()
		p.Expect(":")
		switch field {
		case "size":
			m.FileSize = p.Uint64()
		case "tables":
			p.Expect("[")
			m.TableIDs = p.TableIDs()
			p.Expect("]")
		case "epochs":
			p.Expect("[")
			m.MinEpoch = base.Epoch(p.Uint64())
			p.Expect("-")
			m.MaxEpoch = base.Epoch(p.Uint64())
			p.Expect("]")
		case "keys":
			m.TotalKeyCount = p.Uint64()
		case "stale":
			m.StaleKeyCount = p.Uint64()
		case "tombstones":
			m.RangeTombstoneCount = p.Uint64()
		default:
			p.Errf("unknown field %q", field)
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseLevels parses a layout in the format produced by Levels.String:
//
//	L0.1 overlapping:
//	  1:[a-c] size:10
//	L0.2:
//	  2:[a-b]
//	L1:
//	  10:[a-f] size:100
//
// Sub-levels are non-overlapping unless marked otherwise and must appear
// oldest first. Levels that are not mentioned are empty. An optional
// "members:" line lists the group's member table ids.
func ParseLevels(
	groupID base.CompactionGroupID, maxLevel int, input string,
) (_ *Levels, err error) {
	levels := NewLevels(groupID, maxLevel)
	var cur *Level
	var curTables []*SstableInfo
	flush := func() {
		if cur == nil {
			return
		}
		if cur.LevelIdx == 0 {
			levels.AddSubLevel(cur.SubLevelID, cur.LevelType, curTables)
		} else {
			levels.SetLevel(int(cur.LevelIdx), curTables)
		}
		cur, curTables = nil, nil
	}
	for _, line := range crstrings.Lines(input) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "members:") {
			for _, f := range strings.Fields(strings.TrimPrefix(trimmed, "members:")) {
				id, err := strconv.ParseUint(strings.TrimSuffix(f, ","), 10, 32)
				if err != nil {
					return nil, base.CorruptionErrorf("invalid member table id %q", f)
				}
				levels.MemberTableIDs = append(levels.MemberTableIDs, base.TableID(id))
			}
			continue
		}
		if trimmed[0] == 'L' {
			flush()
			lvl, err := parseLevelHeader(trimmed, maxLevel)
			if err != nil {
				return nil, err
			}
			cur = &lvl
			continue
		}
		if cur == nil {
			return nil, base.CorruptionErrorf("sstable %q outside of a level", trimmed)
		}
		m, err := ParseSstableInfoDebug(trimmed)
		if err != nil {
			return nil, err
		}
		curTables = append(curTables, m)
	}
	flush()
	if err := levels.CheckInvariants(); err != nil {
		return nil, err
	}
	return levels, nil
}

func parseLevelHeader(line string, maxLevel int) (Level, error) {
	fields := strings.Fields(strings.TrimSuffix(line, ":"))
	name := strings.TrimSuffix(fields[0], ":")
	var lvl Level
	if sub, ok := strings.CutPrefix(name, "L0."); ok {
		id, err := strconv.ParseUint(sub, 10, 64)
		if err != nil {
			return Level{}, base.CorruptionErrorf("invalid sub-level %q", name)
		}
		lvl = Level{LevelIdx: 0, LevelType: LevelTypeNonoverlapping, SubLevelID: id}
	} else {
		idx, err := strconv.Atoi(strings.TrimPrefix(name, "L"))
		if err != nil || idx < 1 || idx > maxLevel {
			return Level{}, base.CorruptionErrorf("invalid level %q", name)
		}
		lvl = Level{LevelIdx: uint32(idx), LevelType: LevelTypeNonoverlapping}
	}
	for _, f := range fields[1:] {
		switch f {
		case "overlapping":
			if lvl.LevelIdx != 0 {
				return Level{}, base.CorruptionErrorf("%s cannot be overlapping", name)
			}
			lvl.LevelType = LevelTypeOverlapping
		default:
			return Level{}, base.CorruptionErrorf("unknown level attribute %q", f)
		}
	}
	return lvl, nil
}
