// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package storage

import (
	"math"
	"math/big"

	"github.com/ClusterCockpit/microredis-go/resp"
)

// BitFieldOverflow selects how an out-of-range SET/INCRBY result is
// handled: wrap modulo the field's width, saturate to the type's
// boundary, or fail the sub-operation without touching the string.
type BitFieldOverflow int

const (
	BitFieldWrap BitFieldOverflow = iota
	BitFieldSat
	BitFieldFail
)

// BitFieldOpKind is one BITFIELD sub-operation.
type BitFieldOpKind int

const (
	BitFieldGet BitFieldOpKind = iota
	BitFieldSet
	BitFieldIncrBy
)

// BitFieldOp is one parsed BITFIELD clause: an absolute bit offset
// (already resolved from "#N" notation), a signed/unsigned width, and
// for SET/INCRBY the operand and the overflow mode in effect when it
// was parsed.
type BitFieldOp struct {
	Kind     BitFieldOpKind
	Signed   bool
	Width    int
	Offset   int64
	Value    int64
	Overflow BitFieldOverflow
}

// BitField runs a sequence of GET/SET/INCRBY sub-operations against one
// string, growing it as needed, and returns one result per op. A nil
// entry means the op failed its overflow check under BitFieldFail and
// left the string untouched.
func (s *Storage) BitField(key string, ops []BitFieldOp) ([]*int64, error) {
	v, ok := s.lookup(key)
	var sv *StringValue
	if ok {
		existing, isStr := v.(*StringValue)
		if !isStr {
			return nil, resp.ErrWrongType
		}
		sv = existing
	} else {
		sv = &StringValue{}
	}

	results := make([]*int64, len(ops))
	mutated := false
	for i, op := range ops {
		neededBytes := int((op.Offset + int64(op.Width) + 7) / 8)
		if neededBytes > maxBitStringBytes {
			return nil, resp.NewError(resp.PrefixErr, "bit offset is not an integer or out of range")
		}
		if op.Kind != BitFieldGet && neededBytes > len(sv.Bytes) {
			padded := make([]byte, neededBytes)
			copy(padded, sv.Bytes)
			sv.Bytes = padded
		}

		old := readBitField(sv.Bytes, op.Offset, op.Width, op.Signed)

		switch op.Kind {
		case BitFieldGet:
			val := old
			results[i] = &val
		case BitFieldSet:
			newVal, ok := resolveBitFieldOverflow(big.NewInt(op.Value), op.Signed, op.Width, op.Overflow)
			if !ok {
				results[i] = nil
				continue
			}
			writeBitField(sv.Bytes, op.Offset, op.Width, newVal)
			oldCopy := old
			results[i] = &oldCopy
			mutated = true
		case BitFieldIncrBy:
			sum := new(big.Int).Add(big.NewInt(old), big.NewInt(op.Value))
			newVal, ok := resolveBitFieldOverflow(sum, op.Signed, op.Width, op.Overflow)
			if !ok {
				results[i] = nil
				continue
			}
			writeBitField(sv.Bytes, op.Offset, op.Width, newVal)
			results[i] = &newVal
			mutated = true
		}
	}

	if mutated {
		if err := s.setKeepTTL(key, sv); err != nil {
			return nil, err
		}
		s.bumpVersion(key)
		s.changesSinceSave++
	}
	return results, nil
}

// readBitField reads width bits starting at the given absolute bit
// offset (big-endian, zero-padded past the end of data) and interprets
// them as signed or unsigned.
func readBitField(data []byte, offset int64, width int, signed bool) int64 {
	var raw uint64
	for i := 0; i < width; i++ {
		bitPos := offset + int64(i)
		byteIdx := int(bitPos / 8)
		bitIdx := uint(7 - bitPos%8)
		var bit uint64
		if byteIdx < len(data) {
			bit = uint64((data[byteIdx] >> bitIdx) & 1)
		}
		raw = raw<<1 | bit
	}
	if signed {
		return signExtend(raw, width)
	}
	return int64(raw)
}

func writeBitField(data []byte, offset int64, width int, value int64) {
	raw := truncateToWidth(value, width)
	for i := 0; i < width; i++ {
		bitPos := offset + int64(i)
		byteIdx := int(bitPos / 8)
		bitIdx := uint(7 - bitPos%8)
		bit := (raw >> uint(width-1-i)) & 1
		if bit != 0 {
			data[byteIdx] |= 1 << bitIdx
		} else {
			data[byteIdx] &^= 1 << bitIdx
		}
	}
}

func signExtend(raw uint64, width int) int64 {
	if width == 64 {
		return int64(raw)
	}
	signBit := uint64(1) << uint(width-1)
	if raw&signBit != 0 {
		return int64(raw) - int64(1)<<uint(width)
	}
	return int64(raw)
}

func truncateToWidth(value int64, width int) uint64 {
	if width == 64 {
		return uint64(value)
	}
	mask := uint64(1)<<uint(width) - 1
	return uint64(value) & mask
}

// bitFieldBounds returns the inclusive [min, max] a width-bit
// signed/unsigned field can hold.
func bitFieldBounds(signed bool, width int) (min, max *big.Int) {
	if signed {
		if width == 64 {
			return big.NewInt(math.MinInt64), big.NewInt(math.MaxInt64)
		}
		max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width-1)), big.NewInt(1))
		min = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), uint(width-1)))
		return min, max
	}
	max = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), uint(width)), big.NewInt(1))
	return big.NewInt(0), max
}

// resolveBitFieldOverflow clamps/wraps actual into width's range per
// mode, or reports ok=false for BitFieldFail when it doesn't fit as-is.
func resolveBitFieldOverflow(actual *big.Int, signed bool, width int, mode BitFieldOverflow) (int64, bool) {
	min, max := bitFieldBounds(signed, width)
	if actual.Cmp(min) >= 0 && actual.Cmp(max) <= 0 {
		return actual.Int64(), true
	}
	switch mode {
	case BitFieldSat:
		if actual.Cmp(max) > 0 {
			return max.Int64(), true
		}
		return min.Int64(), true
	case BitFieldFail:
		return 0, false
	default: // BitFieldWrap
		modulus := new(big.Int).Lsh(big.NewInt(1), uint(width))
		wrapped := new(big.Int).Mod(actual, modulus)
		raw := wrapped.Uint64()
		if signed {
			return signExtend(raw, width), true
		}
		return int64(raw), true
	}
}
