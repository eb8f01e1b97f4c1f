// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package storage implements the keyspace and the value kinds a key can
// hold: string, hash, list, set, sorted set, stream, and HyperLogLog.
package storage

// Type tags one of the value kinds a key can hold. WRONGTYPE checks
// compare these, never Go's own dynamic type, so callers never need a
// type switch to ask "is this a string".
type Type byte

const (
	TypeNone Type = iota
	TypeString
	TypeHash
	TypeList
	TypeSet
	TypeZSet
	TypeStream
	TypeHyperLogLog
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeHash:
		return "hash"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	case TypeStream:
		return "stream"
	case TypeHyperLogLog:
		return "string" // HLLs are plain strings from TYPE's point of view in real Redis
	default:
		return "none"
	}
}

// Value is implemented by every concrete value kind a key can hold. The
// keyspace stores Values behind this interface instead of a tagged union
// struct.
type Value interface {
	Type() Type
	// Len reports the kind-specific notion of size: byte length for a
	// string, element count for a collection. Used by approxSize for
	// the maxmemory estimate.
	Len() int
	// Clone returns a deep copy of the value.
	Clone() Value
}
