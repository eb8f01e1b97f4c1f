// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package resp

import "fmt"

// Error is a RESP2 error reply: a prefix naming the error class plus a
// human-readable message. It implements the standard error interface so
// command handlers can return it like any other Go error; the encoder
// knows how to turn it into a "-PREFIX msg\r\n" frame.
type Error struct {
	Prefix  string
	Message string
}

func (e *Error) Error() string {
	if e.Prefix == "" {
		return e.Message
	}
	return e.Prefix + " " + e.Message
}

func NewError(prefix, message string) *Error {
	return &Error{Prefix: prefix, Message: message}
}

func Errorf(prefix, format string, args ...interface{}) *Error {
	return &Error{Prefix: prefix, Message: fmt.Sprintf(format, args...)}
}

// Error class prefixes.
const (
	PrefixErr       = "ERR"
	PrefixWrongType = "WRONGTYPE"
	PrefixNoAuth    = "NOAUTH"
	PrefixWrongPass = "WRONGPASS"
	PrefixOOM       = "OOM"
	PrefixExecAbort = "EXECABORT"
	PrefixReadOnly  = "READONLY"
	PrefixLoading   = "LOADING"
	PrefixBusy      = "BUSY"
	PrefixNoScript  = "NOSCRIPT"
	PrefixNotBusy   = "NOTBUSY"
)

// Canonical, pre-allocated errors for the hottest error paths: avoiding
// an allocation on every wrong-arity/wrong-type/syntax rejection matters
// under the hundreds-of-KB heap budget this server targets.
var (
	ErrWrongType        = NewError(PrefixWrongType, "Operation against a key holding the wrong kind of value")
	ErrSyntax           = NewError(PrefixErr, "syntax error")
	ErrNotInteger       = NewError(PrefixErr, "value is not an integer or out of range")
	ErrNotFloat         = NewError(PrefixErr, "value is not a valid float")
	ErrNoSuchKey        = NewError(PrefixErr, "no such key")
	ErrIndexOutOfRange  = NewError(PrefixErr, "index out of range")
	ErrExecAbort        = NewError(PrefixExecAbort, "Transaction discarded because of previous errors")
	ErrNotInMulti       = NewError(PrefixErr, "EXEC without MULTI")
	ErrDiscardNoMulti   = NewError(PrefixErr, "DISCARD without MULTI")
	ErrNestedMulti      = NewError(PrefixErr, "MULTI calls can not be nested")
	ErrWatchInsideMulti = NewError(PrefixErr, "WATCH inside MULTI is not allowed")
	ErrNoAuth           = NewError(PrefixNoAuth, "Authentication required.")
	ErrNoPasswordSet    = NewError(PrefixErr, "Client sent AUTH, but no password is set. Did you mean AUTH <username> <password>?")
	ErrTooManyKeys      = NewError(PrefixOOM, "max number of keys reached")
)

func WrongArity(cmd string) *Error {
	return Errorf(PrefixErr, "wrong number of arguments for '%s' command", cmd)
}

func UnknownCommand(cmd string) *Error {
	return Errorf(PrefixErr, "unknown command '%s'", cmd)
}

func WrongPass() *Error {
	return NewError(PrefixWrongPass, "invalid username-password pair or user is disabled.")
}

func OOM(context string) *Error {
	return Errorf(PrefixOOM, "command not allowed when used memory > 'maxmemory', %s", context)
}
