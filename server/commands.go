// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package server

import (
	"strconv"

	"github.com/ClusterCockpit/microredis-go/resp"
	"github.com/ClusterCockpit/microredis-go/router"
	"github.com/ClusterCockpit/microredis-go/snapshot"
	"github.com/ClusterCockpit/microredis-go/storage"
)

// registerCommands builds the dispatch table (router.CommandInfo rows)
// and the handler map together, the same way a real command ever only
// has one source of truth for its own arity/flags/key-positions.
func (srv *Server) registerCommands() {
	reg := func(info router.CommandInfo, h HandlerFunc) {
		srv.table.Register(info)
		srv.handlers[info.Name] = h
	}

	reg(router.CommandInfo{Name: "PING", Arity: -1, Flags: router.FlagFast}, cmdPing)
	reg(router.CommandInfo{Name: "ECHO", Arity: 2, Flags: router.FlagFast}, cmdEcho)
	reg(router.CommandInfo{Name: "AUTH", Arity: -2, Flags: router.FlagFast}, cmdAuth)
	reg(router.CommandInfo{Name: "QUIT", Arity: 1}, cmdQuit)

	reg(router.CommandInfo{Name: "GET", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdGet)
	reg(router.CommandInfo{Name: "SET", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSet)
	reg(router.CommandInfo{Name: "APPEND", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdAppend)
	reg(router.CommandInfo{Name: "STRLEN", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdStrlen)
	reg(router.CommandInfo{Name: "GETRANGE", Arity: 4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdGetRange)
	reg(router.CommandInfo{Name: "SETRANGE", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSetRange)
	reg(router.CommandInfo{Name: "INCR", Arity: 2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdIncr)
	reg(router.CommandInfo{Name: "DECR", Arity: 2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdDecr)
	reg(router.CommandInfo{Name: "INCRBY", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdIncrBy)
	reg(router.CommandInfo{Name: "DECRBY", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdDecrBy)
	reg(router.CommandInfo{Name: "INCRBYFLOAT", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdIncrByFloat)
	reg(router.CommandInfo{Name: "SETNX", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSetNX)
	reg(router.CommandInfo{Name: "SETEX", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSetEX)
	reg(router.CommandInfo{Name: "PSETEX", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdPSetEX)
	reg(router.CommandInfo{Name: "GETSET", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdGetSet)
	reg(router.CommandInfo{Name: "GETDEL", Arity: 2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdGetDel)
	reg(router.CommandInfo{Name: "GETEX", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdGetEx)
	reg(router.CommandInfo{Name: "MGET", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdMGet)
	reg(router.CommandInfo{Name: "MSET", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 2}, cmdMSet)
	reg(router.CommandInfo{Name: "MSETNX", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 2}, cmdMSetNX)
	reg(router.CommandInfo{Name: "SETBIT", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSetBit)
	reg(router.CommandInfo{Name: "GETBIT", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdGetBit)
	reg(router.CommandInfo{Name: "BITCOUNT", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdBitCount)
	reg(router.CommandInfo{Name: "BITPOS", Arity: -3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdBitPos)
	reg(router.CommandInfo{Name: "BITOP", Arity: -4, Flags: router.FlagWrite, FirstKey: 2, LastKey: -1, Step: 1}, cmdBitOp)
	reg(router.CommandInfo{Name: "BITFIELD", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdBitField)

	reg(router.CommandInfo{Name: "DEL", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 1}, cmdDel)
	reg(router.CommandInfo{Name: "EXISTS", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdExists)
	reg(router.CommandInfo{Name: "TYPE", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdType)
	reg(router.CommandInfo{Name: "KEYS", Arity: 2, Flags: router.FlagReadonly}, cmdKeys)
	reg(router.CommandInfo{Name: "RENAME", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 2, Step: 1}, cmdRename)
	reg(router.CommandInfo{Name: "RENAMENX", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 2, Step: 1}, cmdRenameNX)
	reg(router.CommandInfo{Name: "FLUSHALL", Arity: -1, Flags: router.FlagWrite | router.FlagAdmin}, cmdFlushAll)
	reg(router.CommandInfo{Name: "FLUSHDB", Arity: -1, Flags: router.FlagWrite | router.FlagAdmin}, cmdFlushAll)
	reg(router.CommandInfo{Name: "DBSIZE", Arity: 1, Flags: router.FlagReadonly}, cmdDBSize)

	reg(router.CommandInfo{Name: "EXPIRE", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdExpire)
	reg(router.CommandInfo{Name: "PEXPIRE", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdPExpire)
	reg(router.CommandInfo{Name: "EXPIREAT", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdExpireAt)
	reg(router.CommandInfo{Name: "PEXPIREAT", Arity: 3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdPExpireAt)
	reg(router.CommandInfo{Name: "TTL", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdTTL)
	reg(router.CommandInfo{Name: "PTTL", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdPTTL)
	reg(router.CommandInfo{Name: "PERSIST", Arity: 2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdPersist)

	reg(router.CommandInfo{Name: "HSET", Arity: -4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHSet)
	reg(router.CommandInfo{Name: "HGET", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHGet)
	reg(router.CommandInfo{Name: "HDEL", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHDel)
	reg(router.CommandInfo{Name: "HGETALL", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHGetAll)
	reg(router.CommandInfo{Name: "HEXISTS", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHExists)
	reg(router.CommandInfo{Name: "HLEN", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHLen)
	reg(router.CommandInfo{Name: "HKEYS", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHKeys)
	reg(router.CommandInfo{Name: "HINCRBY", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHIncrBy)
	reg(router.CommandInfo{Name: "HINCRBYFLOAT", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHIncrByFloat)
	reg(router.CommandInfo{Name: "HMGET", Arity: -3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHMGet)
	reg(router.CommandInfo{Name: "HMSET", Arity: -4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHMSet)
	reg(router.CommandInfo{Name: "HSETNX", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdHSetNX)
	reg(router.CommandInfo{Name: "HVALS", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdHVals)

	reg(router.CommandInfo{Name: "LPUSH", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLPush)
	reg(router.CommandInfo{Name: "RPUSH", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdRPush)
	reg(router.CommandInfo{Name: "LPOP", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLPop)
	reg(router.CommandInfo{Name: "RPOP", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdRPop)
	reg(router.CommandInfo{Name: "LLEN", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdLLen)
	reg(router.CommandInfo{Name: "LRANGE", Arity: 4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdLRange)
	reg(router.CommandInfo{Name: "LINDEX", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdLIndex)
	reg(router.CommandInfo{Name: "LSET", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLSet)
	reg(router.CommandInfo{Name: "LREM", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLRem)
	reg(router.CommandInfo{Name: "LTRIM", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLTrim)
	reg(router.CommandInfo{Name: "LINSERT", Arity: 5, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdLInsert)

	reg(router.CommandInfo{Name: "SADD", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSAdd)
	reg(router.CommandInfo{Name: "SREM", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSRem)
	reg(router.CommandInfo{Name: "SISMEMBER", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdSIsMember)
	reg(router.CommandInfo{Name: "SMEMBERS", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdSMembers)
	reg(router.CommandInfo{Name: "SCARD", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdSCard)
	reg(router.CommandInfo{Name: "SPOP", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdSPop)
	reg(router.CommandInfo{Name: "SRANDMEMBER", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdSRandMember)
	reg(router.CommandInfo{Name: "SMOVE", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 2, Step: 1}, cmdSMove)
	reg(router.CommandInfo{Name: "SINTER", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdSInter)
	reg(router.CommandInfo{Name: "SUNION", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdSUnion)
	reg(router.CommandInfo{Name: "SDIFF", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdSDiff)
	reg(router.CommandInfo{Name: "SINTERSTORE", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 1}, cmdSInterStore)
	reg(router.CommandInfo{Name: "SUNIONSTORE", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 1}, cmdSUnionStore)
	reg(router.CommandInfo{Name: "SDIFFSTORE", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 1}, cmdSDiffStore)

	reg(router.CommandInfo{Name: "ZADD", Arity: -4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdZAdd)
	reg(router.CommandInfo{Name: "ZSCORE", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZScore)
	reg(router.CommandInfo{Name: "ZREM", Arity: -3, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRem)
	reg(router.CommandInfo{Name: "ZCARD", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZCard)
	reg(router.CommandInfo{Name: "ZRANGE", Arity: -4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRange)
	reg(router.CommandInfo{Name: "ZRANGEBYSCORE", Arity: -4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRangeByScore)
	reg(router.CommandInfo{Name: "ZREVRANGE", Arity: -4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRevRange)
	reg(router.CommandInfo{Name: "ZREVRANGEBYSCORE", Arity: -4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRevRangeByScore)
	reg(router.CommandInfo{Name: "ZRANK", Arity: 3, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdZRank)
	reg(router.CommandInfo{Name: "ZINCRBY", Arity: 4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdZIncrBy)

	reg(router.CommandInfo{Name: "XADD", Arity: -5, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdXAdd)
	reg(router.CommandInfo{Name: "XLEN", Arity: 2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdXLen)
	reg(router.CommandInfo{Name: "XRANGE", Arity: 4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdXRange)
	reg(router.CommandInfo{Name: "XREVRANGE", Arity: 4, Flags: router.FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1}, cmdXRevRange)
	reg(router.CommandInfo{Name: "XREAD", Arity: -4, Flags: router.FlagReadonly}, cmdXRead)
	reg(router.CommandInfo{Name: "XTRIM", Arity: -4, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdXTrim)

	reg(router.CommandInfo{Name: "PFADD", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: 1, Step: 1}, cmdPFAdd)
	reg(router.CommandInfo{Name: "PFCOUNT", Arity: -2, Flags: router.FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1}, cmdPFCount)
	reg(router.CommandInfo{Name: "PFMERGE", Arity: -2, Flags: router.FlagWrite, FirstKey: 1, LastKey: -1, Step: 1}, cmdPFMerge)

	reg(router.CommandInfo{Name: "SUBSCRIBE", Arity: -2, Flags: router.FlagPubsub | router.FlagNoMulti}, cmdSubscribe)
	reg(router.CommandInfo{Name: "UNSUBSCRIBE", Arity: -1, Flags: router.FlagPubsub | router.FlagNoMulti}, cmdUnsubscribe)
	reg(router.CommandInfo{Name: "PSUBSCRIBE", Arity: -2, Flags: router.FlagPubsub | router.FlagNoMulti}, cmdPSubscribe)
	reg(router.CommandInfo{Name: "PUNSUBSCRIBE", Arity: -1, Flags: router.FlagPubsub | router.FlagNoMulti}, cmdPUnsubscribe)
	reg(router.CommandInfo{Name: "PUBLISH", Arity: 3, Flags: router.FlagPubsub}, cmdPublish)
	reg(router.CommandInfo{Name: "PUBSUB", Arity: -2, Flags: router.FlagPubsub}, cmdPubSub)

	reg(router.CommandInfo{Name: "MULTI", Arity: 1, Flags: router.FlagNoMulti}, cmdMulti)
	reg(router.CommandInfo{Name: "EXEC", Arity: 1, Flags: router.FlagNoMulti}, cmdExec)
	reg(router.CommandInfo{Name: "DISCARD", Arity: 1, Flags: router.FlagNoMulti}, cmdDiscard)
	reg(router.CommandInfo{Name: "WATCH", Arity: -2, Flags: router.FlagNoMulti, FirstKey: 1, LastKey: -1, Step: 1}, cmdWatch)
	reg(router.CommandInfo{Name: "UNWATCH", Arity: 1, Flags: router.FlagNoMulti}, cmdUnwatch)

	reg(router.CommandInfo{Name: "SAVE", Arity: 1, Flags: router.FlagAdmin}, cmdSave)
	reg(router.CommandInfo{Name: "BGSAVE", Arity: 1, Flags: router.FlagAdmin}, cmdSave)
}

// --- connection / misc ---

func cmdPing(srv *Server, c *Conn, args [][]byte) error {
	if len(args) == 0 {
		c.out.Raw(resp.RespPong)
		return nil
	}
	c.out.Bulk(args[0])
	return nil
}

func cmdEcho(srv *Server, c *Conn, args [][]byte) error {
	c.out.Bulk(args[0])
	return nil
}

func cmdAuth(srv *Server, c *Conn, args [][]byte) error {
	if srv.cfg.RequirePass == "" {
		return resp.ErrNoPasswordSet
	}
	pass := args[len(args)-1]
	if !checkAuth(srv.cfg.RequirePass, string(pass)) {
		return resp.WrongPass()
	}
	c.authenticated = true
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdQuit(srv *Server, c *Conn, args [][]byte) error {
	c.out.Raw(resp.RespOK)
	return nil
}

// --- strings ---

func cmdGet(srv *Server, c *Conn, args [][]byte) error {
	sv, err, ok := srv.storage.GetString(string(args[0]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.NilBulk()
		return nil
	}
	c.out.Bulk(sv.Bytes)
	return nil
}

func cmdSet(srv *Server, c *Conn, args [][]byte) error {
	key, val := string(args[0]), args[1]
	var ttlMs, deadlineMs int64
	hasTTL, hasDeadline := false, false
	nx, xx, keepTTL := false, false, false
	for i := 2; i < len(args); i++ {
		switch upper(args[i]) {
		case "EX", "PX", "EXAT", "PXAT":
			kw := upper(args[i])
			i++
			if i >= len(args) {
				return resp.ErrSyntax
			}
			n, perr := strconv.ParseInt(string(args[i]), 10, 64)
			if perr != nil {
				return resp.ErrNotInteger
			}
			switch kw {
			case "EX":
				ttlMs, hasTTL = n*1000, true
			case "PX":
				ttlMs, hasTTL = n, true
			case "EXAT":
				deadlineMs, hasDeadline = n*1000, true
			case "PXAT":
				deadlineMs, hasDeadline = n, true
			}
		case "NX":
			nx = true
		case "XX":
			xx = true
		case "KEEPTTL":
			keepTTL = true
		default:
			return resp.ErrSyntax
		}
	}
	exists := srv.storage.Exists(key)
	if nx && exists {
		c.out.NilBulk()
		return nil
	}
	if xx && !exists {
		c.out.NilBulk()
		return nil
	}
	if keepTTL {
		deadline, has := srv.storage.ExpireAtMs(key)
		if err := srv.storage.SetString(key, val); err != nil {
			return err
		}
		if has {
			srv.storage.ExpireAt(key, deadline)
		}
	} else if err := srv.storage.SetString(key, val); err != nil {
		return err
	}
	if hasTTL {
		srv.storage.Expire(key, ttlMs)
		deadline, _ := srv.storage.ExpireAtMs(key)
		srv.expiryEg.Track(key, deadline)
	} else if hasDeadline {
		srv.storage.ExpireAt(key, deadlineMs)
		srv.expiryEg.Track(key, deadlineMs)
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func upper(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

func cmdAppend(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.Append(string(args[0]), args[1])
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdStrlen(srv *Server, c *Conn, args [][]byte) error {
	sv, err, ok := srv.storage.GetString(string(args[0]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.Integer(0)
		return nil
	}
	c.out.Integer(int64(len(sv.Bytes)))
	return nil
}

func cmdGetRange(srv *Server, c *Conn, args [][]byte) error {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.ErrNotInteger
	}
	b, err := srv.storage.GetRange(string(args[0]), start, end)
	if err != nil {
		return err
	}
	c.out.Bulk(b)
	return nil
}

func cmdSetRange(srv *Server, c *Conn, args [][]byte) error {
	offset, perr := strconv.Atoi(string(args[1]))
	if perr != nil || offset < 0 {
		return resp.ErrNotInteger
	}
	n, err := srv.storage.SetRange(string(args[0]), offset, args[2])
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdSetNX(srv *Server, c *Conn, args [][]byte) error {
	ok, err := srv.storage.SetNX(string(args[0]), args[1])
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdSetEX(srv *Server, c *Conn, args [][]byte) error {
	return setExHelper(srv, c, args, 1000)
}

func cmdPSetEX(srv *Server, c *Conn, args [][]byte) error {
	return setExHelper(srv, c, args, 1)
}

func setExHelper(srv *Server, c *Conn, args [][]byte, unitMs int64) error {
	n, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	key := string(args[0])
	if err := srv.storage.SetString(key, args[2]); err != nil {
		return err
	}
	srv.storage.Expire(key, n*unitMs)
	deadline, _ := srv.storage.ExpireAtMs(key)
	srv.expiryEg.Track(key, deadline)
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdGetSet(srv *Server, c *Conn, args [][]byte) error {
	old, err, _ := srv.storage.GetSet(string(args[0]), args[1])
	if err != nil {
		return err
	}
	c.out.BulkOrNil(old)
	return nil
}

func cmdGetDel(srv *Server, c *Conn, args [][]byte) error {
	old, err, ok := srv.storage.GetDel(string(args[0]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.NilBulk()
		return nil
	}
	c.out.Bulk(old)
	return nil
}

// cmdGetEx implements GETEX: EX/PX/EXAT/PXAT/PERSIST, mutually exclusive,
// applied only after confirming the key exists.
func cmdGetEx(srv *Server, c *Conn, args [][]byte) error {
	key := string(args[0])
	sv, err, ok := srv.storage.GetString(key)
	if err != nil {
		return err
	}
	if !ok {
		c.out.NilBulk()
		return nil
	}
	if len(args) > 1 {
		switch upper(args[1]) {
		case "PERSIST":
			if len(args) != 2 {
				return resp.ErrSyntax
			}
			srv.storage.Persist(key)
		case "EX", "PX", "EXAT", "PXAT":
			if len(args) != 3 {
				return resp.ErrSyntax
			}
			n, perr := strconv.ParseInt(string(args[2]), 10, 64)
			if perr != nil {
				return resp.ErrNotInteger
			}
			switch upper(args[1]) {
			case "EX":
				srv.storage.Expire(key, n*1000)
			case "PX":
				srv.storage.Expire(key, n)
			case "EXAT":
				srv.storage.ExpireAt(key, n*1000)
			case "PXAT":
				srv.storage.ExpireAt(key, n)
			}
			deadline, _ := srv.storage.ExpireAtMs(key)
			srv.expiryEg.Track(key, deadline)
		default:
			return resp.ErrSyntax
		}
	}
	c.out.Bulk(sv.Bytes)
	return nil
}

func cmdMGet(srv *Server, c *Conn, args [][]byte) error {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	values := srv.storage.MGet(keys)
	c.out.ArrayHeader(len(values))
	for _, v := range values {
		c.out.BulkOrNil(v)
	}
	return nil
}

func cmdMSet(srv *Server, c *Conn, args [][]byte) error {
	if len(args)%2 != 0 {
		return resp.ErrSyntax
	}
	pairs := make(map[string][]byte, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs[string(args[i])] = args[i+1]
	}
	if err := srv.storage.MSet(pairs); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdMSetNX(srv *Server, c *Conn, args [][]byte) error {
	if len(args)%2 != 0 {
		return resp.ErrSyntax
	}
	pairs := make(map[string][]byte, len(args)/2)
	for i := 0; i < len(args); i += 2 {
		pairs[string(args[i])] = args[i+1]
	}
	ok, err := srv.storage.MSetNX(pairs)
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdSetBit(srv *Server, c *Conn, args [][]byte) error {
	offset, err1 := strconv.Atoi(string(args[1]))
	bit, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil || (bit != 0 && bit != 1) {
		return resp.ErrSyntax
	}
	old, err := srv.storage.SetBit(string(args[0]), offset, bit)
	if err != nil {
		return err
	}
	c.out.Integer(int64(old))
	return nil
}

func cmdGetBit(srv *Server, c *Conn, args [][]byte) error {
	offset, perr := strconv.Atoi(string(args[1]))
	if perr != nil {
		return resp.ErrNotInteger
	}
	bit, err := srv.storage.GetBit(string(args[0]), offset)
	if err != nil {
		return err
	}
	c.out.Integer(int64(bit))
	return nil
}

func cmdBitCount(srv *Server, c *Conn, args [][]byte) error {
	start, end := 0, -1
	if len(args) >= 3 {
		var err1, err2 error
		start, err1 = strconv.Atoi(string(args[1]))
		end, err2 = strconv.Atoi(string(args[2]))
		if err1 != nil || err2 != nil {
			return resp.ErrNotInteger
		}
	}
	n, err := srv.storage.BitCount(string(args[0]), start, end)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdBitPos(srv *Server, c *Conn, args [][]byte) error {
	bitVal, perr := strconv.Atoi(string(args[1]))
	if perr != nil || (bitVal != 0 && bitVal != 1) {
		return resp.ErrSyntax
	}
	start, end, hasEnd := 0, -1, false
	if len(args) >= 3 {
		var err error
		start, err = strconv.Atoi(string(args[2]))
		if err != nil {
			return resp.ErrNotInteger
		}
	}
	if len(args) >= 4 {
		var err error
		end, err = strconv.Atoi(string(args[3]))
		if err != nil {
			return resp.ErrNotInteger
		}
		hasEnd = true
	}
	pos, err := srv.storage.BitPos(string(args[0]), bitVal, start, end, hasEnd)
	if err != nil {
		return err
	}
	c.out.Integer(int64(pos))
	return nil
}

func cmdBitOp(srv *Server, c *Conn, args [][]byte) error {
	op := upper(args[0])
	dest := string(args[1])
	sources := make([]string, len(args)-2)
	for i, a := range args[2:] {
		sources[i] = string(a)
	}
	n, err := srv.storage.BitOp(op, dest, sources...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

// parseBitFieldType accepts "i1".."i64" (signed) or "u1".."u63" (unsigned).
func parseBitFieldType(tok string) (signed bool, width int, err error) {
	if len(tok) < 2 {
		return false, 0, resp.ErrSyntax
	}
	switch tok[0] {
	case 'i', 'I':
		signed = true
	case 'u', 'U':
		signed = false
	default:
		return false, 0, resp.ErrSyntax
	}
	width, werr := strconv.Atoi(tok[1:])
	if werr != nil {
		return false, 0, resp.ErrSyntax
	}
	if signed && (width < 1 || width > 64) {
		return false, 0, resp.NewError(resp.PrefixErr, "Invalid bitfield type. Use something like i16 u8. Note that u64 is not supported but i64 is.")
	}
	if !signed && (width < 1 || width > 63) {
		return false, 0, resp.NewError(resp.PrefixErr, "Invalid bitfield type. Use something like i16 u8. Note that u64 is not supported but i64 is.")
	}
	return signed, width, nil
}

// parseBitFieldOffset accepts a plain bit offset, or "#N" meaning the
// Nth field of the given width (offset = N * width).
func parseBitFieldOffset(tok string, width int) (int64, error) {
	if len(tok) > 0 && tok[0] == '#' {
		n, err := strconv.ParseInt(tok[1:], 10, 64)
		if err != nil || n < 0 {
			return 0, resp.NewError(resp.PrefixErr, "bit offset is not an integer or out of range")
		}
		return n * int64(width), nil
	}
	n, err := strconv.ParseInt(tok, 10, 64)
	if err != nil || n < 0 {
		return 0, resp.NewError(resp.PrefixErr, "bit offset is not an integer or out of range")
	}
	return n, nil
}

func cmdBitField(srv *Server, c *Conn, args [][]byte) error {
	key := string(args[0])
	var ops []storage.BitFieldOp
	overflow := storage.BitFieldWrap
	i := 1
	for i < len(args) {
		switch upper(args[i]) {
		case "OVERFLOW":
			if i+1 >= len(args) {
				return resp.ErrSyntax
			}
			switch upper(args[i+1]) {
			case "WRAP":
				overflow = storage.BitFieldWrap
			case "SAT":
				overflow = storage.BitFieldSat
			case "FAIL":
				overflow = storage.BitFieldFail
			default:
				return resp.NewError(resp.PrefixErr, "Invalid OVERFLOW type specified")
			}
			i += 2
		case "GET":
			if i+2 >= len(args) {
				return resp.ErrSyntax
			}
			signed, width, err := parseBitFieldType(string(args[i+1]))
			if err != nil {
				return err
			}
			offset, err := parseBitFieldOffset(string(args[i+2]), width)
			if err != nil {
				return err
			}
			ops = append(ops, storage.BitFieldOp{Kind: storage.BitFieldGet, Signed: signed, Width: width, Offset: offset})
			i += 3
		case "SET":
			if i+3 >= len(args) {
				return resp.ErrSyntax
			}
			signed, width, err := parseBitFieldType(string(args[i+1]))
			if err != nil {
				return err
			}
			offset, err := parseBitFieldOffset(string(args[i+2]), width)
			if err != nil {
				return err
			}
			val, perr := strconv.ParseInt(string(args[i+3]), 10, 64)
			if perr != nil {
				return resp.ErrNotInteger
			}
			ops = append(ops, storage.BitFieldOp{Kind: storage.BitFieldSet, Signed: signed, Width: width, Offset: offset, Value: val, Overflow: overflow})
			i += 4
		case "INCRBY":
			if i+3 >= len(args) {
				return resp.ErrSyntax
			}
			signed, width, err := parseBitFieldType(string(args[i+1]))
			if err != nil {
				return err
			}
			offset, err := parseBitFieldOffset(string(args[i+2]), width)
			if err != nil {
				return err
			}
			val, perr := strconv.ParseInt(string(args[i+3]), 10, 64)
			if perr != nil {
				return resp.ErrNotInteger
			}
			ops = append(ops, storage.BitFieldOp{Kind: storage.BitFieldIncrBy, Signed: signed, Width: width, Offset: offset, Value: val, Overflow: overflow})
			i += 4
		default:
			return resp.ErrSyntax
		}
	}
	results, err := srv.storage.BitField(key, ops)
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(results))
	for _, r := range results {
		if r == nil {
			c.out.NilBulk()
			continue
		}
		c.out.Integer(*r)
	}
	return nil
}

func cmdIncr(srv *Server, c *Conn, args [][]byte) error  { return incrHelper(srv, c, args[0], 1) }
func cmdDecr(srv *Server, c *Conn, args [][]byte) error  { return incrHelper(srv, c, args[0], -1) }

func cmdIncrBy(srv *Server, c *Conn, args [][]byte) error {
	n, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	return incrHelper(srv, c, args[0], n)
}

func cmdDecrBy(srv *Server, c *Conn, args [][]byte) error {
	n, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	return incrHelper(srv, c, args[0], -n)
}

func incrHelper(srv *Server, c *Conn, key []byte, delta int64) error {
	n, err := srv.storage.IncrBy(string(key), delta)
	if err != nil {
		return err
	}
	c.out.Integer(n)
	return nil
}

func cmdIncrByFloat(srv *Server, c *Conn, args [][]byte) error {
	delta, perr := strconv.ParseFloat(string(args[1]), 64)
	if perr != nil {
		return resp.ErrNotFloat
	}
	f, err := srv.storage.IncrByFloat(string(args[0]), delta)
	if err != nil {
		return err
	}
	c.out.BulkString(strconv.FormatFloat(f, 'f', -1, 64))
	return nil
}

// --- keyspace ---

func cmdDel(srv *Server, c *Conn, args [][]byte) error {
	keys := make([]string, len(args))
	for i, a := range args {
		keys[i] = string(a)
	}
	c.out.Integer(int64(srv.storage.Del(keys...)))
	return nil
}

func cmdExists(srv *Server, c *Conn, args [][]byte) error {
	n := 0
	for _, a := range args {
		if srv.storage.Exists(string(a)) {
			n++
		}
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdType(srv *Server, c *Conn, args [][]byte) error {
	c.out.SimpleString(srv.storage.TypeOf(string(args[0])).String())
	return nil
}

func cmdKeys(srv *Server, c *Conn, args [][]byte) error {
	keys := srv.storage.Keys(string(args[0]))
	c.out.ArrayHeader(len(keys))
	for _, k := range keys {
		c.out.BulkString(k)
	}
	return nil
}

func cmdRename(srv *Server, c *Conn, args [][]byte) error {
	if err := srv.storage.Rename(string(args[0]), string(args[1])); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdRenameNX(srv *Server, c *Conn, args [][]byte) error {
	ok, err := srv.storage.RenameNX(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdFlushAll(srv *Server, c *Conn, args [][]byte) error {
	srv.storage.Flush()
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdDBSize(srv *Server, c *Conn, args [][]byte) error {
	c.out.Integer(int64(srv.storage.KeyCount()))
	return nil
}

// --- TTL ---

func cmdExpire(srv *Server, c *Conn, args [][]byte) error {
	secs, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	ok := srv.storage.Expire(string(args[0]), secs*1000)
	if ok {
		if d, has := srv.storage.ExpireAtMs(string(args[0])); has {
			srv.expiryEg.Track(string(args[0]), d)
		}
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdPExpire(srv *Server, c *Conn, args [][]byte) error {
	ms, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	ok := srv.storage.Expire(string(args[0]), ms)
	if ok {
		if d, has := srv.storage.ExpireAtMs(string(args[0])); has {
			srv.expiryEg.Track(string(args[0]), d)
		}
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdExpireAt(srv *Server, c *Conn, args [][]byte) error {
	secs, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	ok := srv.storage.ExpireAt(string(args[0]), secs*1000)
	if ok {
		if d, has := srv.storage.ExpireAtMs(string(args[0])); has {
			srv.expiryEg.Track(string(args[0]), d)
		}
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdPExpireAt(srv *Server, c *Conn, args [][]byte) error {
	ms, perr := strconv.ParseInt(string(args[1]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	ok := srv.storage.ExpireAt(string(args[0]), ms)
	if ok {
		if d, has := srv.storage.ExpireAtMs(string(args[0])); has {
			srv.expiryEg.Track(string(args[0]), d)
		}
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdTTL(srv *Server, c *Conn, args [][]byte) error {
	ms := srv.storage.TTL(string(args[0]))
	if ms < 0 {
		c.out.Integer(ms)
		return nil
	}
	c.out.Integer(ms / 1000)
	return nil
}

func cmdPTTL(srv *Server, c *Conn, args [][]byte) error {
	c.out.Integer(srv.storage.TTL(string(args[0])))
	return nil
}

func cmdPersist(srv *Server, c *Conn, args [][]byte) error {
	if srv.storage.Persist(string(args[0])) {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

// --- persistence ---

func cmdSave(srv *Server, c *Conn, args [][]byte) error {
	entries := srv.storage.ExportEntries()
	if err := snapshot.SaveSync(srv.cfg.Dir, srv.cfg.DBFilename, entries); err != nil {
		return resp.NewError(resp.PrefixErr, err.Error())
	}
	srv.storage.ResetChangesSinceSave()
	c.out.Raw(resp.RespOK)
	return nil
}

// --- hashes ---

func cmdHSet(srv *Server, c *Conn, args [][]byte) error {
	if len(args)%2 != 1 {
		return resp.ErrSyntax
	}
	pairs := make(map[string][]byte, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		pairs[string(args[i])] = args[i+1]
	}
	n, err := srv.storage.HSet(string(args[0]), pairs)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdHGet(srv *Server, c *Conn, args [][]byte) error {
	v, err := srv.storage.HGet(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	c.out.BulkOrNil(v)
	return nil
}

func cmdHDel(srv *Server, c *Conn, args [][]byte) error {
	fields := make([]string, len(args)-1)
	for i, a := range args[1:] {
		fields[i] = string(a)
	}
	n, err := srv.storage.HDel(string(args[0]), fields...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdHGetAll(srv *Server, c *Conn, args [][]byte) error {
	fields, values, err := srv.storage.HGetAll(string(args[0]))
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(fields) * 2)
	for i, f := range fields {
		c.out.BulkString(f)
		c.out.Bulk(values[i])
	}
	return nil
}

func cmdHExists(srv *Server, c *Conn, args [][]byte) error {
	ok, err := srv.storage.HExists(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdHLen(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.HLen(string(args[0]))
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdHKeys(srv *Server, c *Conn, args [][]byte) error {
	keys, err := srv.storage.HKeys(string(args[0]))
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(keys))
	for _, k := range keys {
		c.out.BulkString(k)
	}
	return nil
}

func cmdHIncrBy(srv *Server, c *Conn, args [][]byte) error {
	delta, perr := strconv.ParseInt(string(args[2]), 10, 64)
	if perr != nil {
		return resp.ErrNotInteger
	}
	n, err := srv.storage.HIncrBy(string(args[0]), string(args[1]), delta)
	if err != nil {
		return err
	}
	c.out.Integer(n)
	return nil
}

func cmdHIncrByFloat(srv *Server, c *Conn, args [][]byte) error {
	delta, perr := strconv.ParseFloat(string(args[2]), 64)
	if perr != nil {
		return resp.ErrNotFloat
	}
	n, err := srv.storage.HIncrByFloat(string(args[0]), string(args[1]), delta)
	if err != nil {
		return err
	}
	c.out.BulkString(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

func cmdHMGet(srv *Server, c *Conn, args [][]byte) error {
	fields := make([]string, len(args)-1)
	for i, a := range args[1:] {
		fields[i] = string(a)
	}
	values, err := srv.storage.HMGet(string(args[0]), fields)
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(values))
	for _, v := range values {
		c.out.BulkOrNil(v)
	}
	return nil
}

func cmdHMSet(srv *Server, c *Conn, args [][]byte) error {
	if len(args)%2 != 1 {
		return resp.ErrSyntax
	}
	pairs := make(map[string][]byte, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		pairs[string(args[i])] = args[i+1]
	}
	if _, err := srv.storage.HSet(string(args[0]), pairs); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdHSetNX(srv *Server, c *Conn, args [][]byte) error {
	ok, err := srv.storage.HSetNX(string(args[0]), string(args[1]), args[2])
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdHVals(srv *Server, c *Conn, args [][]byte) error {
	values, err := srv.storage.HVals(string(args[0]))
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(values))
	for _, v := range values {
		c.out.Bulk(v)
	}
	return nil
}

// --- lists ---

func cmdLPush(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.LPush(string(args[0]), args[1:]...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdRPush(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.RPush(string(args[0]), args[1:]...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdLPop(srv *Server, c *Conn, args [][]byte) error {
	return listPop(srv, c, args, srv.storage.LPop)
}

func cmdRPop(srv *Server, c *Conn, args [][]byte) error {
	return listPop(srv, c, args, srv.storage.RPop)
}

func listPop(srv *Server, c *Conn, args [][]byte, pop func(string, int) ([][]byte, error)) error {
	count := 1
	multi := false
	if len(args) > 1 {
		n, perr := strconv.Atoi(string(args[1]))
		if perr != nil || n < 0 {
			return resp.ErrNotInteger
		}
		count, multi = n, true
	}
	items, err := pop(string(args[0]), count)
	if err != nil {
		return err
	}
	if !multi {
		if len(items) == 0 {
			c.out.NilBulk()
			return nil
		}
		c.out.Bulk(items[0])
		return nil
	}
	if items == nil {
		c.out.NilArray()
		return nil
	}
	c.out.ArrayHeader(len(items))
	for _, it := range items {
		c.out.Bulk(it)
	}
	return nil
}

func cmdLLen(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.LLen(string(args[0]))
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdLRange(srv *Server, c *Conn, args [][]byte) error {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.ErrNotInteger
	}
	items, err := srv.storage.LRange(string(args[0]), start, end)
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(items))
	for _, it := range items {
		c.out.Bulk(it)
	}
	return nil
}

func cmdLIndex(srv *Server, c *Conn, args [][]byte) error {
	idx, perr := strconv.Atoi(string(args[1]))
	if perr != nil {
		return resp.ErrNotInteger
	}
	v, err := srv.storage.LIndex(string(args[0]), idx)
	if err != nil {
		return err
	}
	c.out.BulkOrNil(v)
	return nil
}

func cmdLSet(srv *Server, c *Conn, args [][]byte) error {
	idx, perr := strconv.Atoi(string(args[1]))
	if perr != nil {
		return resp.ErrNotInteger
	}
	if err := srv.storage.LSet(string(args[0]), idx, args[2]); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdLRem(srv *Server, c *Conn, args [][]byte) error {
	count, perr := strconv.Atoi(string(args[1]))
	if perr != nil {
		return resp.ErrNotInteger
	}
	n, err := srv.storage.LRem(string(args[0]), count, args[2])
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdLTrim(srv *Server, c *Conn, args [][]byte) error {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.ErrNotInteger
	}
	if err := srv.storage.LTrim(string(args[0]), start, end); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdLInsert(srv *Server, c *Conn, args [][]byte) error {
	var before bool
	switch upper(args[1]) {
	case "BEFORE":
		before = true
	case "AFTER":
		before = false
	default:
		return resp.ErrSyntax
	}
	n, err := srv.storage.LInsert(string(args[0]), before, args[2], args[3])
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

// --- sets ---

func cmdSAdd(srv *Server, c *Conn, args [][]byte) error {
	members := bytesToStrings(args[1:])
	n, err := srv.storage.SAdd(string(args[0]), members...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdSRem(srv *Server, c *Conn, args [][]byte) error {
	members := bytesToStrings(args[1:])
	n, err := srv.storage.SRem(string(args[0]), members...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdSIsMember(srv *Server, c *Conn, args [][]byte) error {
	ok, err := srv.storage.SIsMember(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	if ok {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdSMembers(srv *Server, c *Conn, args [][]byte) error {
	members, err := srv.storage.SMembers(string(args[0]))
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(members))
	for _, m := range members {
		c.out.BulkString(m)
	}
	return nil
}

func cmdSCard(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.SCard(string(args[0]))
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdSInter(srv *Server, c *Conn, args [][]byte) error {
	return setOp(srv, c, args, srv.storage.SInter)
}

func cmdSUnion(srv *Server, c *Conn, args [][]byte) error {
	return setOp(srv, c, args, srv.storage.SUnion)
}

func cmdSDiff(srv *Server, c *Conn, args [][]byte) error {
	return setOp(srv, c, args, srv.storage.SDiff)
}

func setOp(srv *Server, c *Conn, args [][]byte, op func(...string) ([]string, error)) error {
	keys := bytesToStrings(args)
	members, err := op(keys...)
	if err != nil {
		return err
	}
	c.out.ArrayHeader(len(members))
	for _, m := range members {
		c.out.BulkString(m)
	}
	return nil
}

func storeOp(srv *Server, c *Conn, args [][]byte, op func(string, ...string) (int, error)) error {
	n, err := op(string(args[0]), bytesToStrings(args[1:])...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdSInterStore(srv *Server, c *Conn, args [][]byte) error {
	return storeOp(srv, c, args, srv.storage.SInterStore)
}

func cmdSUnionStore(srv *Server, c *Conn, args [][]byte) error {
	return storeOp(srv, c, args, srv.storage.SUnionStore)
}

func cmdSDiffStore(srv *Server, c *Conn, args [][]byte) error {
	return storeOp(srv, c, args, srv.storage.SDiffStore)
}

// cmdSPop implements SPOP key [count]: no count pops one member as a bulk
// reply (or nil), a count pops that many as an array (possibly empty).
func cmdSPop(srv *Server, c *Conn, args [][]byte) error {
	count := 1
	multi := false
	if len(args) > 1 {
		n, perr := strconv.Atoi(string(args[1]))
		if perr != nil || n < 0 {
			return resp.ErrNotInteger
		}
		count, multi = n, true
	}
	members, err := srv.storage.SPop(string(args[0]), count)
	if err != nil {
		return err
	}
	if !multi {
		if len(members) == 0 {
			c.out.NilBulk()
			return nil
		}
		c.out.BulkString(members[0])
		return nil
	}
	c.out.ArrayHeader(len(members))
	for _, m := range members {
		c.out.BulkString(m)
	}
	return nil
}

// cmdSRandMember implements SRANDMEMBER key [count]: no count returns a
// single bulk (or nil), a count returns an array.
func cmdSRandMember(srv *Server, c *Conn, args [][]byte) error {
	count := 1
	multi := false
	if len(args) > 1 {
		n, perr := strconv.Atoi(string(args[1]))
		if perr != nil {
			return resp.ErrNotInteger
		}
		count, multi = n, true
	}
	members, err := srv.storage.SRandMember(string(args[0]), count)
	if err != nil {
		return err
	}
	if !multi {
		if len(members) == 0 {
			c.out.NilBulk()
			return nil
		}
		c.out.BulkString(members[0])
		return nil
	}
	c.out.ArrayHeader(len(members))
	for _, m := range members {
		c.out.BulkString(m)
	}
	return nil
}

func cmdSMove(srv *Server, c *Conn, args [][]byte) error {
	moved, err := srv.storage.SMove(string(args[0]), string(args[1]), string(args[2]))
	if err != nil {
		return err
	}
	if moved {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func bytesToStrings(args [][]byte) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = string(a)
	}
	return out
}

// --- sorted sets ---

func cmdZAdd(srv *Server, c *Conn, args [][]byte) error {
	var opts storage.ZAddOptions
	i := 1
loop:
	for ; i < len(args); i++ {
		switch upper(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "GT":
			opts.GT = true
		case "LT":
			opts.LT = true
		case "CH":
			opts.Ch = true
		default:
			break loop
		}
	}
	if opts.NX && opts.XX {
		return resp.ErrSyntax
	}
	if opts.NX && (opts.GT || opts.LT) {
		return resp.ErrSyntax
	}
	if opts.GT && opts.LT {
		return resp.ErrSyntax
	}
	rest := args[i:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.ErrSyntax
	}
	pairs := make(map[string]float64, len(rest)/2)
	for j := 0; j < len(rest); j += 2 {
		score, perr := strconv.ParseFloat(string(rest[j]), 64)
		if perr != nil {
			return resp.ErrNotFloat
		}
		pairs[string(rest[j+1])] = score
	}
	n, err := srv.storage.ZAdd(string(args[0]), pairs, opts)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdZScore(srv *Server, c *Conn, args [][]byte) error {
	score, ok, err := srv.storage.ZScore(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.NilBulk()
		return nil
	}
	c.out.BulkString(strconv.FormatFloat(score, 'f', -1, 64))
	return nil
}

func cmdZRem(srv *Server, c *Conn, args [][]byte) error {
	members := bytesToStrings(args[1:])
	n, err := srv.storage.ZRem(string(args[0]), members...)
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdZCard(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.ZCard(string(args[0]))
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdZRange(srv *Server, c *Conn, args [][]byte) error {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.ErrNotInteger
	}
	withScores := len(args) > 3 && upper(args[3]) == "WITHSCORES"
	members, err := srv.storage.ZRange(string(args[0]), start, end, withScores)
	if err != nil {
		return err
	}
	writeZMembers(c, members, withScores)
	return nil
}

func cmdZRevRange(srv *Server, c *Conn, args [][]byte) error {
	start, err1 := strconv.Atoi(string(args[1]))
	end, err2 := strconv.Atoi(string(args[2]))
	if err1 != nil || err2 != nil {
		return resp.ErrNotInteger
	}
	withScores := len(args) > 3 && upper(args[3]) == "WITHSCORES"
	members, err := srv.storage.ZRevRange(string(args[0]), start, end, withScores)
	if err != nil {
		return err
	}
	writeZMembers(c, members, withScores)
	return nil
}

// parseZRangeByScoreTail reads the trailing WITHSCORES and LIMIT offset
// count options shared by ZRANGEBYSCORE/ZREVRANGEBYSCORE.
func parseZRangeByScoreTail(args [][]byte) (withScores, hasLimit bool, offset, count int, err error) {
	for i := 3; i < len(args); i++ {
		switch upper(args[i]) {
		case "WITHSCORES":
			withScores = true
		case "LIMIT":
			if i+2 >= len(args) {
				return false, false, 0, 0, resp.ErrSyntax
			}
			offset, err = strconv.Atoi(string(args[i+1]))
			if err != nil {
				return false, false, 0, 0, resp.ErrNotInteger
			}
			count, err = strconv.Atoi(string(args[i+2]))
			if err != nil {
				return false, false, 0, 0, resp.ErrNotInteger
			}
			hasLimit = true
			i += 2
		default:
			return false, false, 0, 0, resp.ErrSyntax
		}
	}
	return withScores, hasLimit, offset, count, nil
}

func cmdZRangeByScore(srv *Server, c *Conn, args [][]byte) error {
	min, max, minExcl, maxExcl, perr := parseScoreBound(args[1], args[2])
	if perr != nil {
		return perr
	}
	withScores, hasLimit, offset, count, terr := parseZRangeByScoreTail(args)
	if terr != nil {
		return terr
	}
	members, err := srv.storage.ZRangeByScore(string(args[0]), min, max, minExcl, maxExcl, hasLimit, offset, count)
	if err != nil {
		return err
	}
	writeZMembers(c, members, withScores)
	return nil
}

// cmdZRevRangeByScore implements ZREVRANGEBYSCORE, whose argument order is
// max then min (the high-to-low mirror of ZRANGEBYSCORE's min/max).
func cmdZRevRangeByScore(srv *Server, c *Conn, args [][]byte) error {
	min, max, minExcl, maxExcl, perr := parseScoreBound(args[2], args[1])
	if perr != nil {
		return perr
	}
	withScores, hasLimit, offset, count, terr := parseZRangeByScoreTail(args)
	if terr != nil {
		return terr
	}
	members, err := srv.storage.ZRevRangeByScore(string(args[0]), min, max, minExcl, maxExcl, hasLimit, offset, count)
	if err != nil {
		return err
	}
	writeZMembers(c, members, withScores)
	return nil
}

func parseScoreBound(minArg, maxArg []byte) (min, max float64, minExcl, maxExcl bool, err error) {
	minS, maxS := string(minArg), string(maxArg)
	if len(minS) > 0 && minS[0] == '(' {
		minExcl, minS = true, minS[1:]
	}
	if len(maxS) > 0 && maxS[0] == '(' {
		maxExcl, maxS = true, maxS[1:]
	}
	min, e1 := strconv.ParseFloat(minS, 64)
	max, e2 := strconv.ParseFloat(maxS, 64)
	if e1 != nil || e2 != nil {
		return 0, 0, false, false, resp.ErrNotFloat
	}
	return min, max, minExcl, maxExcl, nil
}

func writeZMembers(c *Conn, members []storage.ZMember, withScores bool) {
	n := len(members)
	if withScores {
		n *= 2
	}
	c.out.ArrayHeader(n)
	for _, m := range members {
		c.out.BulkString(m.Member)
		if withScores {
			c.out.BulkString(strconv.FormatFloat(m.Score, 'f', -1, 64))
		}
	}
}

func cmdZRank(srv *Server, c *Conn, args [][]byte) error {
	rank, ok, err := srv.storage.ZRank(string(args[0]), string(args[1]))
	if err != nil {
		return err
	}
	if !ok {
		c.out.NilBulk()
		return nil
	}
	c.out.Integer(int64(rank))
	return nil
}

func cmdZIncrBy(srv *Server, c *Conn, args [][]byte) error {
	delta, perr := strconv.ParseFloat(string(args[1]), 64)
	if perr != nil {
		return resp.ErrNotFloat
	}
	score, err := srv.storage.ZIncrBy(string(args[0]), string(args[2]), delta)
	if err != nil {
		return err
	}
	c.out.BulkString(strconv.FormatFloat(score, 'f', -1, 64))
	return nil
}

// --- streams ---

func cmdXAdd(srv *Server, c *Conn, args [][]byte) error {
	if len(args)%2 != 0 {
		return resp.ErrSyntax
	}
	fields := make(map[string][]byte, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		fields[string(args[i])] = args[i+1]
	}
	id, err := srv.storage.XAdd(string(args[0]), string(args[1]), fields)
	if err != nil {
		return err
	}
	c.out.BulkString(id)
	return nil
}

func cmdXLen(srv *Server, c *Conn, args [][]byte) error {
	n, err := srv.storage.XLen(string(args[0]))
	if err != nil {
		return err
	}
	c.out.Integer(int64(n))
	return nil
}

func cmdXRange(srv *Server, c *Conn, args [][]byte) error {
	entries, err := srv.storage.XRange(string(args[0]), string(args[1]), string(args[2]))
	if err != nil {
		return err
	}
	writeStreamEntries(c, entries)
	return nil
}

func cmdXRevRange(srv *Server, c *Conn, args [][]byte) error {
	entries, err := srv.storage.XRevRange(string(args[0]), string(args[1]), string(args[2]))
	if err != nil {
		return err
	}
	writeStreamEntries(c, entries)
	return nil
}

func writeStreamEntries(c *Conn, entries []storage.StreamEntry) {
	c.out.ArrayHeader(len(entries))
	for _, e := range entries {
		c.out.ArrayHeader(2)
		c.out.BulkString(e.ID)
		c.out.ArrayHeader(len(e.Fields) * 2)
		for k, v := range e.Fields {
			c.out.BulkString(k)
			c.out.Bulk(v)
		}
	}
}

// cmdXRead implements the non-blocking form: XREAD [COUNT n] STREAMS
// key [key ...] id [id ...].
func cmdXRead(srv *Server, c *Conn, args [][]byte) error {
	count := 0
	i := 0
	if len(args) > 0 && upper(args[0]) == "COUNT" {
		if len(args) < 2 {
			return resp.ErrSyntax
		}
		n, perr := strconv.Atoi(string(args[1]))
		if perr != nil {
			return resp.ErrNotInteger
		}
		count = n
		i = 2
	}
	if i >= len(args) || upper(args[i]) != "STREAMS" {
		return resp.ErrSyntax
	}
	rest := args[i+1:]
	if len(rest)%2 != 0 || len(rest) == 0 {
		return resp.ErrSyntax
	}
	half := len(rest) / 2
	streams := bytesToStrings(rest[:half])
	ids := bytesToStrings(rest[half:])
	result, err := srv.storage.XRead(streams, ids, count)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		c.out.NilArray()
		return nil
	}
	c.out.ArrayHeader(len(result))
	for _, key := range streams {
		entries, ok := result[key]
		if !ok {
			continue
		}
		c.out.ArrayHeader(2)
		c.out.BulkString(key)
		writeStreamEntries(c, entries)
	}
	return nil
}

func cmdXTrim(srv *Server, c *Conn, args [][]byte) error {
	if upper(args[1]) != "MAXLEN" {
		return resp.ErrSyntax
	}
	rest := args[2:]
	if len(rest) > 0 && string(rest[0]) == "~" {
		rest = rest[1:]
	}
	if len(rest) != 1 {
		return resp.ErrSyntax
	}
	maxLen, perr := strconv.Atoi(string(rest[0]))
	if perr != nil {
		return resp.ErrNotInteger
	}
	removed, err := srv.storage.XTrim(string(args[0]), maxLen)
	if err != nil {
		return err
	}
	c.out.Integer(int64(removed))
	return nil
}

// --- hyperloglog ---

func cmdPFAdd(srv *Server, c *Conn, args [][]byte) error {
	changed, err := srv.storage.PFAdd(string(args[0]), args[1:]...)
	if err != nil {
		return err
	}
	if changed {
		c.out.Integer(1)
	} else {
		c.out.Integer(0)
	}
	return nil
}

func cmdPFCount(srv *Server, c *Conn, args [][]byte) error {
	keys := bytesToStrings(args)
	n, err := srv.storage.PFCount(keys...)
	if err != nil {
		return err
	}
	c.out.Integer(n)
	return nil
}

func cmdPFMerge(srv *Server, c *Conn, args [][]byte) error {
	sources := bytesToStrings(args[1:])
	if err := srv.storage.PFMerge(string(args[0]), sources...); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

// --- pub/sub ---

func cmdSubscribe(srv *Server, c *Conn, args [][]byte) error {
	for _, a := range args {
		channel := string(a)
		n := srv.hub.Subscribe(c, channel)
		c.subChannels = n
		c.out.ArrayHeader(3)
		c.out.BulkString("subscribe")
		c.out.BulkString(channel)
		c.out.Integer(int64(n))
	}
	return nil
}

func cmdUnsubscribe(srv *Server, c *Conn, args [][]byte) error {
	channels := args
	if len(channels) == 0 {
		channels = toByteSlices(srv.hub.ChannelsOf(c))
	}
	if len(channels) == 0 {
		c.out.ArrayHeader(3)
		c.out.BulkString("unsubscribe")
		c.out.NilBulk()
		c.out.Integer(int64(c.subChannels))
		return nil
	}
	for _, a := range channels {
		channel := string(a)
		n := srv.hub.Unsubscribe(c, channel)
		c.subChannels = n
		c.out.ArrayHeader(3)
		c.out.BulkString("unsubscribe")
		c.out.BulkString(channel)
		c.out.Integer(int64(n))
	}
	return nil
}

func cmdPSubscribe(srv *Server, c *Conn, args [][]byte) error {
	for _, a := range args {
		pattern := string(a)
		n := srv.hub.PSubscribe(c, pattern)
		c.subChannels = n
		c.out.ArrayHeader(3)
		c.out.BulkString("psubscribe")
		c.out.BulkString(pattern)
		c.out.Integer(int64(n))
	}
	return nil
}

func cmdPUnsubscribe(srv *Server, c *Conn, args [][]byte) error {
	patterns := args
	if len(patterns) == 0 {
		patterns = toByteSlices(srv.hub.PatternsOf(c))
	}
	if len(patterns) == 0 {
		c.out.ArrayHeader(3)
		c.out.BulkString("punsubscribe")
		c.out.NilBulk()
		c.out.Integer(int64(c.subChannels))
		return nil
	}
	for _, a := range patterns {
		pattern := string(a)
		n := srv.hub.PUnsubscribe(c, pattern)
		c.subChannels = n
		c.out.ArrayHeader(3)
		c.out.BulkString("punsubscribe")
		c.out.BulkString(pattern)
		c.out.Integer(int64(n))
	}
	return nil
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

func cmdPublish(srv *Server, c *Conn, args [][]byte) error {
	n := srv.hub.Publish(string(args[0]), args[1])
	c.out.Integer(int64(n))
	return nil
}

func cmdPubSub(srv *Server, c *Conn, args [][]byte) error {
	switch upper(args[0]) {
	case "CHANNELS":
		pattern := "*"
		if len(args) > 1 {
			pattern = string(args[1])
		}
		channels := srv.hub.Channels(pattern)
		c.out.ArrayHeader(len(channels))
		for _, ch := range channels {
			c.out.BulkString(ch)
		}
	case "NUMSUB":
		c.out.ArrayHeader(len(args[1:]) * 2)
		for _, a := range args[1:] {
			c.out.BulkString(string(a))
			c.out.Integer(int64(srv.hub.NumSub(string(a))))
		}
	case "NUMPAT":
		c.out.Integer(int64(srv.hub.NumPat()))
	default:
		return resp.ErrSyntax
	}
	return nil
}

// --- transactions ---

func cmdMulti(srv *Server, c *Conn, args [][]byte) error {
	if err := c.txn.Multi(); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdDiscard(srv *Server, c *Conn, args [][]byte) error {
	if err := c.txn.Discard(); err != nil {
		return err
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdWatch(srv *Server, c *Conn, args [][]byte) error {
	for _, a := range args {
		if err := c.txn.Watch(srv.storage, string(a)); err != nil {
			return err
		}
	}
	c.out.Raw(resp.RespOK)
	return nil
}

func cmdUnwatch(srv *Server, c *Conn, args [][]byte) error {
	c.txn.Unwatch()
	c.out.Raw(resp.RespOK)
	return nil
}

// cmdExec replays the queued commands from inside the same dispatcher
// job that EXEC itself runs in, so nothing can interleave with it.
func cmdExec(srv *Server, c *Conn, args [][]byte) error {
	queue, err := c.txn.BeginExec(srv.storage)
	if err != nil {
		return err
	}
	if queue == nil {
		c.out.NilArray()
		return nil
	}
	c.out.ArrayHeader(len(queue))
	for _, qc := range queue {
		handler, known := srv.handlers[qc.Name]
		if !known {
			c.out.ErrorValue(resp.UnknownCommand(qc.Name))
			continue
		}
		if err := handler(srv, c, qc.Args); err != nil {
			if rerr, ok := err.(*resp.Error); ok {
				c.out.ErrorValue(rerr)
			} else {
				c.out.ErrorValue(resp.NewError(resp.PrefixErr, err.Error()))
			}
		}
	}
	return nil
}
