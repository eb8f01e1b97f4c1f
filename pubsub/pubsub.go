// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package pubsub implements the channel/pattern dispatcher: four
// registries (channel subscribers, pattern subscribers, and their
// reverse indices per subscriber) plus publish fan-out.
package pubsub

// Subscriber is anything that can receive a published message. The
// server package's per-connection type implements this by writing a RESP
// "message"/"pmessage" array straight to its socket buffer -- pubsub
// itself never touches net.Conn or resp.Writer.
type Subscriber interface {
	ID() uint64
	DeliverMessage(channel string, payload []byte) error
	DeliverPMessage(pattern, channel string, payload []byte) error
}

// Hub holds all four registries. Like Storage, it is never locked: every
// method runs on the dispatcher goroutine.
type Hub struct {
	channels map[string]map[uint64]Subscriber
	patterns map[string]map[uint64]Subscriber

	subChannels map[uint64]map[string]struct{}
	subPatterns map[uint64]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		channels:    make(map[string]map[uint64]Subscriber),
		patterns:    make(map[string]map[uint64]Subscriber),
		subChannels: make(map[uint64]map[string]struct{}),
		subPatterns: make(map[uint64]map[string]struct{}),
	}
}

// Subscribe adds sub to channel's subscriber set and returns sub's total
// subscription count (channels + patterns), the count SUBSCRIBE replies
// with.
func (h *Hub) Subscribe(sub Subscriber, channel string) int {
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[uint64]Subscriber)
	}
	h.channels[channel][sub.ID()] = sub
	if h.subChannels[sub.ID()] == nil {
		h.subChannels[sub.ID()] = make(map[string]struct{})
	}
	h.subChannels[sub.ID()][channel] = struct{}{}
	return h.subCount(sub)
}

func (h *Hub) PSubscribe(sub Subscriber, pattern string) int {
	if h.patterns[pattern] == nil {
		h.patterns[pattern] = make(map[uint64]Subscriber)
	}
	h.patterns[pattern][sub.ID()] = sub
	if h.subPatterns[sub.ID()] == nil {
		h.subPatterns[sub.ID()] = make(map[string]struct{})
	}
	h.subPatterns[sub.ID()][pattern] = struct{}{}
	return h.subCount(sub)
}

func (h *Hub) Unsubscribe(sub Subscriber, channel string) int {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	if set, ok := h.subChannels[sub.ID()]; ok {
		delete(set, channel)
		if len(set) == 0 {
			delete(h.subChannels, sub.ID())
		}
	}
	return h.subCount(sub)
}

func (h *Hub) PUnsubscribe(sub Subscriber, pattern string) int {
	if subs, ok := h.patterns[pattern]; ok {
		delete(subs, sub.ID())
		if len(subs) == 0 {
			delete(h.patterns, pattern)
		}
	}
	if set, ok := h.subPatterns[sub.ID()]; ok {
		delete(set, pattern)
		if len(set) == 0 {
			delete(h.subPatterns, sub.ID())
		}
	}
	return h.subCount(sub)
}

// ChannelsOf and PatternsOf support UNSUBSCRIBE/PUNSUBSCRIBE with no
// arguments, which means "every channel/pattern I'm on".
func (h *Hub) ChannelsOf(sub Subscriber) []string {
	out := make([]string, 0, len(h.subChannels[sub.ID()]))
	for c := range h.subChannels[sub.ID()] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) PatternsOf(sub Subscriber) []string {
	out := make([]string, 0, len(h.subPatterns[sub.ID()]))
	for p := range h.subPatterns[sub.ID()] {
		out = append(out, p)
	}
	return out
}

// UnsubscribeAll tears down every subscription sub holds, called when a
// connection closes.
func (h *Hub) UnsubscribeAll(sub Subscriber) {
	for _, c := range h.ChannelsOf(sub) {
		h.Unsubscribe(sub, c)
	}
	for _, p := range h.PatternsOf(sub) {
		h.PUnsubscribe(sub, p)
	}
}

func (h *Hub) subCount(sub Subscriber) int {
	return len(h.subChannels[sub.ID()]) + len(h.subPatterns[sub.ID()])
}

// Publish delivers payload to every direct subscriber of channel and
// every pattern subscriber whose pattern matches channel, returning the
// number of distinct subscribers delivered to (as PUBLISH's reply
// requires): a subscriber reached through several routes counts once.
func (h *Hub) Publish(channel string, payload []byte) int {
	delivered := make(map[uint64]struct{})
	for id, sub := range h.channels[channel] {
		if sub.DeliverMessage(channel, payload) == nil {
			delivered[id] = struct{}{}
		}
	}
	for pattern, subs := range h.patterns {
		if !globMatch(pattern, channel) {
			continue
		}
		for id, sub := range subs {
			if sub.DeliverPMessage(pattern, channel, payload) == nil {
				delivered[id] = struct{}{}
			}
		}
	}
	return len(delivered)
}

// NumSub reports the subscriber count for a channel, for PUBSUB NUMSUB.
func (h *Hub) NumSub(channel string) int { return len(h.channels[channel]) }

// NumPat reports the total number of distinct active patterns, for
// PUBSUB NUMPAT.
func (h *Hub) NumPat() int { return len(h.patterns) }

// Channels lists active channels matching an optional glob pattern, for
// PUBSUB CHANNELS.
func (h *Hub) Channels(pattern string) []string {
	out := make([]string, 0, len(h.channels))
	for c := range h.channels {
		if pattern == "" || globMatch(pattern, c) {
			out = append(out, c)
		}
	}
	return out
}

// globMatch is a two-pointer backtracking matcher for channel patterns.
// It handles '*' and '?' only: unlike storage's KEYS matcher it has no
// [...] character classes and no '\' escapes, so '[', ']' and '\' in a
// pattern match themselves literally.
func globMatch(pattern, s string) bool {
	return globMatchBytes([]byte(pattern), []byte(s))
}

func globMatchBytes(pattern, s []byte) bool {
	var pi, si int
	starPi, starSi := -1, -1
	for si < len(s) {
		switch {
		case pi < len(pattern) && pattern[pi] == '*':
			starPi, starSi = pi, si
			pi++
		case pi < len(pattern) && pattern[pi] == '?':
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == s[si]:
			pi++
			si++
		default:
			if starPi < 0 {
				return false
			}
			starSi++
			si = starSi
			pi = starPi + 1
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
