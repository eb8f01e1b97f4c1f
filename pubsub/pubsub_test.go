// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of microredis-go.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package pubsub

import "testing"

type fakeSub struct {
	id       uint64
	messages []string
	pmsgs    []string
}

func (f *fakeSub) ID() uint64 { return f.id }
func (f *fakeSub) DeliverMessage(channel string, payload []byte) error {
	f.messages = append(f.messages, channel+":"+string(payload))
	return nil
}
func (f *fakeSub) DeliverPMessage(pattern, channel string, payload []byte) error {
	f.pmsgs = append(f.pmsgs, pattern+":"+channel+":"+string(payload))
	return nil
}

func TestPublishDeliversToChannelSubscriber(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 1}
	h.Subscribe(s, "news")

	n := h.Publish("news", []byte("hello"))
	if n != 1 {
		t.Fatalf("Publish returned %d receivers, want 1", n)
	}
	if len(s.messages) != 1 || s.messages[0] != "news:hello" {
		t.Errorf("messages = %v", s.messages)
	}
}

func TestPublishDeliversToPatternSubscriber(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 1}
	h.PSubscribe(s, "news.*")

	h.Publish("news.sports", []byte("goal"))
	if len(s.pmsgs) != 1 || s.pmsgs[0] != "news.*:news.sports:goal" {
		t.Errorf("pmsgs = %v", s.pmsgs)
	}
}

func TestUnsubscribeAllRemovesFromBothRegistries(t *testing.T) {
	h := NewHub()
	s := &fakeSub{id: 1}
	h.Subscribe(s, "a")
	h.PSubscribe(s, "b*")
	h.UnsubscribeAll(s)

	if h.Publish("a", []byte("x")) != 0 {
		t.Error("expected no subscribers left on channel a")
	}
	if h.Publish("bx", []byte("x")) != 0 {
		t.Error("expected no subscribers left on pattern b*")
	}
}

func TestNumSubAndNumPat(t *testing.T) {
	h := NewHub()
	s1, s2 := &fakeSub{id: 1}, &fakeSub{id: 2}
	h.Subscribe(s1, "a")
	h.Subscribe(s2, "a")
	h.PSubscribe(s1, "p*")

	if h.NumSub("a") != 2 {
		t.Errorf("NumSub(a) = %d, want 2", h.NumSub("a"))
	}
	if h.NumPat() != 1 {
		t.Errorf("NumPat() = %d, want 1", h.NumPat())
	}
}
