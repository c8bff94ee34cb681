// Copyright (c) 2026 Netvault Team
// Netvault - credential vault and session engine for network equipment
// This source code is licensed under the MIT license found in the LICENSE file.

package session

import (
	"fmt"
	"time"
)

// State names a phase of the connection state machine.
type State int

const (
	StateDisconnected State = iota
	StateDialingHop
	StateAuthenticatingHop
	StateDialingTarget
	StateAuthenticatingTarget
	StateConnected
	StateReconnecting
	StateFailed
)

// String returns the lowercase state name used in logs and status output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateDialingHop:
		return "dialing-hop"
	case StateAuthenticatingHop:
		return "authenticating-hop"
	case StateDialingTarget:
		return "dialing-target"
	case StateAuthenticatingTarget:
		return "authenticating-target"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Status is the full observable state of a session: the phase plus the
// parameters that qualify it (which hop, which reconnect attempt). Reason is
// always redacted text, never secret material.
type Status struct {
	State   State
	Hop     int           // 1-based; set for the hop states
	Attempt int           // set for StateReconnecting
	Delay   time.Duration // set for StateReconnecting
	Reason  string        // set for StateFailed
}

func (s Status) String() string {
	switch s.State {
	case StateDialingHop, StateAuthenticatingHop:
		return fmt.Sprintf("%s(%d)", s.State, s.Hop)
	case StateReconnecting:
		return fmt.Sprintf("%s(attempt=%d, delay=%s)", s.State, s.Attempt, s.Delay)
	case StateFailed:
		return fmt.Sprintf("%s(%s)", s.State, s.Reason)
	}
	return s.State.String()
}

// Event is the engine-to-surface half of the terminal contract. The surface
// receives data, state transitions, title updates, touch prompts, and a
// final close notification on the engine's Events channel.
type Event interface {
	isEvent()
}

// DataReceived carries remote output bytes.
type DataReceived struct {
	Data []byte
}

// StateChanged reports a state machine transition.
type StateChanged struct {
	Status Status
}

// TitleChanged carries the suggested terminal title.
type TitleChanged struct {
	Title string
}

// TouchRequired asks the collaborator to confirm a hardware-token touch on
// the given hop. The engine blocks until ConfirmTouch or the hop's timeout.
type TouchRequired struct {
	Hop    int
	Prompt string
}

// Closed is the final event on the channel. Err is nil after an explicit
// disconnect and carries the terminal failure otherwise.
type Closed struct {
	Err error
}

func (DataReceived) isEvent()  {}
func (StateChanged) isEvent()  {}
func (TitleChanged) isEvent()  {}
func (TouchRequired) isEvent() {}
func (Closed) isEvent()        {}
