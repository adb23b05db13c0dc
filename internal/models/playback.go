/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "strings"

// LoopMode controls what happens to a track once it finishes.
type LoopMode int

const (
	LoopOff           LoopMode = iota // finished track goes to history
	LoopRepeatCurrent                 // finished track is replayed next
	LoopRepeatQueue                   // finished track goes to the back of the queue
)

// Next returns the mode that follows m in the toggle cycle.
func (m LoopMode) Next() LoopMode {
	switch m {
	case LoopOff:
		return LoopRepeatCurrent
	case LoopRepeatCurrent:
		return LoopRepeatQueue
	default:
		return LoopOff
	}
}

// String returns the mode name.
func (m LoopMode) String() string {
	switch m {
	case LoopRepeatCurrent:
		return "current"
	case LoopRepeatQueue:
		return "queue"
	default:
		return "off"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m LoopMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *LoopMode) UnmarshalText(text []byte) error {
	*m = ParseLoopMode(string(text))
	return nil
}

// ParseLoopMode converts a name to a LoopMode. Unknown names map to LoopOff.
func ParseLoopMode(s string) LoopMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "current", "track", "one":
		return LoopRepeatCurrent
	case "queue", "all":
		return LoopRepeatQueue
	default:
		return LoopOff
	}
}

// Snapshot is the projection of session state used for change detection.
// It is comparable with ==.
type Snapshot struct {
	Playing      bool     `json:"playing"`
	Paused       bool     `json:"paused"`
	LoopMode     LoopMode `json:"loop_mode"`
	Volume       float64  `json:"volume"`
	CurrentTitle string   `json:"current_title,omitempty"`
	QueueLength  int      `json:"queue_length"`
	Connected    bool     `json:"connected"`
}

// QueueInfo is the full view of a session handed to the command surface.
type QueueInfo struct {
	State     string   `json:"state"`
	Current   *Track   `json:"current,omitempty"`
	Queue     []*Track `json:"queue"`
	History   []*Track `json:"history"`
	Playing   bool     `json:"playing"`
	Paused    bool     `json:"paused"`
	LoopMode  LoopMode `json:"loop_mode"`
	Volume    float64  `json:"volume"`
	ChannelID string   `json:"channel_id,omitempty"`
}
