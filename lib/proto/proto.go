// Package proto defines the message vocabulary exchanged between the control
// panel and the page agent. Commands flow panel -> agent, events flow
// agent -> panel. Every event is a full snapshot of the fields it carries,
// never a delta; the panel replaces its local mirror wholesale.
package proto

import (
	"encoding/json"
	"fmt"
)

// CommandKind identifies an inbound command.
type CommandKind string

const (
	CmdPlay        CommandKind = "PLAY"
	CmdPause       CommandKind = "PAUSE"
	CmdStop        CommandKind = "STOP"
	CmdNext        CommandKind = "NEXT"
	CmdPrev        CommandKind = "PREV"
	CmdSeek        CommandKind = "SEEK"
	CmdVolume      CommandKind = "VOLUME"
	CmdShuffle     CommandKind = "SHUFFLE"
	CmdLoop        CommandKind = "LOOP"
	CmdGetState    CommandKind = "GET_STATE"
	CmdStartViz    CommandKind = "START_VIZ"
	CmdStopViz     CommandKind = "STOP_VIZ"
	CmdGetPlaylist CommandKind = "GET_PLAYLIST"
	CmdPlayItem    CommandKind = "PLAY_ITEM"
)

// Command is an inbound panel command. Value is kind-dependent and decoded
// through the typed accessors below.
type Command struct {
	Kind  CommandKind     `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Seconds decodes the value of a SEEK command.
func (c Command) Seconds() (float64, error) {
	var v float64
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return 0, fmt.Errorf("decode %s value: %w", c.Kind, err)
	}
	return v, nil
}

// Percent decodes the value of a VOLUME command (0-100).
func (c Command) Percent() (int, error) {
	var v int
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return 0, fmt.Errorf("decode %s value: %w", c.Kind, err)
	}
	return v, nil
}

// Enabled decodes the value of a SHUFFLE command.
func (c Command) Enabled() (bool, error) {
	var v bool
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return false, fmt.Errorf("decode %s value: %w", c.Kind, err)
	}
	return v, nil
}

// RepeatTarget decodes the value of a LOOP command. A nil result means the
// value was omitted and the mode should advance one step.
func (c Command) RepeatTarget() (*RepeatMode, error) {
	if len(c.Value) == 0 || string(c.Value) == "null" {
		return nil, nil
	}
	var v int
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return nil, fmt.Errorf("decode %s value: %w", c.Kind, err)
	}
	if v < int(RepeatOff) || v > int(RepeatSingle) {
		return nil, fmt.Errorf("loop mode out of range: %d", v)
	}
	m := RepeatMode(v)
	return &m, nil
}

// MediaID decodes the value of a PLAY_ITEM command.
func (c Command) MediaID() (string, error) {
	var v struct {
		MediaID string `json:"mediaId"`
	}
	if err := json.Unmarshal(c.Value, &v); err != nil {
		return "", fmt.Errorf("decode %s value: %w", c.Kind, err)
	}
	return v.MediaID, nil
}

// Command constructors used by the panel side.

func NewCommand(kind CommandKind) Command { return Command{Kind: kind} }

func NewSeek(seconds float64) Command {
	raw, _ := json.Marshal(seconds)
	return Command{Kind: CmdSeek, Value: raw}
}

func NewVolume(percent int) Command {
	raw, _ := json.Marshal(percent)
	return Command{Kind: CmdVolume, Value: raw}
}

func NewShuffle(enabled bool) Command {
	raw, _ := json.Marshal(enabled)
	return Command{Kind: CmdShuffle, Value: raw}
}

// NewLoop sets an exact repeat mode. NewCommand(CmdLoop) advances one step.
func NewLoop(mode RepeatMode) Command {
	raw, _ := json.Marshal(int(mode))
	return Command{Kind: CmdLoop, Value: raw}
}

func NewPlayItem(mediaID string) Command {
	raw, _ := json.Marshal(map[string]string{"mediaId": mediaID})
	return Command{Kind: CmdPlayItem, Value: raw}
}
