package service

import (
	"fmt"
	"time"
)

// windowState is the watermark checkpoint state of a running pass.
type windowState int

const (
	stateIdle windowState = iota
	stateWindowInFlight
	stateAdvancing
)

func (s windowState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWindowInFlight:
		return "window-in-flight"
	case stateAdvancing:
		return "advancing"
	default:
		return fmt.Sprintf("windowState(%d)", int(s))
	}
}

// checkpoint enforces Idle -> WindowInFlight -> Advancing -> Idle. The
// watermark may only be written in Advancing, which is entered once every
// record of the window has been accounted for.
type checkpoint struct {
	state        windowState
	start, until time.Time
}

func (c *checkpoint) begin(start, until time.Time) error {
	if c.state != stateIdle {
		return fmt.Errorf("checkpoint: begin window in state %s", c.state)
	}
	c.state, c.start, c.until = stateWindowInFlight, start, until
	return nil
}

func (c *checkpoint) accounted() error {
	if c.state != stateWindowInFlight {
		return fmt.Errorf("checkpoint: advance in state %s", c.state)
	}
	c.state = stateAdvancing
	return nil
}

func (c *checkpoint) done() {
	c.state = stateIdle
}
