package headless

import (
	"fmt"

	"github.com/spaghettifunk/anima-framegraph/engine/math"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type CommandKind int

const (
	CmdBarrier CommandKind = iota
	CmdBeginMarker
	CmdEndMarker
	CmdDispatch
	CmdDraw
	CmdCopyBuffer
	CmdClearBuffer
)

func (k CommandKind) String() string {
	switch k {
	case CmdBarrier:
		return "barrier"
	case CmdBeginMarker:
		return "begin-marker"
	case CmdEndMarker:
		return "end-marker"
	case CmdDispatch:
		return "dispatch"
	case CmdDraw:
		return "draw"
	case CmdCopyBuffer:
		return "copy-buffer"
	case CmdClearBuffer:
		return "clear-buffer"
	}
	return "unknown"
}

// Command is one recorded call.
type Command struct {
	Kind      CommandKind
	Name      string
	Colour    math.Vec4
	Barriers  []rhi.Barrier
	Args      [4]uint32
	Resources []rhi.Resource
}

type commandBufferState int

const (
	stateReady commandBufferState = iota
	stateRecording
	stateRecordingEnded
	stateSubmitted
)

// CommandBuffer records every call so tests can inspect the stream.
type CommandBuffer struct {
	device   *Device
	state    commandBufferState
	Commands []Command
}

func (c *CommandBuffer) Begin() error {
	if c.state != stateReady {
		return fmt.Errorf("command buffer begun in state %d", c.state)
	}
	c.state = stateRecording
	return nil
}

func (c *CommandBuffer) End() error {
	if c.state != stateRecording {
		return fmt.Errorf("command buffer ended in state %d", c.state)
	}
	c.state = stateRecordingEnded
	return nil
}

func (c *CommandBuffer) Execute() error {
	if c.state != stateRecordingEnded {
		return fmt.Errorf("command buffer submitted in state %d", c.state)
	}
	c.state = stateSubmitted
	c.device.onSubmit()
	return nil
}

func (c *CommandBuffer) record(cmd Command) {
	if c.state != stateRecording {
		panic(fmt.Sprintf("headless: %s recorded outside Begin/End", cmd.Kind))
	}
	c.Commands = append(c.Commands, cmd)
}

func (c *CommandBuffer) ResourceBarrier(barriers []rhi.Barrier) {
	if len(barriers) == 0 {
		return
	}
	out := make([]rhi.Barrier, len(barriers))
	copy(out, barriers)
	c.record(Command{Kind: CmdBarrier, Barriers: out})
}

func (c *CommandBuffer) BeginMarker(name string, colour math.Vec4) {
	c.record(Command{Kind: CmdBeginMarker, Name: name, Colour: colour})
}

func (c *CommandBuffer) EndMarker() {
	c.record(Command{Kind: CmdEndMarker})
}

func (c *CommandBuffer) Dispatch(x, y, z uint32) {
	c.record(Command{Kind: CmdDispatch, Args: [4]uint32{x, y, z}})
}

func (c *CommandBuffer) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	c.record(Command{Kind: CmdDraw, Args: [4]uint32{vertexCount, instanceCount, firstVertex, firstInstance}})
}

func (c *CommandBuffer) CopyBufferRegion(src rhi.Resource, srcOffset uint64, dst rhi.Resource, dstOffset uint64, size uint64) {
	c.record(Command{
		Kind:      CmdCopyBuffer,
		Args:      [4]uint32{uint32(srcOffset), uint32(dstOffset), uint32(size)},
		Resources: []rhi.Resource{src, dst},
	})
}

func (c *CommandBuffer) ClearBuffer(buffer rhi.Resource, value uint32) {
	c.record(Command{Kind: CmdClearBuffer, Args: [4]uint32{value}, Resources: []rhi.Resource{buffer}})
}

// Filter returns the recorded commands of the given kind.
func (c *CommandBuffer) Filter(kind CommandKind) []Command {
	var out []Command
	for _, cmd := range c.Commands {
		if cmd.Kind == kind {
			out = append(out, cmd)
		}
	}
	return out
}

// Submitted reports whether Execute completed.
func (c *CommandBuffer) Submitted() bool {
	return c.state == stateSubmitted
}
