package graph

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// Context is handed to a pass while the graph executes. Only the execution
// engine creates one, so declaration code can never record commands.
type Context struct {
	graph *RenderGraph
	pass  *passNode
	cb    rhi.CommandBuffer
}

func (c *Context) CommandBuffer() rhi.CommandBuffer {
	return c.cb
}

func (c *Context) PassName() string {
	return c.pass.name
}

func (c *Context) PassIndex() int {
	return c.pass.index
}

// Data returns the value attached with AddPassWithData, nil otherwise.
func (c *Context) Data() interface{} {
	return c.pass.data
}

// PassData returns the typed value attached with AddPassWithData.
func PassData[T any](c *Context) *T {
	data, ok := c.pass.data.(*T)
	core.Assertf(ok, core.ErrUnknown, "pass %q carries %T", c.pass.name, c.pass.data)
	return data
}

func (c *Context) resolve(h ResourceHandle) (*resourceNode, rhi.Resource) {
	n := c.graph.node(h)
	core.Assertf(c.pass.declares(h), core.ErrUndeclaredResource, "pass %q resolving %s %q", c.pass.name, h, n.name())
	res, ok := c.graph.physical[h]
	core.Assertf(ok, core.ErrInvalidHandle, "%s %q has no physical backing", h, n.name())
	return n, res
}

func (c *Context) Image(h ResourceHandle) rhi.Image {
	n, res := c.resolve(h)
	core.Assertf(n.kind == rhi.ResourceKindImage, core.ErrInvalidHandle, "%s is a %s", h, n.kind)
	return res.(rhi.Image)
}

func (c *Context) Buffer(h ResourceHandle) rhi.Buffer {
	n, res := c.resolve(h)
	core.Assertf(n.kind == rhi.ResourceKindBuffer, core.ErrInvalidHandle, "%s is a %s", h, n.kind)
	return res.(rhi.Buffer)
}

func (c *Context) UniformBuffer(h ResourceHandle) rhi.UniformBuffer {
	n, res := c.resolve(h)
	core.Assertf(n.kind == rhi.ResourceKindUniformBuffer, core.ErrInvalidHandle, "%s is a %s", h, n.kind)
	return res.(rhi.UniformBuffer)
}

// ImageBindlessIndex registers the image view of h for shader access. The
// registration is dropped when the frame finishes.
func (c *Context) ImageBindlessIndex(h ResourceHandle) uint32 {
	img := c.Image(h)
	idx := c.graph.env.Bindless.RegisterImageView(img)
	c.graph.bindImages[idx] = struct{}{}
	return idx
}

// BufferBindlessIndex is ImageBindlessIndex for storage and uniform buffers.
func (c *Context) BufferBindlessIndex(h ResourceHandle) uint32 {
	n, res := c.resolve(h)
	core.Assertf(n.kind != rhi.ResourceKindImage, core.ErrInvalidHandle, "%s is an image", h)
	idx := c.graph.env.Bindless.RegisterBuffer(res)
	c.graph.bindBuffers[idx] = struct{}{}
	return idx
}

// WriteUniform queues data for the uniform buffer h. Uploads land after
// every pass has been recorded and before the frame is submitted.
func (c *Context) WriteUniform(h ResourceHandle, data []byte) {
	c.WriteUniformAt(h, 0, data)
}

func (c *Context) WriteUniformAt(h ResourceHandle, offset uint32, data []byte) {
	ub := c.UniformBuffer(h)
	size := ub.Desc().Size
	core.Assertf(uint64(offset)+uint64(len(data)) <= uint64(size), core.ErrInvalidDescriptor,
		"%d bytes at offset %d overflow uniform buffer %q of %d bytes", len(data), offset, ub.Desc().Name, size)
	c.graph.uploads = append(c.graph.uploads, uniformUpload{
		handle: h,
		offset: offset,
		data:   append([]byte(nil), data...),
	})
}

// WriteUniformValue encodes a fixed-size value little-endian and queues it
// for the uniform buffer h.
func WriteUniformValue[T any](c *Context, h ResourceHandle, value T) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, value); err != nil {
		return fmt.Errorf("encode uniform %s: %w", h, err)
	}
	c.WriteUniform(h, buf.Bytes())
	return nil
}
