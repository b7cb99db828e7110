package vulkan

import (
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

// VulkanDevice is the rhi.Device backed by a VulkanContext.
type VulkanDevice struct {
	context *VulkanContext
}

func NewVulkanDevice(appName string, debugMarkers bool) (*VulkanDevice, error) {
	ctx, err := NewVulkanContext(appName, debugMarkers)
	if err != nil {
		return nil, err
	}
	return &VulkanDevice{context: ctx}, nil
}

func (d *VulkanDevice) Context() *VulkanContext {
	return d.context
}

func (d *VulkanDevice) CreateImage(desc rhi.ImageDesc) (rhi.Image, error) {
	var img *VulkanImage
	err := d.context.locks.SafeCall(ResourceManagement, func() error {
		var err error
		img, err = newImage(d.context, desc)
		return err
	})
	if err != nil {
		core.LogError("failed to create image %q: %s", desc.Name, err)
		return nil, err
	}
	return img, nil
}

func (d *VulkanDevice) CreateStorageBuffer(desc rhi.BufferDesc) (rhi.Buffer, error) {
	var buf *VulkanBuffer
	err := d.context.locks.SafeCall(ResourceManagement, func() error {
		var err error
		buf, err = newStorageBuffer(d.context, desc)
		return err
	})
	if err != nil {
		core.LogError("failed to create buffer %q: %s", desc.Name, err)
		return nil, err
	}
	return buf, nil
}

func (d *VulkanDevice) CreateUniformBuffer(desc rhi.UniformBufferDesc) (rhi.UniformBuffer, error) {
	var buf *VulkanUniformBuffer
	err := d.context.locks.SafeCall(ResourceManagement, func() error {
		var err error
		buf, err = newUniformBuffer(d.context, desc)
		return err
	})
	if err != nil {
		core.LogError("failed to create uniform buffer %q: %s", desc.Name, err)
		return nil, err
	}
	return buf, nil
}

func (d *VulkanDevice) NewCommandBuffer() (rhi.CommandBuffer, error) {
	return NewVulkanCommandBuffer(d.context)
}

// Destroy tears down the context. Every resource created by the device must
// have been destroyed.
func (d *VulkanDevice) Destroy() {
	d.context.Destroy()
}

var (
	_ rhi.Device        = (*VulkanDevice)(nil)
	_ rhi.CommandBuffer = (*VulkanCommandBuffer)(nil)
	_ rhi.Image         = (*VulkanImage)(nil)
	_ rhi.Buffer        = (*VulkanBuffer)(nil)
	_ rhi.UniformBuffer = (*VulkanUniformBuffer)(nil)
)
