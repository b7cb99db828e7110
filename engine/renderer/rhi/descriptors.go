package rhi

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/math"
)

// ResourceKind tells the three resource families apart.
type ResourceKind uint8

const (
	ResourceKindImage ResourceKind = iota + 1
	ResourceKindBuffer
	ResourceKindUniformBuffer
)

func (k ResourceKind) String() string {
	switch k {
	case ResourceKindImage:
		return "image"
	case ResourceKindBuffer:
		return "buffer"
	case ResourceKindUniformBuffer:
		return "uniform-buffer"
	}
	return "unknown"
}

// MemoryResidency selects the heap a buffer lives in.
type MemoryResidency uint8

const (
	/** @brief Device local, not visible to the host. */
	MemoryGPUOnly MemoryResidency = iota
	/** @brief Host visible, written by the CPU and read by the GPU. */
	MemoryCPUToGPU
	/** @brief Host visible, written by the GPU and read back by the CPU. */
	MemoryGPUToCPU
)

/**
 * @brief Describes the shape of an image resource.
 */
type ImageDesc struct {
	/** @brief Debug name. Not part of the content hash. */
	Name   string
	Format vk.Format
	Width  uint32
	Height uint32
	Usage  vk.ImageUsageFlags
	/** @brief Number of mip levels. 0 is treated as 1. */
	MipLevels uint32
	/** @brief Number of array layers. 0 is treated as 1 (6 for cubemaps). */
	LayerCount uint32
	IsCubemap  bool
}

// Normalized fills defaulted fields.
func (d ImageDesc) Normalized() ImageDesc {
	if d.MipLevels == 0 {
		d.MipLevels = 1
	}
	if d.LayerCount == 0 {
		d.LayerCount = 1
		if d.IsCubemap {
			d.LayerCount = 6
		}
	}
	return d
}

func (d ImageDesc) Validate() error {
	if d.Width == 0 || d.Height == 0 {
		return fmt.Errorf("%w: image %q has zero extent %dx%d", core.ErrInvalidDescriptor, d.Name, d.Width, d.Height)
	}
	if d.Format == vk.FormatUndefined {
		return fmt.Errorf("%w: image %q has an undefined format", core.ErrInvalidDescriptor, d.Name)
	}
	n := d.Normalized()
	if n.MipLevels > math.MaxMipLevels(d.Width, d.Height) {
		return fmt.Errorf("%w: image %q requests %d mips, at most %d fit", core.ErrInvalidDescriptor, d.Name, n.MipLevels, math.MaxMipLevels(d.Width, d.Height))
	}
	if d.IsCubemap && (n.LayerCount%6 != 0 || d.Width != d.Height) {
		return fmt.Errorf("%w: cubemap %q needs square faces and a multiple of 6 layers", core.ErrInvalidDescriptor, d.Name)
	}
	return nil
}

// Hash is the content signature used to find a reusable allocation.
func (d ImageDesc) Hash() uint64 {
	n := d.Normalized()
	b := make([]byte, 0, 32)
	b = append(b, byte(ResourceKindImage))
	b = binary.LittleEndian.AppendUint32(b, uint32(n.Format))
	b = binary.LittleEndian.AppendUint32(b, n.Width)
	b = binary.LittleEndian.AppendUint32(b, n.Height)
	b = binary.LittleEndian.AppendUint32(b, uint32(n.Usage))
	b = binary.LittleEndian.AppendUint32(b, n.MipLevels)
	b = binary.LittleEndian.AppendUint32(b, n.LayerCount)
	if n.IsCubemap {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}
	return xxhash.Sum64(b)
}

// IsDepth reports whether the image has a depth and/or stencil format.
func (d ImageDesc) IsDepth() bool {
	return IsDepthFormat(d.Format)
}

// AspectMask returns the aspects touched by barriers on this image.
func (d ImageDesc) AspectMask() vk.ImageAspectFlags {
	switch d.Format {
	case vk.FormatD16Unorm, vk.FormatX8D24UnormPack32, vk.FormatD32Sfloat:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	case vk.FormatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectStencilBit)
	case vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit | vk.ImageAspectStencilBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}

func IsDepthFormat(format vk.Format) bool {
	switch format {
	case vk.FormatD16Unorm, vk.FormatX8D24UnormPack32, vk.FormatD32Sfloat,
		vk.FormatS8Uint, vk.FormatD16UnormS8Uint, vk.FormatD24UnormS8Uint, vk.FormatD32SfloatS8Uint:
		return true
	}
	return false
}

/**
 * @brief Describes a structured storage buffer.
 */
type BufferDesc struct {
	/** @brief Debug name. Not part of the content hash. */
	Name         string
	ElementSize  uint32
	ElementCount uint32
	Usage        vk.BufferUsageFlags
	Memory       MemoryResidency
}

// Size returns the byte size of the buffer.
func (d BufferDesc) Size() uint64 {
	return uint64(d.ElementSize) * uint64(d.ElementCount)
}

func (d BufferDesc) Validate() error {
	if d.ElementSize == 0 || d.ElementCount == 0 {
		return fmt.Errorf("%w: buffer %q has %d elements of %d bytes", core.ErrInvalidDescriptor, d.Name, d.ElementCount, d.ElementSize)
	}
	return nil
}

func (d BufferDesc) Hash() uint64 {
	b := make([]byte, 0, 16)
	b = append(b, byte(ResourceKindBuffer))
	b = binary.LittleEndian.AppendUint32(b, d.ElementSize)
	b = binary.LittleEndian.AppendUint32(b, d.ElementCount)
	b = binary.LittleEndian.AppendUint32(b, uint32(d.Usage))
	b = append(b, byte(d.Memory))
	return xxhash.Sum64(b)
}

/**
 * @brief Describes a host-written uniform (constant) buffer.
 */
type UniformBufferDesc struct {
	Name string
	Size uint32
}

func (d UniformBufferDesc) Validate() error {
	if d.Size == 0 {
		return fmt.Errorf("%w: uniform buffer %q has zero size", core.ErrInvalidDescriptor, d.Name)
	}
	return nil
}

func (d UniformBufferDesc) Hash() uint64 {
	b := make([]byte, 0, 8)
	b = append(b, byte(ResourceKindUniformBuffer))
	b = binary.LittleEndian.AppendUint32(b, d.Size)
	return xxhash.Sum64(b)
}
