package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

type VulkanImage struct {
	id      uuid.UUID
	context *VulkanContext
	desc    rhi.ImageDesc

	mu     sync.Mutex
	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView
}

func newImage(context *VulkanContext, desc rhi.ImageDesc) (*VulkanImage, error) {
	desc = desc.Normalized()
	img := &VulkanImage{id: uuid.New(), context: context, desc: desc}

	usage := desc.Usage
	if usage == 0 {
		usage = vk.ImageUsageFlags(vk.ImageUsageSampledBit)
	}
	info := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    desc.Format,
		Extent: vk.Extent3D{
			Width:  desc.Width,
			Height: desc.Height,
			Depth:  1,
		},
		MipLevels:     desc.MipLevels,
		ArrayLayers:   desc.LayerCount,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         usage,
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if desc.IsCubemap {
		info.Flags = vk.ImageCreateFlags(vk.ImageCreateCubeCompatibleBit)
	}

	if res := vk.CreateImage(context.LogicalDevice, &info, context.Allocator, &img.Handle); res != vk.Success {
		return nil, resultError(fmt.Sprintf("vkCreateImage(%s)", desc.Name), res)
	}

	var reqs vk.MemoryRequirements
	vk.GetImageMemoryRequirements(context.LogicalDevice, img.Handle, &reqs)
	reqs.Deref()

	index := context.FindMemoryIndex(reqs.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if index < 0 {
		img.release()
		return nil, fmt.Errorf("%w: no device local memory for image %q", ErrVulkan, desc.Name)
	}
	alloc := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  reqs.Size,
		MemoryTypeIndex: uint32(index),
	}
	if res := vk.AllocateMemory(context.LogicalDevice, &alloc, context.Allocator, &img.Memory); res != vk.Success {
		img.release()
		return nil, resultError(fmt.Sprintf("vkAllocateMemory(%s)", desc.Name), res)
	}
	if res := vk.BindImageMemory(context.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.release()
		return nil, resultError("vkBindImageMemory", res)
	}

	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img.Handle,
		ViewType:         viewType(desc),
		Format:           desc.Format,
		SubresourceRange: img.subresourceRange(),
	}
	if res := vk.CreateImageView(context.LogicalDevice, &viewInfo, context.Allocator, &img.View); res != vk.Success {
		img.release()
		return nil, resultError(fmt.Sprintf("vkCreateImageView(%s)", desc.Name), res)
	}
	return img, nil
}

func viewType(desc rhi.ImageDesc) vk.ImageViewType {
	switch {
	case desc.IsCubemap && desc.LayerCount > 6:
		return vk.ImageViewTypeCubeArray
	case desc.IsCubemap:
		return vk.ImageViewTypeCube
	case desc.LayerCount > 1:
		return vk.ImageViewType2dArray
	}
	return vk.ImageViewType2d
}

func (i *VulkanImage) subresourceRange() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask:     i.desc.AspectMask(),
		BaseMipLevel:   0,
		LevelCount:     i.desc.MipLevels,
		BaseArrayLayer: 0,
		LayerCount:     i.desc.LayerCount,
	}
}

func (i *VulkanImage) barrier(src, dst rhi.ResourceState) vk.ImageMemoryBarrier {
	return vk.ImageMemoryBarrier{
		SType:               vk.StructureTypeImageMemoryBarrier,
		SrcAccessMask:       src.Access,
		DstAccessMask:       dst.Access,
		OldLayout:           src.Layout,
		NewLayout:           dst.Layout,
		SrcQueueFamilyIndex: queueFamilyIgnored,
		DstQueueFamilyIndex: queueFamilyIgnored,
		Image:               i.Handle,
		SubresourceRange:    i.subresourceRange(),
	}
}

func (i *VulkanImage) ID() uuid.UUID {
	return i.id
}

func (i *VulkanImage) Kind() rhi.ResourceKind {
	return rhi.ResourceKindImage
}

func (i *VulkanImage) Desc() rhi.ImageDesc {
	return i.desc
}

func (i *VulkanImage) Destroy() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Handle == vk.NullImage {
		return fmt.Errorf("image %q destroyed twice", i.desc.Name)
	}
	i.release()
	return nil
}

func (i *VulkanImage) release() {
	device := i.context.LogicalDevice
	if i.View != vk.NullImageView {
		vk.DestroyImageView(device, i.View, i.context.Allocator)
		i.View = vk.NullImageView
	}
	if i.Handle != vk.NullImage {
		vk.DestroyImage(device, i.Handle, i.context.Allocator)
		i.Handle = vk.NullImage
	}
	if i.Memory != vk.NullDeviceMemory {
		vk.FreeMemory(device, i.Memory, i.context.Allocator)
		i.Memory = vk.NullDeviceMemory
	}
}
