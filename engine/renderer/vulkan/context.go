// Package vulkan implements the RHI contracts on top of goki/vulkan. The
// context is headless: no surface or swapchain is created, work is recorded
// into primary command buffers and submitted to a single graphics+compute
// queue.
package vulkan

import (
	"fmt"
	"strings"
	"sync"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-framegraph/engine/core"
)

const debugMarkerExtension = "VK_EXT_debug_marker"

var (
	loaderMu     sync.Mutex
	loaderLoaded bool
)

type VulkanContext struct {
	Instance  vk.Instance
	Allocator *vk.AllocationCallbacks

	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	DeviceName     string

	// Family of the single queue used for both graphics and compute.
	QueueIndex  uint32
	Queue       vk.Queue
	CommandPool vk.CommandPool

	Memory vk.PhysicalDeviceMemoryProperties

	// Set when the device exposes VK_EXT_debug_marker and it was enabled.
	DebugMarkers bool

	locks *VulkanLockPool
}

// NewVulkanContext loads the Vulkan loader, creates an instance, picks the
// first GPU with a queue that supports graphics and compute, and creates a
// logical device plus a resettable command pool on it.
func NewVulkanContext(appName string, debugMarkers bool) (*VulkanContext, error) {
	if err := loadLoader(); err != nil {
		return nil, err
	}

	ctx := &VulkanContext{locks: NewVulkanLockPool()}
	if err := ctx.createInstance(appName); err != nil {
		return nil, err
	}
	if err := ctx.selectPhysicalDevice(); err != nil {
		ctx.Destroy()
		return nil, err
	}
	if err := ctx.createLogicalDevice(debugMarkers); err != nil {
		ctx.Destroy()
		return nil, err
	}
	if err := ctx.createCommandPool(); err != nil {
		ctx.Destroy()
		return nil, err
	}
	ctx.locks.SetQueueFamily(ctx.QueueIndex)

	core.LogInfo("Vulkan context ready on %q (queue family %d, debug markers %t)", ctx.DeviceName, ctx.QueueIndex, ctx.DebugMarkers)
	return ctx, nil
}

func loadLoader() error {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	if loaderLoaded {
		return nil
	}
	if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return fmt.Errorf("failed to load the Vulkan library: %w", err)
	}
	if err := vk.Init(); err != nil {
		return fmt.Errorf("failed to initialise the Vulkan loader: %w", err)
	}
	loaderLoaded = true
	return nil
}

func (vc *VulkanContext) createInstance(appName string) error {
	appInfo := vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		PApplicationName:   safeString(appName),
		ApplicationVersion: vk.MakeVersion(1, 0, 0),
		PEngineName:        safeString("Anima Framegraph"),
		EngineVersion:      vk.MakeVersion(1, 0, 0),
		ApiVersion:         vk.MakeVersion(1, 1, 0),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:            vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo: &appInfo,
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, vc.Allocator, &instance); res != vk.Success {
		return resultError("vkCreateInstance", res)
	}
	vc.Instance = instance
	if err := vk.InitInstance(instance); err != nil {
		return fmt.Errorf("failed to load instance functions: %w", err)
	}
	core.LogDebug("Vulkan instance created.")
	return nil
}

func (vc *VulkanContext) selectPhysicalDevice() error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return fmt.Errorf("no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(vc.Instance, &count, devices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	required := vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit)
	for _, device := range devices {
		var familyCount uint32
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
		families := make([]vk.QueueFamilyProperties, familyCount)
		vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

		for i, family := range families {
			family.Deref()
			if family.QueueFlags&required != required {
				continue
			}
			vc.PhysicalDevice = device
			vc.QueueIndex = uint32(i)

			var props vk.PhysicalDeviceProperties
			vk.GetPhysicalDeviceProperties(device, &props)
			props.Deref()
			vc.DeviceName = cString(props.DeviceName[:])

			vk.GetPhysicalDeviceMemoryProperties(device, &vc.Memory)
			vc.Memory.Deref()
			return nil
		}
	}
	return fmt.Errorf("no device with a graphics and compute queue was found")
}

func (vc *VulkanContext) hasDeviceExtension(name string) bool {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(vc.PhysicalDevice, "", &count, nil); res != vk.Success || count == 0 {
		return false
	}
	available := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(vc.PhysicalDevice, "", &count, available); res != vk.Success {
		return false
	}
	for i := range available {
		available[i].Deref()
		if cString(available[i].ExtensionName[:]) == name {
			return true
		}
	}
	return false
}

func (vc *VulkanContext) createLogicalDevice(debugMarkers bool) error {
	var extensions []string
	if debugMarkers && vc.hasDeviceExtension(debugMarkerExtension) {
		extensions = append(extensions, safeString(debugMarkerExtension))
		vc.DebugMarkers = true
	} else if debugMarkers {
		core.LogWarn("%s is not available, debug markers are disabled", debugMarkerExtension)
	}

	queueInfo := vk.DeviceQueueCreateInfo{
		SType:            vk.StructureTypeDeviceQueueCreateInfo,
		QueueFamilyIndex: vc.QueueIndex,
		QueueCount:       1,
		PQueuePriorities: []float32{1.0},
	}
	deviceInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    1,
		PQueueCreateInfos:       []vk.DeviceQueueCreateInfo{queueInfo},
		EnabledExtensionCount:   uint32(len(extensions)),
		PpEnabledExtensionNames: extensions,
	}

	var device vk.Device
	if res := vk.CreateDevice(vc.PhysicalDevice, &deviceInfo, vc.Allocator, &device); res != vk.Success {
		return resultError("vkCreateDevice", res)
	}
	vc.LogicalDevice = device

	var queue vk.Queue
	vk.GetDeviceQueue(device, vc.QueueIndex, 0, &queue)
	vc.Queue = queue
	core.LogDebug("Logical device created.")
	return nil
}

func (vc *VulkanContext) createCommandPool() error {
	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: vc.QueueIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(vc.LogicalDevice, &poolInfo, vc.Allocator, &pool); res != vk.Success {
		return resultError("vkCreateCommandPool", res)
	}
	vc.CommandPool = pool
	return nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has all of propertyFlags, or -1.
func (vc *VulkanContext) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < vc.Memory.MemoryTypeCount; i++ {
		vc.Memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && vc.Memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// Destroy waits for the device to go idle and releases the pool, the device
// and the instance. Resources created on the device must be destroyed first.
func (vc *VulkanContext) Destroy() {
	if vc.LogicalDevice != nil {
		vk.DeviceWaitIdle(vc.LogicalDevice)
		if vc.CommandPool != vk.NullCommandPool {
			vk.DestroyCommandPool(vc.LogicalDevice, vc.CommandPool, vc.Allocator)
			vc.CommandPool = vk.NullCommandPool
		}
		vk.DestroyDevice(vc.LogicalDevice, vc.Allocator)
		vc.LogicalDevice = nil
		vc.Queue = nil
	}
	vc.PhysicalDevice = nil
	if vc.Instance != nil {
		vk.DestroyInstance(vc.Instance, vc.Allocator)
		vc.Instance = nil
	}
	core.LogDebug("Vulkan context destroyed.")
}

func safeString(s string) string {
	if strings.HasSuffix(s, "\x00") {
		return s
	}
	return s + "\x00"
}

func cString(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
