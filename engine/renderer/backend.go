package renderer

import (
	"fmt"
	"strings"

	"github.com/spaghettifunk/anima-framegraph/engine/config"
	"github.com/spaghettifunk/anima-framegraph/engine/core"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/headless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/vulkan"
)

type RendererBackendType int

const (
	RENDERER_BACKEND_TYPE_HEADLESS RendererBackendType = iota
	RENDERER_BACKEND_TYPE_VULKAN
)

func (t RendererBackendType) String() string {
	switch t {
	case RENDERER_BACKEND_TYPE_HEADLESS:
		return "headless"
	case RENDERER_BACKEND_TYPE_VULKAN:
		return "vulkan"
	}
	return fmt.Sprintf("backend(%d)", int(t))
}

func ParseBackendType(name string) (RendererBackendType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "headless":
		return RENDERER_BACKEND_TYPE_HEADLESS, nil
	case "vulkan":
		return RENDERER_BACKEND_TYPE_VULKAN, nil
	}
	return 0, fmt.Errorf("unknown renderer backend %q", name)
}

/**
 * @brief Creates the device named by the renderer config.
 * @return The device and a function releasing it once every resource
 * created on it is gone.
 */
func NewDevice(cfg config.RendererConfig, debugMarkers bool) (rhi.Device, func(), error) {
	backend, err := ParseBackendType(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	switch backend {
	case RENDERER_BACKEND_TYPE_VULKAN:
		device, err := vulkan.NewVulkanDevice(cfg.ApplicationName, debugMarkers)
		if err != nil {
			return nil, nil, fmt.Errorf("vulkan backend: %w", err)
		}
		return device, device.Destroy, nil
	default:
		core.LogInfo("using the headless device, no GPU work is submitted")
		return headless.NewDevice(), func() {}, nil
	}
}
