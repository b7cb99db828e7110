package transient

import (
	"errors"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-framegraph/engine/renderer/headless"
	"github.com/spaghettifunk/anima-framegraph/engine/renderer/rhi"
)

func colourTarget(name string) rhi.ImageDesc {
	return rhi.ImageDesc{
		Name:   name,
		Format: vk.FormatR8g8b8a8Unorm,
		Width:  1024,
		Height: 1024,
		Usage:  vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageSampledBit),
	}
}

func TestAcquireIsMemoisedPerHandle(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)

	a, acq, err := s.AcquireImage(1, 0, colourTarget("a"))
	require.NoError(t, err)
	assert.True(t, acq.Allocated)
	assert.True(t, acq.Prior.IsUndefined())

	again, acq, err := s.AcquireImage(1, 0, colourTarget("a"))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), again.ID())
	assert.Equal(t, Acquisition{}, acq)
	assert.Equal(t, 1, dev.Allocations())
	assert.Equal(t, 1, s.Stats().Bound)
}

func TestPoolReuseAcrossHandles(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)
	desc := colourTarget("a")

	a, _, err := s.AcquireImage(1, 0, desc)
	require.NoError(t, err)

	final := rhi.ResourceState{
		Access: vk.AccessFlags(vk.AccessShaderReadBit),
		Stage:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		Layout: vk.ImageLayoutShaderReadOnlyOptimal,
	}
	s.SurrenderResource(1, 0, desc.Hash(), final)

	// same description under another name aliases the surrendered memory
	b, acq, err := s.AcquireImage(1, 1, colourTarget("b"))
	require.NoError(t, err)
	assert.Equal(t, a.ID(), b.ID())
	assert.True(t, acq.Reused)
	assert.Equal(t, final, acq.Prior)
	assert.Equal(t, 1, dev.Allocations())

	stats := s.Stats()
	assert.Equal(t, 1, stats.Allocations)
	assert.Equal(t, 1, stats.Reuses)
	assert.Equal(t, 1, stats.Bound)
	assert.Equal(t, 0, stats.Free)
}

func TestDifferentDescriptionsDoNotAlias(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)
	desc := colourTarget("a")

	_, _, err := s.AcquireImage(1, 0, desc)
	require.NoError(t, err)
	s.SurrenderResource(1, 0, desc.Hash(), rhi.StateUndefined)

	other := desc
	other.Width = 512
	_, _, err = s.AcquireImage(1, 1, other)
	require.NoError(t, err)
	assert.Equal(t, 2, dev.Allocations())
}

func TestLiveResourcesNeverShareMemory(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)
	desc := colourTarget("a")

	a, _, err := s.AcquireImage(1, 0, desc)
	require.NoError(t, err)
	b, _, err := s.AcquireImage(1, 1, desc)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestAllocationFailurePropagates(t *testing.T) {
	dev := headless.NewDevice()
	boom := errors.New("out of device memory")
	dev.FailAllocations(boom)
	s := NewSystem(dev)

	_, _, err := s.AcquireBuffer(1, 0, rhi.BufferDesc{Name: "b", ElementSize: 4, ElementCount: 16})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, s.Stats().Bound)
}

func TestEndFrameSurrendersAndResetsState(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)
	ub := rhi.UniformBufferDesc{Name: "camera", Size: 256}

	first, _, err := s.AcquireUniformBuffer(1, 0, ub)
	require.NoError(t, err)
	s.EndFrame(1)
	assert.Equal(t, 0, s.Stats().Bound)
	assert.Equal(t, 1, s.Stats().Free)

	second, acq, err := s.AcquireUniformBuffer(2, 0, ub)
	require.NoError(t, err)
	assert.Equal(t, first.ID(), second.ID())
	assert.True(t, acq.Reused)
	assert.True(t, acq.Prior.IsUndefined())
}

func TestDetachAndReturn(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)
	desc := rhi.BufferDesc{Name: "histogram", ElementSize: 4, ElementCount: 256}

	buf, _, err := s.AcquireBuffer(1, 3, desc)
	require.NoError(t, err)

	res, hash, ok := s.Detach(1, 3)
	require.True(t, ok)
	assert.Equal(t, buf.ID(), res.ID())
	assert.Equal(t, desc.Hash(), hash)

	// a detached allocation is invisible to the pool
	s.EndFrame(1)
	other, _, err := s.AcquireBuffer(2, 0, desc)
	require.NoError(t, err)
	assert.NotEqual(t, buf.ID(), other.ID())

	s.Return(res, hash, 2)
	again, _, err := s.AcquireBuffer(2, 1, desc)
	require.NoError(t, err)
	assert.Equal(t, buf.ID(), again.ID())

	_, _, ok = s.Detach(2, 99)
	assert.False(t, ok)
}

func TestTrimDestroysIdleEntries(t *testing.T) {
	dev := headless.NewDevice()
	var released []rhi.Resource
	s := NewSystem(dev, WithDestroyer(func(res rhi.Resource) error {
		released = append(released, res)
		return res.Destroy()
	}))
	desc := colourTarget("a")

	_, _, err := s.AcquireImage(1, 0, desc)
	require.NoError(t, err)
	s.EndFrame(1)

	assert.Equal(t, 0, s.Trim(3, 2))
	assert.Equal(t, 1, s.Trim(4, 2))
	assert.Len(t, released, 1)
	assert.Equal(t, 1, dev.Destroyed())

	stats := s.Stats()
	assert.Equal(t, 0, stats.Free)
	assert.Equal(t, 1, stats.Destroyed)
}

func TestDestroyReleasesEverything(t *testing.T) {
	dev := headless.NewDevice()
	s := NewSystem(dev)

	_, _, err := s.AcquireImage(1, 0, colourTarget("a"))
	require.NoError(t, err)
	_, _, err = s.AcquireImage(1, 1, colourTarget("b"))
	require.NoError(t, err)
	s.SurrenderResource(1, 1, colourTarget("b").Hash(), rhi.StateUndefined)

	require.NoError(t, s.Destroy())
	assert.Equal(t, 2, dev.Destroyed())
	assert.Equal(t, Stats{Allocations: 2, Destroyed: 2}, s.Stats())
}
