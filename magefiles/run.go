//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the testbed for a few hundred frames on the headless device.
func (Run) Demo() error {
	fmt.Println("Run demo...")
	_, err := executeCmd("go", withArgs("run", ".", "-frames", "300"), withStream())
	return err
}

// Runs the testbed with the config in configs/vulkan.toml.
func (Run) Vulkan() error {
	mg.Deps(Build.All)
	fmt.Println("Run demo on vulkan...")
	_, err := executeCmd("bin/framegraph", withArgs("-config", "configs/vulkan.toml"), withStream())
	return err
}
