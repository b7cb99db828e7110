//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Test mg.Namespace

// Runs the unit tests of every package with the race detector.
func (Test) All() error {
	_, err := executeCmd("go", withArgs("test", "-race", "-count=1", "./..."), withStream())
	return err
}

// Runs the render graph and transient pool tests only.
func (Test) Graph() error {
	_, err := executeCmd("go", withArgs("test", "-count=1", "./engine/renderer/graph/...", "./engine/renderer/transient/..."), withStream())
	return err
}
