// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"os"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo       = "go"
	binaryName  = "uow"
	binaryDir   = "bin"
	cmdDir      = "./cmd/uow"
	versionVar  = "github.com/mesh-intelligence/unitofwork/internal/cli.Version"
	envVersion  = "UOW_VERSION"
	defaultVers = "dev"
)

// ldflags stamps the version from UOW_VERSION, or "dev".
func ldflags() string {
	v := os.Getenv(envVersion)
	if v == "" {
		v = defaultVers
	}
	return "-X " + versionVar + "=" + v
}

// Build compiles the uow binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
