// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const envPostgresDSN = "UOW_TEST_POSTGRES_DSN"

// Test groups test targets.
type Test mg.Namespace

// All runs every package's tests.
func (Test) All() error {
	return sh.RunV(binGo, "test", "./...")
}

// Race runs the tests with the race detector.
func (Test) Race() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Cover writes a coverage profile to bin/coverage.out and prints the summary.
func (Test) Cover() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	profile := binaryDir + "/coverage.out"
	if err := sh.RunV(binGo, "test", "-coverprofile", profile, "./..."); err != nil {
		return err
	}
	return sh.RunV(binGo, "tool", "cover", "-func", profile)
}

// Postgres runs the PostgreSQL provider tests; UOW_TEST_POSTGRES_DSN must
// name a reachable server.
func (Test) Postgres() error {
	if os.Getenv(envPostgresDSN) == "" {
		return fmt.Errorf("%s is not set", envPostgresDSN)
	}
	return sh.RunV(binGo, "test", "-v", "-count=1", "./pkg/postgres/...")
}
