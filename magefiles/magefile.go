//go:build mage

// Package main provides build targets for the unitofwork project using Mage.
//
// Usage:
//
//	mage build          Compile the uow binary to bin/
//	mage install        Install uow to GOPATH/bin
//	mage clean          Remove build artifacts
//	mage test:all       Run every package's tests
//	mage test:race      Run the tests with the race detector
//	mage test:cover     Write and summarize a coverage profile
//	mage test:postgres  Run the PostgreSQL tests against UOW_TEST_POSTGRES_DSN
//	mage lint           Run gofmt, go vet and golangci-lint
package main

// Default target when mage runs without arguments.
var Default = Build
