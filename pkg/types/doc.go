// Package types defines the shared vocabulary of the unit-of-work engine:
// configuration, conflict and refresh modes, change actions, the Data Access
// Provider interfaces the engine writes through, and the standard errors.
package types
