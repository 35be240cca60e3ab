// Package domain contains core domain types for the coaching orchestrator.
package domain
