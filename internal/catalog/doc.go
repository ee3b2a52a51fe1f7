// Package catalog holds the canonical product model shared by every harvesting
// stage, the contracts those stages depend on, and the error taxonomy used to
// classify per-item outcomes.
package catalog
