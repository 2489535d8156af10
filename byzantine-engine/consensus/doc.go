// Package consensus provides the Byzantine Generals agreement roles.
// This package implements:
// - Lamport's recursive Oral-Messages algorithm OM(m)
// - General and Lieutenant roles running over network links
// - The agreement tree and its bottom-up majority fold
// - Scenario harness checking agreement among loyal lieutenants
package consensus
