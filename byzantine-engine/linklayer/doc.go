// Package linklayer provides the reliable-transport substrate: a simulated
// lossy Channel and the Go-Back-N and Selective-Repeat ARQ protocols that
// carry byte sequences across it one byte per packet.
//
// Loss is applied by the receiving endpoint, never by the Channel, so
// acknowledgments are never lost in transit.
package linklayer
