package linklayer

import (
	"bytes"
	"context"
	"maps"
	"slices"
	"time"

	"github.com/pkg/errors"
)

// SelectiveRepeatSend transmits data with per-packet acknowledgments and
// per-packet retransmission timers. Acks may arrive in any order.
func SelectiveRepeatSend(ctx context.Context, conn Channel, stream uint64, data []byte, cfg Config) (int, error) {
	cfg = cfg.normalized()
	total := len(data)
	if total == 0 {
		return 0, errors.Wrap(conn.Send(sentinel(stream)), "send sentinel")
	}

	lastSent := min(cfg.WindowSize, total) - 1
	if err := conn.SendBatch(packetRange(stream, data, 0, lastSent)); err != nil {
		return 0, errors.Wrap(err, "send initial window")
	}
	sent := lastSent + 1
	now := time.Now()
	window := make(map[int]time.Time, cfg.WindowSize)
	for id := 0; id <= lastSent; id++ {
		window[id] = now
		cfg.Observer.PacketSent(false)
	}

	started := now
	for !conn.HasPendingAck() {
		if time.Since(started) > cfg.StalledTimeout {
			for _, id := range slices.Sorted(maps.Keys(window)) {
				if err := conn.Send(packet(stream, data, id)); err != nil {
					return sent, errors.Wrapf(err, "resend packet %d", id)
				}
				window[id] = time.Now()
				cfg.Observer.PacketSent(true)
			}
			sent += len(window)
			started = time.Now()
		}
		if err := cfg.idle(ctx); err != nil {
			return sent, err
		}
	}

	for len(window) > 0 {
		progressed := false
		if conn.HasPendingAck() {
			ack, err := conn.ReceiveAck(ctx)
			if err != nil {
				return sent, err
			}
			progressed = true
			if ack.Stream == stream {
				delete(window, ack.ID)
			}
		}

		for _, id := range slices.Sorted(maps.Keys(window)) {
			current := time.Now()
			if current.Sub(window[id]) > cfg.Timeout {
				if err := conn.Send(packet(stream, data, id)); err != nil {
					return sent, errors.Wrapf(err, "resend packet %d", id)
				}
				window[id] = current
				sent++
				cfg.Observer.PacketSent(true)
			}
		}

		for len(window) < cfg.WindowSize && lastSent < total-1 {
			lastSent++
			if err := conn.Send(packet(stream, data, lastSent)); err != nil {
				return sent, errors.Wrapf(err, "send packet %d", lastSent)
			}
			window[lastSent] = time.Now()
			sent++
			cfg.Observer.PacketSent(false)
		}

		if !progressed && len(window) > 0 {
			if err := cfg.idle(ctx); err != nil {
				return sent, err
			}
		}
	}

	if err := conn.Send(sentinel(stream)); err != nil {
		return sent, errors.Wrap(err, "send sentinel")
	}
	return sent, nil
}

// SelectiveRepeatReceive accepts packets in any order and writes each at its
// offset. Gaps ahead of the contiguous prefix are padded with cfg.Filler
// until the missing packet arrives.
func SelectiveRepeatReceive(ctx context.Context, conn Channel, cfg Config) ([]byte, error) {
	cfg = cfg.normalized()
	var out []byte

	for {
		p, err := conn.Receive(ctx)
		if err != nil {
			return out, err
		}
		if p.IsSentinel() {
			return out, nil
		}
		if p.ID < 0 {
			continue
		}
		if cfg.lost() {
			cfg.Observer.PacketDropped()
			continue
		}
		if err := conn.Ack(Ack{Stream: p.Stream, ID: p.ID}); err != nil {
			return out, errors.Wrapf(err, "ack packet %d", p.ID)
		}
		cfg.Observer.AckSent()

		switch {
		case p.ID == len(out):
			out = append(out, p.Data...)
		case p.ID < len(out):
			copy(out[p.ID:], p.Data)
		default:
			out = append(out, bytes.Repeat([]byte{cfg.Filler}, p.ID-len(out))...)
			out = append(out, p.Data...)
		}
	}
}
