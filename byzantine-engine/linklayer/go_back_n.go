package linklayer

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// GoBackNSend transmits data with cumulative acknowledgments. On timeout it
// resends the whole outstanding window starting at the first unacked id.
func GoBackNSend(ctx context.Context, conn Channel, stream uint64, data []byte, cfg Config) (int, error) {
	cfg = cfg.normalized()
	total := len(data)
	if total == 0 {
		return 0, errors.Wrap(conn.Send(sentinel(stream)), "send sentinel")
	}

	lastAcked := -1
	lastSent := min(cfg.WindowSize, total) - 1
	if err := conn.SendBatch(packetRange(stream, data, 0, lastSent)); err != nil {
		return 0, errors.Wrap(err, "send initial window")
	}
	sent := lastSent + 1
	for range sent {
		cfg.Observer.PacketSent(false)
	}

	// Until the receiver shows signs of life only the stalled timer applies.
	started := time.Now()
	for !conn.HasPendingAck() {
		if time.Since(started) > cfg.StalledTimeout {
			if err := conn.SendBatch(packetRange(stream, data, 0, lastSent)); err != nil {
				return sent, errors.Wrap(err, "resend stalled window")
			}
			sent += lastSent + 1
			for range lastSent + 1 {
				cfg.Observer.PacketSent(true)
			}
			started = time.Now()
		}
		if err := cfg.idle(ctx); err != nil {
			return sent, err
		}
	}

	for lastAcked < total-1 {
		progressed := false
		if conn.HasPendingAck() {
			ack, err := conn.ReceiveAck(ctx)
			if err != nil {
				return sent, err
			}
			progressed = true
			if ack.Stream == stream && ack.ID == lastAcked+1 {
				lastAcked++
				if lastSent < total-1 {
					lastSent++
					if err := conn.Send(packet(stream, data, lastSent)); err != nil {
						return sent, errors.Wrapf(err, "send packet %d", lastSent)
					}
					sent++
					cfg.Observer.PacketSent(false)
				}
				started = time.Now()
			}
		}

		if lastAcked < total-1 && time.Since(started) > cfg.Timeout {
			first := lastAcked + 1
			lastSent = min(first+cfg.WindowSize, total) - 1
			if err := conn.SendBatch(packetRange(stream, data, first, lastSent)); err != nil {
				return sent, errors.Wrapf(err, "resend window from %d", first)
			}
			resent := lastSent - first + 1
			sent += resent
			for range resent {
				cfg.Observer.PacketSent(true)
			}
			started = time.Now()
		}

		if !progressed {
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

// GoBackNReceive accepts packets strictly in order. Anything else, and any
// packet lost to the loss draw, goes unacknowledged.
func GoBackNReceive(ctx context.Context, conn Channel, cfg Config) ([]byte, error) {
	cfg = cfg.normalized()
	expected := 0
	var out []byte

	for {
		p, err := conn.Receive(ctx)
		if err != nil {
			return out, err
		}
		if p.IsSentinel() {
			return out, nil
		}
		if cfg.lost() {
			cfg.Observer.PacketDropped()
			continue
		}
		if p.ID != expected {
			continue
		}
		if err := conn.Ack(Ack{Stream: p.Stream, ID: p.ID}); err != nil {
			return out, errors.Wrapf(err, "ack packet %d", p.ID)
		}
		cfg.Observer.AckSent()
		out = append(out, p.Data...)
		expected++
	}
}
