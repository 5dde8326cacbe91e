package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling/media counter.
var Stats = &stats{}

type stats struct {
	MessagesSent     atomic.Int64 // signaling messages written to the relay
	MessagesRecv     atomic.Int64 // signaling messages read from the relay
	CandidatesSent   atomic.Int64 // local ICE candidates trickled to the peer
	CandidatesAdded  atomic.Int64 // remote ICE candidates applied to a connection
	CandidatesQueued atomic.Int64 // remote ICE candidates held until a remote description exists
	CandidatesLost   atomic.Int64 // remote ICE candidates dropped (overflow, stale or rejected)
	MediaBytesRecv   atomic.Int64 // RTP payload bytes read from remote tracks
}

func (s *stats) AddSent()            { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()            { s.MessagesRecv.Add(1) }
func (s *stats) AddCandidateSent()   { s.CandidatesSent.Add(1) }
func (s *stats) AddCandidateAdded()  { s.CandidatesAdded.Add(1) }
func (s *stats) AddCandidateQueued() { s.CandidatesQueued.Add(1) }
func (s *stats) AddCandidateLost()   { s.CandidatesLost.Add(1) }
func (s *stats) AddMedia(n int)      { s.MediaBytesRecv.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs call statistics every
// interval, skipping quiet periods. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevSent, prevRecv, prevMedia int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MessagesSent.Load()
				recv := Stats.MessagesRecv.Load()
				media := Stats.MediaBytesRecv.Load()

				rate := float64(media-prevMedia) / interval.Seconds()
				if sent != prevSent || recv != prevRecv || rate > 10 {
					pterm.DefaultLogger.Info(formatStats(sent, recv, rate))
				}

				prevSent = sent
				prevRecv = recv
				prevMedia = media

			case <-ctx.Done():
				return
			}
		}
	}()
}

var rateUnits = [...]string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatRate renders a media byte rate in exactly 8 columns so the stats
// line does not jitter, e.g. "99.0   B" or " 1.5 KiB". Values above 99 step
// up a unit since "100.0" would need a fifth column.
func formatRate(perSecond float64) string {
	unit := 0
	for ; perSecond > 99 && unit < len(rateUnits)-1; unit++ {
		perSecond /= 1024
	}
	return fmt.Sprintf("%4.1f %3s", perSecond, rateUnits[unit])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(sent, recv int64, mediaRate float64) string {
	return fmt.Sprintf("Signal: %d↑ %d↓ | ICE: %d↑ %d✓ %d⧗ %d✗ | Media: %s/s",
		sent,
		recv,
		Stats.CandidatesSent.Load(),
		Stats.CandidatesAdded.Load(),
		Stats.CandidatesQueued.Load(),
		Stats.CandidatesLost.Load(),
		formatRate(mediaRate),
	)
}
