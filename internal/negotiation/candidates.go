package negotiation

import (
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/roomcall/internal/util"
)

// maxPendingCandidates bounds the remote candidates held while no remote
// description is applied.
const maxPendingCandidates = 128

// candidateQueue holds remote candidates that arrived before the matching
// offer or answer. Not safe for concurrent use; the Engine guards it.
type candidateQueue struct {
	items []webrtc.ICECandidateInit
}

// push appends c, evicting the oldest entry when full. It reports whether an
// entry was evicted.
func (q *candidateQueue) push(c webrtc.ICECandidateInit) bool {
	evicted := false
	if len(q.items) >= maxPendingCandidates {
		q.items = q.items[1:]
		evicted = true
	}
	q.items = append(q.items, c)
	return evicted
}

// drain returns the queued candidates in arrival order and empties the queue.
func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	items := q.items
	q.items = nil
	return items
}

func (q *candidateQueue) len() int { return len(q.items) }

func (q *candidateQueue) clear() {
	if n := len(q.items); n > 0 {
		util.NewLogger("negotiation").Debug("discarding %d pending remote candidates", n)
	}
	q.items = nil
}
