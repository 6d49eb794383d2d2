package identity

import "github.com/ProjectRStore/itemsync/pkg/core"

// Sequencer issues spawn IDs on the coordinator. Only the coordinator calls
// Next; every peer calls Observe for spawns it sees so a successor
// coordinator continues past them.
type Sequencer struct {
	channel int
	next    uint64
}

// NewSequencer starts a sequence on the given channel (the coordinator's actor number).
func NewSequencer(channel int) *Sequencer {
	return &Sequencer{channel: channel, next: 1}
}

// Next returns the next sequence number and its object ID.
func (s *Sequencer) Next() (uint64, core.ObjectID) {
	seq := s.next
	s.next++
	return seq, SequenceID(s.channel, seq)
}

// Observe records a sequence number issued elsewhere.
func (s *Sequencer) Observe(seq uint64) {
	if seq >= s.next {
		s.next = seq + 1
	}
}

// Rebase switches to a new channel after a coordinator migration, keeping the counter.
func (s *Sequencer) Rebase(channel int) {
	s.channel = channel
}

// Channel returns the current channel.
func (s *Sequencer) Channel() int {
	return s.channel
}

// Peek returns the sequence number Next would issue.
func (s *Sequencer) Peek() uint64 {
	return s.next
}
