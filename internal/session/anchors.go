package session

import (
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// Anchors holds the local peer's tracked hand poses and avatar position.
// The input side writes them from any goroutine; the frame loop reads.
type Anchors struct {
	mu        sync.RWMutex
	hands     map[core.Hand]core.Pose
	avatar    mgl64.Vec3
	hasAvatar bool
}

// NewAnchors creates an empty anchor set: no hand is tracked.
func NewAnchors() *Anchors {
	return &Anchors{hands: make(map[core.Hand]core.Pose)}
}

// Set records the tracked pose of a hand.
func (a *Anchors) Set(hand core.Hand, p core.Pose) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hands[hand] = p
}

// Clear marks a hand as untracked.
func (a *Anchors) Clear(hand core.Hand) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.hands, hand)
}

// Anchor returns the tracked pose of a hand.
func (a *Anchors) Anchor(hand core.Hand) (core.Pose, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.hands[hand]
	return p, ok
}

// SetAvatar records where the local player stands.
func (a *Anchors) SetAvatar(p mgl64.Vec3) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.avatar = p
	a.hasAvatar = true
}

// Avatar returns the local player's position. Without an explicit avatar
// the first tracked hand stands in for it.
func (a *Anchors) Avatar() (mgl64.Vec3, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.hasAvatar {
		return a.avatar, true
	}
	for _, h := range core.Hands {
		if p, ok := a.hands[h]; ok {
			return p.Position, true
		}
	}
	return mgl64.Vec3{}, false
}
