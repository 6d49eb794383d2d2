package session

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/ProjectRStore/itemsync/pkg/core"
)

// op decodes 0..23 into peer, hand, grab or release, and whether to pump after.
type op int

func (o op) kind() int       { return int(o) % 2 }
func (o op) hand() core.Hand { return core.Hands[int(o)/2%2] }
func (o op) peer() int       { return int(o) / 4 % 3 }
func (o op) pump() bool      { return int(o)/12%2 == 1 }

func TestHoldsConverge_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("every peer ends with the same hold table", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t)
			peers := []*peer{h.join(), h.join(), h.join()}
			for _, p := range peers {
				p.anchors.Set(core.HandLeft, at(0.2, 0, 0))
				p.anchors.Set(core.HandRight, at(2, 0, 0))
			}

			for _, v := range ops {
				o := op(v)
				p := peers[o.peer()]
				if o.kind() == 0 {
					_, _ = p.TryGrabNearest(o.hand())
				} else {
					_, _ = p.ReleaseHeld(o.hand())
				}
				if o.pump() {
					h.pump()
				}
			}
			h.pump()

			want := peers[0].table.Records()
			for _, p := range peers[1:] {
				got := p.table.Records()
				if len(got) != len(want) {
					return false
				}
				for i := range want {
					if got[i] != want[i] {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 23)),
	))

	properties.Property("an object has at most one holder and a hand at most one object", prop.ForAll(
		func(ops []int) bool {
			h := newHarness(t)
			peers := []*peer{h.join(), h.join(), h.join()}
			for _, p := range peers {
				p.anchors.Set(core.HandLeft, at(0.2, 0, 0))
				p.anchors.Set(core.HandRight, at(2, 0, 0))
			}

			for _, v := range ops {
				o := op(v)
				p := peers[o.peer()]
				if o.kind() == 0 {
					_, _ = p.TryGrabNearest(o.hand())
				} else {
					_, _ = p.ReleaseHeld(o.hand())
				}
				h.pump()

				for _, q := range peers {
					objects := make(map[core.ObjectID]bool)
					hands := make(map[[2]int]bool)
					for _, rec := range q.table.Records() {
						hand := [2]int{int(rec.Holder), int(rec.Hand)}
						if objects[rec.Object] || hands[hand] {
							return false
						}
						objects[rec.Object] = true
						hands[hand] = true
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 23)),
	))

	properties.Property("a peer joining mid-sequence ends with the same holders", prop.ForAll(
		func(ops []int, joinAt int) bool {
			h := newHarness(t)
			peers := []*peer{h.join(), h.join(), h.join()}
			for _, p := range peers {
				p.anchors.Set(core.HandLeft, at(0.2, 0, 0))
				p.anchors.Set(core.HandRight, at(2, 0, 0))
			}

			var late *peer
			for i, v := range ops {
				if i == joinAt {
					late = h.connect()
				}
				o := op(v)
				p := peers[o.peer()]
				if o.kind() == 0 {
					_, _ = p.TryGrabNearest(o.hand())
				} else {
					_, _ = p.ReleaseHeld(o.hand())
				}
				if o.pump() {
					h.pump()
				}
			}
			if late == nil {
				late = h.connect()
			}
			h.pump()

			holders := func(p *peer) map[core.ObjectID][2]int {
				out := make(map[core.ObjectID][2]int)
				for _, rec := range p.table.Records() {
					out[rec.Object] = [2]int{int(rec.Holder), int(rec.Hand)}
				}
				return out
			}
			want := holders(peers[0])
			got := holders(late)
			if len(got) != len(want) {
				return false
			}
			for id, w := range want {
				if got[id] != w {
					return false
				}
			}
			return late.Status().HeldBack == 0
		},
		gen.SliceOf(gen.IntRange(0, 23)),
		gen.IntRange(0, 16),
	))

	properties.TestingRun(t)
}
