package pose

import (
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ProjectRStore/itemsync/internal/holdstate"
	"github.com/ProjectRStore/itemsync/internal/physics"
	"github.com/ProjectRStore/itemsync/pkg/core"
)

type anchors map[core.Hand]core.Pose

func (a anchors) Anchor(h core.Hand) (core.Pose, bool) {
	p, ok := a[h]
	return p, ok
}

type mapResolver map[core.ObjectID]*core.Interactable

func (m mapResolver) Resolve(id core.ObjectID) (*core.Interactable, bool) {
	obj, ok := m[id]
	return obj, ok
}

func TestCompose_Scenario(t *testing.T) {
	anchor := core.At(1, 1, 1)
	offset := core.At(0, 0, 0.1)

	world := Compose(anchor, offset)
	assert.True(t, world.Position.ApproxEqualThreshold(mgl64.Vec3{1, 1, 1.1}, 1e-12))
	assert.True(t, world.Rotation.ApproxEqual(mgl64.QuatIdent()))
}

func TestCompose_RotatedAnchor(t *testing.T) {
	// Quarter turn about Y maps +Z onto +X.
	anchor := core.Pose{Position: mgl64.Vec3{0, 1, 0}, Rotation: mgl64.QuatRotate(math.Pi/2, mgl64.Vec3{0, 1, 0})}
	world := Compose(anchor, core.At(0, 0, 1))
	assert.True(t, world.Position.ApproxEqualThreshold(mgl64.Vec3{1, 1, 0}, 1e-9))
}

func TestOffsetFrom_InvertsCompose(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Compose(anchor, OffsetFrom(anchor, world)) == world", prop.ForAll(
		func(ax, ay, az, angle, wx, wy, wz, wangle float64) bool {
			anchor := core.Pose{Position: mgl64.Vec3{ax, ay, az}, Rotation: mgl64.QuatRotate(angle, mgl64.Vec3{0.3, 1, -0.2}.Normalize())}
			world := core.Pose{Position: mgl64.Vec3{wx, wy, wz}, Rotation: mgl64.QuatRotate(wangle, mgl64.Vec3{1, 0, 0})}
			return Compose(anchor, OffsetFrom(anchor, world)).ApproxEqual(world, 1e-7)
		},
		gen.Float64Range(-100, 100), gen.Float64Range(-100, 100), gen.Float64Range(-100, 100),
		gen.Float64Range(-math.Pi, math.Pi),
		gen.Float64Range(-100, 100), gen.Float64Range(-100, 100), gen.Float64Range(-100, 100),
		gen.Float64Range(-math.Pi, math.Pi),
	))

	properties.TestingRun(t)
}

func newHeld(t *testing.T, table *holdstate.Table, id core.ObjectID, holder core.ActorID, hand core.Hand, offset core.Pose) (*core.Interactable, *physics.SimBody) {
	t.Helper()
	body := physics.NewSimBody(core.At(5, 0, 5))
	obj := &core.Interactable{ID: id, Body: body}
	require.NoError(t, table.ApplyGrab(core.HoldRecord{Object: id, Holder: holder, Hand: hand, Offset: offset}, obj))
	return obj, body
}

func TestDriver_DrivesOnlyLocalHolds(t *testing.T) {
	table := holdstate.NewTable(nil)
	_, mine := newHeld(t, table, 42, 1, core.HandLeft, core.At(0, 0, 0.1))
	_, theirs := newHeld(t, table, 43, 2, core.HandLeft, core.At(0, 0, 0.1))

	d := NewDriver(table, mapResolver{}, anchors{core.HandLeft: core.At(1, 1, 1)}, nil)
	rep := d.Drive(1)

	assert.Equal(t, 1, rep.Driven)
	assert.True(t, mine.Pose().Position.ApproxEqualThreshold(mgl64.Vec3{1, 1, 1.1}, 1e-12))
	assert.Equal(t, mgl64.Vec3{5, 0, 5}, theirs.Pose().Position, "remote holds are not driven from local anchors")
}

func TestDriver_MissingAnchor(t *testing.T) {
	table := holdstate.NewTable(nil)
	_, body := newHeld(t, table, 42, 1, core.HandRight, core.IdentityPose())

	d := NewDriver(table, mapResolver{}, anchors{core.HandLeft: core.At(1, 1, 1)}, nil)
	rep := d.Drive(1)

	assert.Equal(t, Report{NoAnchor: 1}, rep)
	assert.Equal(t, mgl64.Vec3{5, 0, 5}, body.Pose().Position)
}

func TestDriver_LateResolvedObjectIsFrozenThenDriven(t *testing.T) {
	table := holdstate.NewTable(nil)
	require.NoError(t, table.ApplyGrab(core.HoldRecord{Object: 42, Holder: 1, Hand: core.HandLeft, Offset: core.IdentityPose()}, nil))

	resolver := mapResolver{}
	d := NewDriver(table, resolver, anchors{core.HandLeft: core.At(2, 2, 2)}, nil)

	assert.Equal(t, Report{Unresolved: 1}, d.Drive(1))

	body := physics.NewSimBody(core.At(0, 10, 0))
	resolver[42] = &core.Interactable{ID: 42, Body: body}

	assert.Equal(t, Report{Driven: 1}, d.Drive(1))
	assert.True(t, body.Kinematic())
	assert.False(t, body.UseGravity())
	assert.Equal(t, mgl64.Vec3{2, 2, 2}, body.Pose().Position)
}

func TestMirror_ConvergesAndSkipsLocal(t *testing.T) {
	remote := physics.NewSimBody(core.At(0, 0, 0))
	local := physics.NewSimBody(core.At(0, 0, 0))
	resolver := mapResolver{
		1: {ID: 1, Body: remote},
		2: {ID: 2, Body: local},
	}

	m := NewMirror(0)
	m.SetTarget(1, core.At(10, 0, 0))
	m.SetTarget(2, core.At(10, 0, 0))

	for i := 0; i < 120; i++ {
		m.Step(1.0/60, resolver, func(id core.ObjectID) bool { return id == 2 })
	}

	assert.InDelta(t, 10, remote.Pose().Position.X(), 1e-3)
	assert.Equal(t, 0.0, local.Pose().Position.X())

	m.Clear(1)
	_, ok := m.Target(1)
	assert.False(t, ok)
	assert.Equal(t, 1, m.Len())
}

func TestTracker_Velocity(t *testing.T) {
	tr := NewTracker()
	tr.Observe(core.HandRight, core.At(0, 0, 0), 0)
	lin, ang := tr.Velocity(core.HandRight)
	assert.Equal(t, mgl64.Vec3{}, lin)
	assert.Equal(t, mgl64.Vec3{}, ang)

	turned := core.Pose{Position: mgl64.Vec3{0, 0.1, 0}, Rotation: mgl64.QuatRotate(0.2, mgl64.Vec3{0, 0, 1})}
	tr.Observe(core.HandRight, turned, 0.1)

	lin, ang = tr.Velocity(core.HandRight)
	assert.True(t, lin.ApproxEqualThreshold(mgl64.Vec3{0, 1, 0}, 1e-9))
	assert.True(t, ang.ApproxEqualThreshold(mgl64.Vec3{0, 0, 2}, 1e-6))

	tr.Reset(core.HandRight)
	lin, _ = tr.Velocity(core.HandRight)
	assert.Equal(t, mgl64.Vec3{}, lin)
}

func TestLerp_Clamps(t *testing.T) {
	a, b := core.At(0, 0, 0), core.At(1, 0, 0)
	assert.Equal(t, b.Position, Lerp(a, b, 2).Position)
	assert.Equal(t, a.Position, Lerp(a, b, -1).Position)
}
