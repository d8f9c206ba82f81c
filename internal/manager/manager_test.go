package manager

import (
	"bytes"
	"testing"

	"go.uber.org/zap"

	"github.com/entman/server/internal/archive"
	"github.com/entman/server/internal/registry"
	"github.com/entman/server/internal/scene"
)

type position struct{ X, Y uint32 }

func positionCodec(a *archive.Archive, v *position, _ uint32) {
	a.U32(&v.X)
	a.U32(&v.Y)
}

func newTestManager(opts Options) *Manager {
	reg := registry.New()
	graph := scene.NewGraph()
	m := New(reg, graph, opts, zap.NewNop())
	m.Attach()
	return m
}

// checkInvariant asserts the core mapping after a public entry point:
// materialized(e) iff a live proxy exists whose reference points back at e,
// and no proxy reference targets an entity without the matching link.
func checkInvariant(t *testing.T, m *Manager) {
	t.Helper()
	m.reg.Each(func(e registry.Entity) {
		if ref := m.EntityToRef(e); ref != nil {
			if !ref.Alive() {
				t.Errorf("entity %v mapped to a dead proxy", e)
			}
			if ref.Entity() != e {
				t.Errorf("proxy of %v points at %v", e, ref.Entity())
			}
		}
	})
	seen := make(map[registry.Entity]bool)
	var walk func(n *scene.Node)
	walk = func(n *scene.Node) {
		if ref := n.Ref(); ref != nil && !ref.Entity().IsNil() {
			e := ref.Entity()
			if seen[e] {
				t.Errorf("entity %v has more than one proxy", e)
			}
			seen[e] = true
			if m.EntityToRef(e) != ref {
				t.Errorf("proxy for %v lacks the matching materialized link", e)
			}
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(m.graph.Root())
}

func TestMaterializeDematerializeRoundTrip(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	e := m.reg.Create()
	pos.Store().Set(e, position{X: 3, Y: 4})

	ref := m.Materialize(e)
	if ref == nil || ref.Entity() != e {
		t.Fatal("materialize did not bind the proxy")
	}
	if ref.Node().Parent() != m.Container() {
		t.Error("proxy node not under the container")
	}
	if !m.IsMaterialized(e) {
		t.Error("entity not reported materialized")
	}
	if st, _ := m.status.Store().Get(e); !st.Materialized {
		t.Error("status record not set")
	}
	checkInvariant(t, m)

	m.Dematerialize(e)
	if m.IsMaterialized(e) {
		t.Error("entity still materialized")
	}
	if !m.reg.Valid(e) {
		t.Error("dematerialize destroyed the entity")
	}
	if v, ok := pos.Store().Get(e); !ok || v != (position{X: 3, Y: 4}) {
		t.Error("component set changed across the round trip")
	}
	if st, _ := m.status.Store().Get(e); st.Materialized {
		t.Error("status record must end false")
	}
	checkInvariant(t, m)
}

func TestMaterializeTwiceReturnsExistingProxy(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()

	first := m.Materialize(e)
	second := m.Materialize(e)
	if first != second {
		t.Error("second materialize returned a different proxy")
	}
	if len(m.Container().Children()) != 1 {
		t.Errorf("container has %d proxies, want 1", len(m.Container().Children()))
	}
	checkInvariant(t, m)
}

func TestDematerializeNotMaterialized(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()
	m.Dematerialize(e) // warns, no-op
	if !m.reg.Valid(e) {
		t.Error("no-op dematerialize touched the entity")
	}
	checkInvariant(t, m)
}

func TestMaterializeInvalidEntity(t *testing.T) {
	m := newTestManager(Options{})
	if ref := m.Materialize(registry.Nil); ref != nil {
		t.Error("materializing the nil handle returned a proxy")
	}
	e := m.reg.Create()
	m.reg.Destroy(e)
	if ref := m.Materialize(e); ref != nil {
		t.Error("materializing a stale handle returned a proxy")
	}
}

func TestDematerializeFlattensChildProxies(t *testing.T) {
	m := newTestManager(Options{})
	parent := m.reg.Create()
	child := m.reg.Create()

	parentRef := m.Materialize(parent)
	childRef := m.Materialize(child)

	// Nest the child proxy under the parent proxy, with a plain node in
	// between so the child is an indirect descendant.
	mid := m.graph.CreateChild(parentRef.Node(), "Group")
	m.graph.SetParent(childRef.Node(), mid)

	m.Dematerialize(parent)

	if !m.IsMaterialized(child) {
		t.Fatal("child proxy was destroyed by parent dematerialization")
	}
	if got := m.EntityToNode(child).Parent(); got != m.Container() {
		t.Errorf("child proxy re-parented to %v, want the container", got.Name())
	}
	checkInvariant(t, m)
}

func TestExternalAttachCreatesEntity(t *testing.T) {
	m := newTestManager(Options{})

	node := m.graph.CreateChild(nil, "External")
	ref := scene.NewRef(registry.Nil)
	m.graph.AttachRef(node, ref)

	if !ref.Entity().IsNil() {
		t.Fatal("entity assigned before synchronization")
	}
	m.Synchronize()

	e := ref.Entity()
	if e.IsNil() || !m.reg.Valid(e) {
		t.Fatal("synchronization did not create an entity")
	}
	if m.EntityToRef(e) != ref {
		t.Error("materialized link not established")
	}
	if st, _ := m.status.Store().Get(e); !st.Materialized {
		t.Error("status record not set")
	}
	checkInvariant(t, m)

	// Idempotent with no pending work.
	m.Synchronize()
	checkInvariant(t, m)
}

func TestExternalAttachHonorsRawHint(t *testing.T) {
	m := newTestManager(Options{})

	node := m.graph.CreateChild(nil, "External")
	ref := scene.NewRef(registry.NewEntity(7, 0))
	m.graph.AttachRef(node, ref)
	m.Synchronize()

	e := ref.Entity()
	if e.Index() != 7 {
		t.Errorf("hinted index = %d, want 7", e.Index())
	}
	if !m.reg.Valid(e) {
		t.Error("hinted entity not valid")
	}
	checkInvariant(t, m)
}

func TestNodeRemovalDestroysEntity(t *testing.T) {
	m := newTestManager(Options{})

	node := m.graph.CreateChild(nil, "External")
	ref := scene.NewRef(registry.Nil)
	m.graph.AttachRef(node, ref)
	m.Synchronize()
	e := ref.Entity()

	m.graph.Remove(node)
	if m.reg.Valid(e) {
		t.Error("entity survived its proxy's removal")
	}
	checkInvariant(t, m)
}

func TestAttachThenRemoveBeforeSynchronize(t *testing.T) {
	m := newTestManager(Options{})

	node := m.graph.CreateChild(nil, "External")
	ref := scene.NewRef(registry.Nil)
	m.graph.AttachRef(node, ref)
	m.graph.Remove(node)

	m.Synchronize()
	if m.reg.Len() != 0 {
		t.Error("removed pending proxy still produced an entity")
	}
}

func TestRehydratePolicies(t *testing.T) {
	t.Run("Materialize", func(t *testing.T) {
		m := newTestManager(Options{})
		e := m.reg.Create()

		node := m.graph.CreateChild(nil, "Hinted")
		ref := scene.NewRef(e)
		m.graph.AttachRef(node, ref)
		m.Synchronize()

		if ref.Entity() != e {
			t.Error("rehydration replaced the handle")
		}
		if m.EntityToRef(e) != ref {
			t.Error("rehydrated proxy not connected")
		}
		if st, _ := m.status.Store().Get(e); !st.Materialized {
			t.Error("status not set under materialize policy")
		}
		checkInvariant(t, m)
	})

	t.Run("ConnectOnly", func(t *testing.T) {
		m := newTestManager(Options{Rehydrate: RehydrateConnectOnly})
		e := m.reg.Create()

		node := m.graph.CreateChild(nil, "Hinted")
		ref := scene.NewRef(e)
		m.graph.AttachRef(node, ref)
		m.Synchronize()

		if ref.Entity() != e {
			t.Error("rehydration replaced the handle")
		}
		if m.IsMaterialized(e) {
			t.Error("connect-only policy set the materialized link")
		}
		if st, _ := m.status.Store().Get(e); st.Materialized {
			t.Error("connect-only policy set the status record")
		}
	})
}

func TestEncodeDecodeEntityByteIdentical(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	src := m.reg.Create()
	pos.Store().Set(src, position{X: 1, Y: 2})
	data := m.EncodeEntity(src)
	if len(data) == 0 {
		t.Fatal("empty encoding")
	}

	// Target with raw id 5, no proxy, no components: decode must create
	// the missing component.
	dst := m.reg.CreateHint(registry.NewEntity(5, 0))
	m.DecodeEntity(dst, data)
	if v, ok := pos.Store().Get(dst); !ok || v != (position{X: 1, Y: 2}) {
		t.Fatalf("decoded component = %+v, ok=%v", v, ok)
	}

	again := m.EncodeEntity(dst)
	if !bytes.Equal(data, again) {
		t.Error("re-encoding is not byte-identical")
	}
}

func TestDecodeEntityDestroysAbsentComponents(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	bare := m.reg.Create()
	data := m.EncodeEntity(bare) // Position recorded as absent

	target := m.reg.Create()
	pos.Store().Set(target, position{X: 9, Y: 9})
	m.DecodeEntity(target, data)

	if pos.Store().Contains(target) {
		t.Error("decode kept a component recorded as absent")
	}
}

func TestEncodeEntityInvalidHandle(t *testing.T) {
	m := newTestManager(Options{})
	if data := m.EncodeEntity(registry.Nil); data != nil {
		t.Error("encoding the nil handle produced data")
	}
	m.DecodeEntity(registry.Nil, []byte{1, 2, 3}) // logged no-op
}

func TestQueuedDecodeAppliesAtSynchronize(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	src := m.reg.Create()
	pos.Store().Set(src, position{X: 8, Y: 6})
	data := m.EncodeEntity(src)

	e := m.reg.Create()
	ref := m.Materialize(e)
	m.QueueDecodeEntity(ref, data)

	if pos.Store().Contains(e) {
		t.Fatal("decode applied before synchronization")
	}
	m.Synchronize()
	if v, ok := pos.Store().Get(e); !ok || v != (position{X: 8, Y: 6}) {
		t.Errorf("queued decode result = %+v, ok=%v", v, ok)
	}
	checkInvariant(t, m)
}

func TestQueuedDecodeDroppedWhenProxyGone(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	src := m.reg.Create()
	pos.Store().Set(src, position{X: 8, Y: 6})
	data := m.EncodeEntity(src)

	e := m.reg.Create()
	ref := m.Materialize(e)
	m.QueueDecodeEntity(ref, data)
	m.Dematerialize(e)

	m.Synchronize() // silently drops the decode
	if pos.Store().Contains(e) {
		t.Error("decode applied to a dematerialized target")
	}
	checkInvariant(t, m)
}

func TestWholeRegistryRoundTrip(t *testing.T) {
	src := newTestManager(Options{})
	srcPos := NewFactory(src.reg, "Position", 1, positionCodec)
	src.AddComponentType(srcPos)

	e1 := src.reg.Create()
	e2 := src.reg.Create()
	src.reg.Create() // e3: no components, no proxy
	srcPos.Store().Set(e1, position{X: 1, Y: 1})
	srcPos.Store().Set(e2, position{X: 2, Y: 2})
	src.Materialize(e1)
	data := src.EncodeRegistry()

	dst := newTestManager(Options{})
	dstPos := NewFactory(dst.reg, "Position", 1, positionCodec)
	dst.AddComponentType(dstPos)
	dst.DecodeRegistry(data)
	dst.Synchronize()

	srcEntities := src.reg.Entities()
	dstEntities := dst.reg.Entities()
	if len(srcEntities) != len(dstEntities) {
		t.Fatalf("entity count = %d, want %d", len(dstEntities), len(srcEntities))
	}
	for i := range srcEntities {
		if srcEntities[i] != dstEntities[i] {
			t.Errorf("raw handle %d = %v, want %v", i, dstEntities[i], srcEntities[i])
		}
		srcStatus, _ := src.status.Store().Get(srcEntities[i])
		dstStatus, _ := dst.status.Store().Get(dstEntities[i])
		if srcStatus != dstStatus {
			t.Errorf("status of %v = %+v, want %+v", srcEntities[i], dstStatus, srcStatus)
		}
	}
	if v, _ := dstPos.Store().Get(e2); v != (position{X: 2, Y: 2}) {
		t.Errorf("component of %v = %+v", e2, v)
	}
	if !dst.IsMaterialized(e1) {
		t.Error("materialized entity not rebuilt from status records")
	}
	checkInvariant(t, dst)
}

func TestDecodePreservesSurvivingProxies(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()
	ref := m.Materialize(e)
	data := m.EncodeRegistry()

	m.DecodeRegistry(data)
	m.Synchronize()

	if m.EntityToRef(e) != ref {
		t.Error("surviving proxy link was rebuilt instead of kept")
	}
	if len(m.Container().Children()) != 1 {
		t.Errorf("container has %d proxies, want 1", len(m.Container().Children()))
	}
	checkInvariant(t, m)
}

func TestUnknownComponentTypeSkipped(t *testing.T) {
	src := newTestManager(Options{})
	alpha := NewFactory(src.reg, "Alpha", 1, positionCodec)
	beta := NewFactory(src.reg, "Beta", 1, positionCodec)
	src.AddComponentType(alpha)
	src.AddComponentType(beta)

	e := src.reg.Create()
	alpha.Store().Set(e, position{X: 10, Y: 10})
	beta.Store().Set(e, position{X: 20, Y: 20})
	data := src.EncodeRegistry()

	// The destination never registered Alpha: its block must be skipped
	// without corrupting the Beta block that follows.
	dst := newTestManager(Options{})
	dstBeta := NewFactory(dst.reg, "Beta", 1, positionCodec)
	dst.AddComponentType(dstBeta)
	dst.DecodeRegistry(data)
	dst.Synchronize()

	if v, ok := dstBeta.Store().Get(e); !ok || v != (position{X: 20, Y: 20}) {
		t.Errorf("Beta after skipping Alpha = %+v, ok=%v", v, ok)
	}
}

func TestFactoriesSerializeNameSorted(t *testing.T) {
	m := newTestManager(Options{})
	// Registered in reverse order on purpose.
	m.AddComponentType(NewFactory(m.reg, "Beta", 1, positionCodec))
	m.AddComponentType(NewFactory(m.reg, "Alpha", 1, positionCodec))

	e := m.reg.Create()
	data := m.EncodeEntity(e)

	a := archive.NewInput(data)
	count := a.ArrayBlock(0)
	if count != 2 {
		t.Fatalf("factory count = %d, want 2", count)
	}
	var names []string
	for i := 0; i < count; i++ {
		block := a.OpenSafeBlock()
		var name string
		a.String(&name)
		names = append(names, name)
		block.Close()
	}
	if names[0] != "Alpha" || names[1] != "Beta" {
		t.Errorf("serialized order = %v, want [Alpha Beta]", names)
	}
}

func TestCommitCreateTwice(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	e := m.reg.Create()
	m.QueueCreateComponent(e, pos)

	m.Commit()
	if !pos.Store().Contains(e) {
		t.Fatal("first commit did not create the component")
	}
	pos.Store().Set(e, position{X: 5, Y: 5})

	m.Commit() // queue already drained
	if v, _ := pos.Store().Get(e); v != (position{X: 5, Y: 5}) {
		t.Error("second commit re-created the component")
	}
	checkInvariant(t, m)
}

func TestCommitValidatesPreconditions(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	e := m.reg.Create()
	pos.Store().Set(e, position{X: 1, Y: 1})

	stale := m.reg.Create()
	m.reg.Destroy(stale)

	m.QueueCreateComponent(e, pos)      // already exists: skipped
	m.QueueCreateComponent(stale, pos)  // invalid entity: skipped
	m.QueueDestroyComponent(stale, pos) // invalid entity: skipped
	m.Commit()

	if v, _ := pos.Store().Get(e); v != (position{X: 1, Y: 1}) {
		t.Error("skipped create overwrote the existing component")
	}
}

func TestCommitMaterializationToggles(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()

	m.QueueMaterialization(e, true)
	m.QueueMaterialization(e, false)
	m.Commit()

	if m.IsMaterialized(e) {
		t.Error("toggles not applied in queue order")
	}
	checkInvariant(t, m)
}

func TestStagedEditsLastQueuedWins(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	e := m.reg.Create()
	pos.Store().Set(e, position{X: 1, Y: 1})

	pos.StageEdit(e, position{X: 2, Y: 2})
	pos.StageEdit(e, position{X: 3, Y: 3})
	m.QueueEditComponent(pos)

	if v, _ := pos.Store().Get(e); v != (position{X: 1, Y: 1}) {
		t.Fatal("staged edit touched the live component before commit")
	}
	m.Commit()
	if v, _ := pos.Store().Get(e); v != (position{X: 3, Y: 3}) {
		t.Errorf("after commit = %+v, want last staged value", v)
	}
}

func TestStagedEditOnDestroyedEntitySkipped(t *testing.T) {
	m := newTestManager(Options{})
	pos := NewFactory(m.reg, "Position", 1, positionCodec)
	m.AddComponentType(pos)

	e := m.reg.Create()
	pos.Store().Set(e, position{X: 1, Y: 1})
	pos.StageEdit(e, position{X: 2, Y: 2})
	m.QueueEditComponent(pos)
	m.reg.Destroy(e)

	m.Commit() // logged, skipped, batch continues
}

func TestTransformDirtyTag(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()
	ref := m.Materialize(e)

	ref.Node().MarkDirty()
	if !m.DirtyStore().Contains(e) {
		t.Fatal("dirty notification did not tag the entity")
	}

	// The manager never clears the tag.
	m.Tick()
	if !m.DirtyStore().Contains(e) {
		t.Error("tick cleared the transform-dirty tag")
	}
	m.DirtyStore().Remove(e)
}

func TestSynchronizeReentrancy(t *testing.T) {
	m := newTestManager(Options{})
	calls := 0
	m.OnEntityMaterialized = append(m.OnEntityMaterialized,
		func(mm *Manager, _ registry.Entity, _ *scene.EntityRef) {
			calls++
			mm.Synchronize() // must be a guarded no-op mid-pass
		})

	e := m.reg.Create()
	m.status.Store().Set(e, MaterializationStatus{Materialized: true})
	m.registryDirty = true
	m.Synchronize()

	if calls != 1 {
		t.Errorf("materialized notification fired %d times, want 1", calls)
	}
	if !m.IsMaterialized(e) {
		t.Error("reconciliation did not materialize the entity")
	}
	checkInvariant(t, m)
}

func TestTickFiresUpdatedOnce(t *testing.T) {
	m := newTestManager(Options{})
	updates := 0
	m.OnUpdated = append(m.OnUpdated, func(*Manager) { updates++ })
	m.Tick()
	if updates != 1 {
		t.Errorf("OnUpdated fired %d times, want 1", updates)
	}
}

func TestNotificationOrderOnDematerialize(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()
	m.Materialize(e)

	m.OnEntityDematerialized = append(m.OnEntityDematerialized,
		func(mm *Manager, ent registry.Entity, ref *scene.EntityRef) {
			// Fired before mutation: the proxy is still connected.
			if ref.Entity() != ent {
				t.Error("proxy already cleared at notification time")
			}
			if !ref.Alive() {
				t.Error("proxy already removed at notification time")
			}
		})
	m.Dematerialize(e)
}

func TestDuplicateComponentTypeRejected(t *testing.T) {
	m := newTestManager(Options{})
	m.AddComponentType(NewFactory(m.reg, "Position", 1, positionCodec))
	m.AddComponentType(&TypedFactory[position]{name: "Position", version: 2})
	if len(m.factories) != 1 {
		t.Errorf("factory count = %d, want 1", len(m.factories))
	}
}

func TestNodeToEntity(t *testing.T) {
	m := newTestManager(Options{})
	e := m.reg.Create()
	ref := m.Materialize(e)

	if got := m.NodeToEntity(ref.Node()); got != e {
		t.Errorf("NodeToEntity = %v, want %v", got, e)
	}
	plain := m.graph.CreateChild(nil, "Plain")
	if got := m.NodeToEntity(plain); !got.IsNil() {
		t.Errorf("NodeToEntity on plain node = %v, want nil", got)
	}
	if got := m.NodeToEntity(nil); !got.IsNil() {
		t.Errorf("NodeToEntity(nil) = %v, want nil", got)
	}
}
