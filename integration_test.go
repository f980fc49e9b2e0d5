package espresso

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	f := NewFactory()
	require.NoError(t, f.Register("stub", newStubInstance))
	return f
}

// startCluster brings up a coordinator and n in-process compute nodes
// connected over TCP, and waits until every node has attached.
func startCluster(t *testing.T, n int) (*Coordinator, []*Node) {
	t.Helper()

	port, err := findFreePort()
	require.NoError(t, err)
	endpoint := fmt.Sprintf("tcp://127.0.0.1:%d", port)

	coord := NewCoordinator(newTestFactory(t))
	require.NoError(t, coord.Listen(endpoint))
	t.Cleanup(func() { coord.Close() })

	nodes := make([]*Node, 0, n)
	for i := 0; i < n; i++ {
		nd := NewNode(fmt.Sprintf("node-%d", i), newTestFactory(t))
		require.NoError(t, nd.Start(endpoint))
		t.Cleanup(nd.Stop)
		nodes = append(nodes, nd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, coord.WaitForNodes(ctx, n))

	return coord, nodes
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestIntegration_CreateReplicatesOnEveryNode(t *testing.T) {
	coord, nodes := startCluster(t, 2)
	ctx := testContext(t)

	params := NewVariantMap()
	params.Set("n_bins", Int(128))
	params.Set("axis", Vec3{0, 0, 1})

	obj, err := coord.CreateObject(ctx, "stub", params)
	require.NoError(t, err)
	defer obj.Release()

	for _, nd := range nodes {
		require.Equal(t, 1, nd.ObjectCount())

		replica, err := nd.objects.Lookup(obj.ID())
		require.NoError(t, err)
		assert.Equal(t, "stub", replica.Name())

		inst := replica.Instance.(*stubInstance)
		v, ok := inst.params.Get("n_bins")
		require.True(t, ok)
		assert.Equal(t, Int(128), v)
		v, ok = inst.params.Get("axis")
		require.True(t, ok)
		assert.Equal(t, Vec3{0, 0, 1}, v)
	}
}

func TestIntegration_AliasingSurvivesTheWire(t *testing.T) {
	coord, nodes := startCluster(t, 2)
	ctx := testContext(t)

	source, err := coord.CreateObject(ctx, "stub", nil)
	require.NoError(t, err)
	defer source.Release()

	params := NewVariantMap()
	params.Set("a", Ref{Object: source})
	params.Set("b", Ref{Object: source})

	profile, err := coord.CreateObject(ctx, "stub", params)
	require.NoError(t, err)
	defer profile.Release()

	for _, nd := range nodes {
		sourceReplica, err := nd.objects.Lookup(source.ID())
		require.NoError(t, err)
		profileReplica, err := nd.objects.Lookup(profile.ID())
		require.NoError(t, err)

		inst := profileReplica.Instance.(*stubInstance)
		a, ok := inst.params.Get("a")
		require.True(t, ok)
		b, ok := inst.params.Get("b")
		require.True(t, ok)

		// Both positions resolve to the one replica, not two copies
		assert.Same(t, sourceReplica, a.(Ref).Object)
		assert.Same(t, a.(Ref).Object, b.(Ref).Object)
	}
}

func TestIntegration_SetParameter(t *testing.T) {
	coord, nodes := startCluster(t, 1)
	ctx := testContext(t)

	obj, err := coord.CreateObject(ctx, "stub", nil)
	require.NoError(t, err)
	defer obj.Release()

	require.NoError(t, coord.SetParameter(ctx, obj, "sigma", Float(0.5)))

	// Master applied it
	v, err := obj.GetParameter("sigma")
	require.NoError(t, err)
	assert.Equal(t, Float(0.5), v)

	// Replica applied it
	replica, err := nodes[0].objects.Lookup(obj.ID())
	require.NoError(t, err)
	v, err = replica.GetParameter("sigma")
	require.NoError(t, err)
	assert.Equal(t, Float(0.5), v)
}

func TestIntegration_CallMethod(t *testing.T) {
	coord, nodes := startCluster(t, 2)
	ctx := testContext(t)

	obj, err := coord.CreateObject(ctx, "stub", nil)
	require.NoError(t, err)
	defer obj.Release()

	t.Run("result comes from the master instance", func(t *testing.T) {
		params := NewVariantMap()
		params.Set("x", Int(2))
		params.Set("y", Int(3))

		result, err := coord.CallMethod(ctx, obj, "sum", params)
		require.NoError(t, err)
		assert.Equal(t, Int(5), result)
	})

	t.Run("every replica executed the call", func(t *testing.T) {
		for _, nd := range nodes {
			replica, err := nd.objects.Lookup(obj.ID())
			require.NoError(t, err)
			assert.Contains(t, replica.Instance.(*stubInstance).calls, "sum")
		}
	})

	t.Run("replica failure surfaces as RemoteCallError", func(t *testing.T) {
		_, err := coord.CallMethod(ctx, obj, "fail", nil)
		require.Error(t, err)

		var remoteErr *RemoteCallError
		require.ErrorAs(t, err, &remoteErr)
		assert.Contains(t, remoteErr.Message, "deliberate failure")
	})
}

func TestIntegration_DeleteObject(t *testing.T) {
	coord, nodes := startCluster(t, 1)
	ctx := testContext(t)

	obj, err := coord.CreateObject(ctx, "stub", nil)
	require.NoError(t, err)

	replica, err := nodes[0].objects.Lookup(obj.ID())
	require.NoError(t, err)
	inst := replica.Instance.(*stubInstance)

	require.NoError(t, coord.DeleteObject(ctx, obj))
	assert.Equal(t, 0, nodes[0].ObjectCount())
	assert.True(t, inst.closed)

	// The caller's own reference is still valid until released
	assert.Equal(t, int64(1), obj.RefCount())
	obj.Release()
}

func TestIntegration_UnknownFactoryNameOnNodes(t *testing.T) {
	coord, _ := startCluster(t, 1)
	ctx := testContext(t)

	// Registered only on the coordinator, so every node must refuse it
	require.NoError(t, coord.factory.Register("coordinator-only", newStubInstance))

	obj, err := coord.CreateObject(ctx, "coordinator-only", nil)
	assert.Nil(t, obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown object name")
}

func TestIntegration_Metrics(t *testing.T) {
	coord, _ := startCluster(t, 2)
	ctx := testContext(t)

	obj, err := coord.CreateObject(ctx, "stub", nil)
	require.NoError(t, err)
	defer obj.Release()

	_, err = coord.CallMethod(ctx, obj, "echo", nil)
	require.NoError(t, err)

	snap := coord.Metrics().Snapshot()
	assert.Equal(t, 2, snap.NodesAttached)
	assert.Equal(t, 1, snap.ObjectsCreated)
	assert.GreaterOrEqual(t, snap.BroadcastsTotal, 2)
	assert.Equal(t, snap.BroadcastsTotal, snap.BroadcastsSuccess)
}

func TestIntegration_ShutdownReachesNodes(t *testing.T) {
	coord, nodes := startCluster(t, 1)

	require.NoError(t, coord.Close())

	select {
	case <-nodes[0].Done():
	case <-time.After(5 * time.Second):
		t.Fatal("node did not observe shutdown")
	}
}
