// +build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/require"
)

// TestEtcdBackendRoundTrips spins up a real etcd container and exercises
// the Backend contract against it, the way the teacher's rpctest suite
// drives a real chain backend rather than a mock.
func TestEtcdBackendRoundTrips(t *testing.T) {
	pool, err := dockertest.NewPool("")
	require.NoError(t, err)

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "quay.io/coreos/etcd",
		Tag:        "v3.5.7",
		Cmd: []string{
			"etcd",
			"--listen-client-urls=http://0.0.0.0:2379",
			"--advertise-client-urls=http://0.0.0.0:2379",
		},
	}, func(cfg *docker.HostConfig) {
		cfg.AutoRemove = true
	})
	require.NoError(t, err)
	defer pool.Purge(resource)

	endpoint := fmt.Sprintf("localhost:%s", resource.GetPort("2379/tcp"))

	var backend *Etcd
	err = pool.Retry(func() error {
		var openErr error
		backend, openErr = OpenEtcd(EtcdConfig{
			Endpoints:   []string{endpoint},
			DialTimeout: 2 * time.Second,
			Prefix:      "integration-test/",
		})
		return openErr
	})
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()

	require.NoError(t, backend.Store(ctx, "alpha", []byte("one")))
	value, ok, err := backend.Retrieve(ctx, "alpha")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("one"), value)

	require.NoError(t, backend.StoreBatch(ctx, map[string][]byte{
		"beta":  []byte("two"),
		"gamma": []byte("three"),
	}))

	keys, err := backend.ListKeys(ctx, "")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, keys)

	exists, err := backend.Exists(ctx, "beta")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, backend.Remove(ctx, "beta"))
	_, ok, err = backend.Retrieve(ctx, "beta")
	require.NoError(t, err)
	require.False(t, ok)
}
