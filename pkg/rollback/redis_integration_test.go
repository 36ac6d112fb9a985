//go:build integration

package rollback

import (
	"testing"

	"github.com/newtron-network/newtdeploy/internal/testutil"
	"github.com/newtron-network/newtdeploy/pkg/model"
)

func TestRedisStore(t *testing.T) {
	client := testutil.RedisClient(t)
	storeContract(t, NewRedisStoreFromClient(client))

	if n := testutil.KeyCount(t, client, RedisTable+"|*"); n == 0 {
		t.Error("expected ROLLBACK hashes after contract run")
	}
}

func TestRedisStore_ManagerRoundTrip(t *testing.T) {
	client := testutil.RedisClient(t)
	ctx := testutil.Context(t)

	m := NewManager(NewRedisStoreFromClient(client))
	current := &model.ConfigSet{Devices: map[string][]string{"dev1": {"vlan 100"}}}
	rc, err := m.PrepareRollbackFromConfig("dep-redis", current, "cfg-redis")
	if err != nil {
		t.Fatalf("PrepareRollbackFromConfig: %v", err)
	}
	if err := m.Store(ctx, rc); err != nil {
		t.Fatalf("Store: %v", err)
	}
	key := rc.Key()

	// A fresh manager has a cold cache and must read through Redis.
	got, err := NewManager(NewRedisStoreFromClient(client)).Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.DeploymentID != "dep-redis" {
		t.Errorf("DeploymentID = %q", got.DeploymentID)
	}
}
