package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/streamcore/internal/record"
)

func TestResourceCreate_AssignsKeysAndVersions(t *testing.T) {
	f := newFixture(t, 1)

	recs := f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("v1")})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	v1 := decode[record.ResourceRecord](t, recs[0])
	assert.Equal(t, key(1), v1.ResourceKey)
	assert.Equal(t, key(1), v1.DeploymentKey)
	assert.Equal(t, int64(1), v1.Version)
	assert.Equal(t, record.DefaultTenantID, v1.TenantID)
	assert.Equal(t, record.Checksum([]byte("v1")), v1.Checksum)

	recs = f.command(0, record.ResourceCreate, record.ResourceRecord{
		ResourceID: "order", Payload: []byte("v2"), DeploymentKey: 7, VersionTag: "release",
	})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	v2 := decode[record.ResourceRecord](t, recs[0])
	assert.Equal(t, int64(2), v2.Version)
	assert.Equal(t, int64(7), v2.DeploymentKey)

	resp := f.lastResponse()
	assert.False(t, resp.Rejected())
	assert.Equal(t, v2.ResourceKey, resp.Key)

	byTag, found, err := f.state.Resources.FindByIDAndVersionTag(record.DefaultTenantID, "order", "release")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v2.ResourceKey, byTag.ResourceKey)
}

func TestResourceCreate_Rejections(t *testing.T) {
	f := newFixture(t, 1)
	f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("v1"), VersionTag: "release"})

	tests := []struct {
		name  string
		value record.ResourceRecord
		want  string
	}{
		{"empty id", record.ResourceRecord{Payload: []byte("x")}, "R RESOURCE CREATE INVALID_ARGUMENT"},
		{"same checksum", record.ResourceRecord{ResourceID: "order", Payload: []byte("v1")}, "R RESOURCE CREATE ALREADY_EXISTS"},
		{"tag in use", record.ResourceRecord{ResourceID: "order", Payload: []byte("v2"), VersionTag: "release"}, "R RESOURCE CREATE INVALID_ARGUMENT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := f.command(0, record.ResourceCreate, tt.value)
			assert.Equal(t, []string{tt.want}, summary(recs))
			assert.NotEmpty(t, recs[0].RejectionReason)
			assert.True(t, f.lastResponse().Rejected())
		})
	}

	latest, found, err := f.state.Resources.FindLatestByID(record.DefaultTenantID, "order")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), latest.Version, "rejections change no state")
}

func TestResourceDelete(t *testing.T) {
	f := newFixture(t, 1)
	v1 := f.deploy("order", "v1")
	v2 := f.deploy("order", "v2")

	recs := f.command(v2, record.ResourceDelete, record.ResourceRecord{})
	require.Equal(t, []string{"E RESOURCE DELETED"}, summary(recs))
	assert.Equal(t, v2, recs[0].Key)

	latest, found, err := f.state.Resources.FindLatestByID(record.DefaultTenantID, "order")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v1, latest.ResourceKey)

	recs = f.command(v2, record.ResourceDelete, record.ResourceRecord{})
	assert.Equal(t, []string{"R RESOURCE DELETE NOT_FOUND"}, summary(recs))

	// Versions are never reused.
	recs = f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("v3")})
	assert.Equal(t, int64(3), decode[record.ResourceRecord](t, recs[0]).Version)
}

func TestResourceDelete_SharedDeploymentKey(t *testing.T) {
	f := newFixture(t, 1)

	recs := f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("a"), DeploymentKey: 7})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	v1 := recs[0].Key
	recs = f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("b"), DeploymentKey: 7})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	v2 := recs[0].Key

	recs = f.command(v1, record.ResourceDelete, record.ResourceRecord{})
	require.Equal(t, []string{"E RESOURCE DELETED"}, summary(recs))

	byDeployment, found, err := f.state.Resources.FindByIDAndDeploymentKey(record.DefaultTenantID, "order", 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, v2, byDeployment.ResourceKey)
	assert.Equal(t, int64(2), byDeployment.Version)
}

func TestResource_Authorization(t *testing.T) {
	f := newFixture(t, 1, withAuthorizer(StaticAuthorizer{Grants: []Grant{
		{Actor: "alice", ResourceType: "*", Permission: "*", ResourceID: "*"},
		{Actor: "bob", ResourceType: ResourceTypeResource, Permission: PermissionCreate, ResourceID: "order"},
	}}))

	recs := f.commandAs("bob", 0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", Payload: []byte("v1")})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	orderKey := recs[0].Key

	recs = f.commandAs("bob", 0, record.ResourceCreate, record.ResourceRecord{ResourceID: "invoice", Payload: []byte("v1")})
	assert.Equal(t, []string{"R RESOURCE CREATE UNAUTHORIZED"}, summary(recs))
	assert.Contains(t, recs[0].RejectionReason, "invoice")

	recs = f.commandAs("bob", orderKey, record.ResourceDelete, record.ResourceRecord{})
	assert.Equal(t, []string{"R RESOURCE DELETE UNAUTHORIZED"}, summary(recs))

	recs = f.commandAs("alice", orderKey, record.ResourceDelete, record.ResourceRecord{})
	assert.Equal(t, []string{"E RESOURCE DELETED"}, summary(recs))
}

func TestResource_TenantsAreSeparate(t *testing.T) {
	f := newFixture(t, 1)

	recs := f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", TenantID: "acme", Payload: []byte("v1")})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	acmeKey := recs[0].Key

	recs = f.command(0, record.ResourceCreate, record.ResourceRecord{ResourceID: "order", TenantID: "globex", Payload: []byte("v1")})
	require.Equal(t, []string{"E RESOURCE CREATED"}, summary(recs))
	assert.Equal(t, int64(1), decode[record.ResourceRecord](t, recs[0]).Version)

	recs = f.command(acmeKey, record.ResourceDelete, record.ResourceRecord{TenantID: "globex"})
	assert.Equal(t, []string{"R RESOURCE DELETE NOT_FOUND"}, summary(recs))
}
