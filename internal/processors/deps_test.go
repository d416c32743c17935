package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticAuthorizer(t *testing.T) {
	auth := StaticAuthorizer{Grants: []Grant{
		{Actor: "alice", ResourceType: "*", Permission: "*", ResourceID: "*"},
		{Actor: "bob", ResourceType: ResourceTypeProcessDefinition, Permission: PermissionUpdateProcessInstance, ResourceID: "order"},
	}}

	tests := []struct {
		actor, resourceType, permission, resourceID string
		want                                        bool
	}{
		{"alice", ResourceTypeResource, PermissionDelete, "anything", true},
		{"bob", ResourceTypeProcessDefinition, PermissionUpdateProcessInstance, "order", true},
		{"bob", ResourceTypeProcessDefinition, PermissionUpdateProcessInstance, "invoice", false},
		{"bob", ResourceTypeResource, PermissionCreate, "order", false},
		{"mallory", ResourceTypeResource, PermissionCreate, "order", false},
		{"", ResourceTypeResource, PermissionCreate, "order", false},
	}
	for _, tt := range tests {
		got := auth.IsAuthorized(tt.actor, tt.resourceType, tt.permission, tt.resourceID)
		assert.Equal(t, tt.want, got, "%s %s %s %s", tt.actor, tt.resourceType, tt.permission, tt.resourceID)
	}
}

func TestAllowAll(t *testing.T) {
	assert.True(t, AllowAll{}.IsAuthorized("", "", "", ""))
}

func TestDepsDefaults(t *testing.T) {
	d := Deps{}.withDefaults()
	assert.Equal(t, AllowAll{}, d.Authorizer)
	assert.NotNil(t, d.Publisher)
	assert.Equal(t, int32(4095), d.MaxPartitionCount)
	assert.Equal(t, int32(DefaultJobRetries), d.DefaultJobRetries)
	assert.NotNil(t, d.Logger)
}
