package processors

import (
	"fmt"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
)

type resourceCreateProcessor struct{ base }

func (p *resourceCreateProcessor) Process(cmd engine.Command) error {
	res := cmd.Value().(record.ResourceRecord)
	if res.TenantID == "" {
		res.TenantID = record.DefaultTenantID
	}
	if res.ResourceID == "" {
		return p.reject(cmd, record.RejectionInvalidArgument, "Expected to create a resource with an id, but the id is empty")
	}
	if !p.authorized(cmd, ResourceTypeResource, PermissionCreate, res.ResourceID) {
		return p.reject(cmd, record.RejectionUnauthorized, unauthorizedReason(PermissionCreate, ResourceTypeResource, res.ResourceID))
	}
	if res.Checksum == "" {
		res.Checksum = record.Checksum(res.Payload)
	}

	latest, found, err := p.st.Resources.FindLatestByID(res.TenantID, res.ResourceID)
	if err != nil {
		return err
	}
	if found && latest.Checksum == res.Checksum {
		return p.reject(cmd, record.RejectionAlreadyExists, fmt.Sprintf(
			"Expected to create a new version of resource '%s', but version %d has the same checksum", res.ResourceID, latest.Version))
	}
	if res.HasVersionTag() {
		tagged, found, err := p.st.Resources.FindByIDAndVersionTag(res.TenantID, res.ResourceID, res.VersionTag)
		if err != nil {
			return err
		}
		if found {
			return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
				"Expected version tag '%s' of resource '%s' to be unused, but version %d carries it", res.VersionTag, res.ResourceID, tagged.Version))
		}
	}

	key, err := p.st.Keys.NextKey()
	if err != nil {
		return err
	}
	version, err := p.st.Resources.NextVersion(res.TenantID, res.ResourceID)
	if err != nil {
		return err
	}
	res.ResourceKey = key
	res.Version = version
	if res.DeploymentKey == 0 {
		res.DeploymentKey = key
	}

	if err := p.w.State.AppendFollowUpEvent(key, record.ResourceCreated, res); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.ResourceCreated, res, cmd)
}

type resourceDeleteProcessor struct{ base }

func (p *resourceDeleteProcessor) Process(cmd engine.Command) error {
	tenantID := cmd.Value().(record.ResourceRecord).TenantID
	if tenantID == "" {
		tenantID = record.DefaultTenantID
	}

	res, found, err := p.st.Resources.FindByKey(tenantID, cmd.Key())
	if err != nil {
		return err
	}
	if !found {
		return p.reject(cmd, record.RejectionNotFound, fmt.Sprintf(
			"Expected to delete resource with key '%d', but no such resource was found", cmd.Key()))
	}
	if !p.authorized(cmd, ResourceTypeResource, PermissionDelete, res.ResourceID) {
		return p.reject(cmd, record.RejectionUnauthorized, unauthorizedReason(PermissionDelete, ResourceTypeResource, res.ResourceID))
	}

	if err := p.w.State.AppendFollowUpEvent(cmd.Key(), record.ResourceDeleted, res); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(cmd.Key(), record.ResourceDeleted, res, cmd)
}
