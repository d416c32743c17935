package state

import (
	"bytes"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/statedb"
)

// DefaultResourceCacheCapacity bounds the latest-resource cache.
const DefaultResourceCacheCapacity = 1000

// resourceID identifies a resource lineage within a tenant.
type resourceID struct {
	tenant string
	id     string
}

func newResourceID(tenantID, id string) resourceID {
	return resourceID{tenant: record.NormalizeID(tenantID), id: record.NormalizeID(id)}
}

func (r resourceID) prefix() *statedb.Key {
	return statedb.NewKey().String(r.tenant).String(r.id)
}

// ResourceState is the versioned resource store.
//
// Resources are stored under (tenant, resourceKey) with secondary indices
// by version, deployment key and version tag, all led by the tenant. A
// persisted counter per (tenant, resourceId) tracks the highest version
// ever created; it is never lowered, so versions are not reused after a
// deletion.
//
// The latest resource of each (tenant, resourceId) is kept in an LRU cache,
// along with the version counters. Caches are owned by the partition's
// state and cleared on reset.
type ResourceState struct {
	ctx            *statedb.TransactionContext
	defaultVersion int64
	latest         *lru.Cache // resourceID -> record.ResourceRecord
	versions       *lru.Cache // resourceID -> int64
}

// NewResourceState creates the resource store. defaultVersion is the
// version assigned to the first resource of a lineage.
func NewResourceState(ctx *statedb.TransactionContext, defaultVersion int64, cacheCapacity int) (*ResourceState, error) {
	if defaultVersion < 1 {
		defaultVersion = 1
	}
	if cacheCapacity < 1 {
		cacheCapacity = DefaultResourceCacheCapacity
	}
	latest, err := lru.New(cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("create resource cache: %w", err)
	}
	versions, err := lru.New(cacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("create version cache: %w", err)
	}
	return &ResourceState{
		ctx:            ctx,
		defaultVersion: defaultVersion,
		latest:         latest,
		versions:       versions,
	}, nil
}

type storedKey struct {
	cf  statedb.ColumnFamily
	key []byte
}

func primaryKey(tenantID string, key int64) []byte {
	return statedb.NewKey().String(record.NormalizeID(tenantID)).Int64(key).Bytes()
}

// Put stores a resource with all its indices and raises the version
// counter. The cache is updated only if res is the latest known version.
func (s *ResourceState) Put(res record.ResourceRecord) error {
	rid := newResourceID(res.TenantID, res.ResourceID)
	key := statedb.EncodeInt64(res.ResourceKey)

	if err := putJSON(s.ctx, cfResources, primaryKey(res.TenantID, res.ResourceKey), res); err != nil {
		return fmt.Errorf("put resource %d: %w", res.ResourceKey, err)
	}

	txn, err := s.ctx.Current()
	if err != nil {
		return err
	}
	if err := txn.Put(cfResourceByIDVersion, rid.prefix().Int64(res.Version).Bytes(), key); err != nil {
		return err
	}
	if err := txn.Put(cfResourceByIDDeployment, rid.prefix().Int64(res.DeploymentKey).Bytes(), key); err != nil {
		return err
	}
	if res.HasVersionTag() {
		if err := txn.Put(cfResourceByIDVersionTag, rid.prefix().String(res.VersionTag).Bytes(), key); err != nil {
			return err
		}
	}

	highest, err := s.highestVersion(rid)
	if err != nil {
		return err
	}
	if res.Version > highest {
		if err := putInt64(s.ctx, cfResourceVersion, rid.prefix().Bytes(), res.Version); err != nil {
			return err
		}
		s.versions.Add(rid, res.Version)
		highest = res.Version
	}
	if res.Version >= highest {
		s.latest.Add(rid, res)
	}
	return nil
}

// Delete removes a resource and the index entries that still point at it,
// and invalidates the cached latest resource of its lineage. Index entries
// taken over by another version stay. The version counter is untouched.
func (s *ResourceState) Delete(res record.ResourceRecord) error {
	rid := newResourceID(res.TenantID, res.ResourceID)
	txn, err := s.ctx.Current()
	if err != nil {
		return err
	}

	if err := txn.Delete(cfResources, primaryKey(res.TenantID, res.ResourceKey)); err != nil {
		return fmt.Errorf("delete resource %d: %w", res.ResourceKey, err)
	}

	indices := []storedKey{
		{cfResourceByIDVersion, rid.prefix().Int64(res.Version).Bytes()},
		{cfResourceByIDDeployment, rid.prefix().Int64(res.DeploymentKey).Bytes()},
	}
	if res.HasVersionTag() {
		indices = append(indices, storedKey{cfResourceByIDVersionTag, rid.prefix().String(res.VersionTag).Bytes()})
	}
	owner := statedb.EncodeInt64(res.ResourceKey)
	for _, e := range indices {
		value, found, err := txn.Get(e.cf, e.key)
		if err != nil {
			return fmt.Errorf("delete resource %d: %w", res.ResourceKey, err)
		}
		if !found || !bytes.Equal(value, owner) {
			continue
		}
		if err := txn.Delete(e.cf, e.key); err != nil {
			return fmt.Errorf("delete resource %d: %w", res.ResourceKey, err)
		}
	}

	s.latest.Remove(rid)
	return nil
}

// FindByKey looks a resource up by its key.
func (s *ResourceState) FindByKey(tenantID string, key int64) (record.ResourceRecord, bool, error) {
	return getJSON[record.ResourceRecord](s.ctx, cfResources, primaryKey(tenantID, key))
}

// FindLatestByID returns the highest remaining version of a resource.
func (s *ResourceState) FindLatestByID(tenantID, id string) (record.ResourceRecord, bool, error) {
	rid := newResourceID(tenantID, id)
	if cached, ok := s.latest.Get(rid); ok {
		return cached.(record.ResourceRecord), true, nil
	}

	highest, err := s.highestVersion(rid)
	if err != nil || highest == 0 {
		return record.ResourceRecord{}, false, err
	}

	res, found, err := s.findByIndex(tenantID, cfResourceByIDVersion, rid.prefix().Int64(highest).Bytes())
	if err != nil {
		return record.ResourceRecord{}, false, err
	}
	if !found {
		// The latest version was deleted; fall back to the highest remaining one.
		res, found, err = s.findHighestRemaining(rid, tenantID)
		if err != nil || !found {
			return record.ResourceRecord{}, false, err
		}
	}

	s.latest.Add(rid, res)
	return res, true, nil
}

// FindByIDAndVersion returns a specific version of a resource.
func (s *ResourceState) FindByIDAndVersion(tenantID, id string, version int64) (record.ResourceRecord, bool, error) {
	rid := newResourceID(tenantID, id)
	return s.findByIndex(tenantID, cfResourceByIDVersion, rid.prefix().Int64(version).Bytes())
}

// FindByIDAndDeploymentKey returns the version of a resource created by a
// deployment.
func (s *ResourceState) FindByIDAndDeploymentKey(tenantID, id string, deploymentKey int64) (record.ResourceRecord, bool, error) {
	rid := newResourceID(tenantID, id)
	return s.findByIndex(tenantID, cfResourceByIDDeployment, rid.prefix().Int64(deploymentKey).Bytes())
}

// FindByIDAndVersionTag returns the version of a resource carrying a tag.
func (s *ResourceState) FindByIDAndVersionTag(tenantID, id, versionTag string) (record.ResourceRecord, bool, error) {
	rid := newResourceID(tenantID, id)
	return s.findByIndex(tenantID, cfResourceByIDVersionTag, rid.prefix().String(versionTag).Bytes())
}

// NextVersion returns the version the next created resource of a lineage
// gets: the highest version ever created plus one, or the default version
// for a new lineage.
func (s *ResourceState) NextVersion(tenantID, id string) (int64, error) {
	highest, err := s.highestVersion(newResourceID(tenantID, id))
	if err != nil {
		return 0, err
	}
	if highest == 0 {
		return s.defaultVersion, nil
	}
	return highest + 1, nil
}

// ClearCache drops the resource and version-counter caches.
func (s *ResourceState) ClearCache() {
	s.latest.Purge()
	s.versions.Purge()
}

func (s *ResourceState) highestVersion(rid resourceID) (int64, error) {
	if cached, ok := s.versions.Get(rid); ok {
		return cached.(int64), nil
	}
	version, found, err := getInt64(s.ctx, cfResourceVersion, rid.prefix().Bytes())
	if err != nil || !found {
		return 0, err
	}
	s.versions.Add(rid, version)
	return version, nil
}

func (s *ResourceState) findByIndex(tenantID string, cf statedb.ColumnFamily, indexKey []byte) (record.ResourceRecord, bool, error) {
	key, found, err := getInt64(s.ctx, cf, indexKey)
	if err != nil || !found {
		return record.ResourceRecord{}, false, err
	}
	res, found, err := s.FindByKey(tenantID, key)
	if err != nil {
		return record.ResourceRecord{}, false, err
	}
	if !found {
		return record.ResourceRecord{}, false, fmt.Errorf("%w: index entry for resource %d has no row", ErrCorrupted, key)
	}
	return res, true, nil
}

func (s *ResourceState) findHighestRemaining(rid resourceID, tenantID string) (record.ResourceRecord, bool, error) {
	txn, err := s.ctx.Current()
	if err != nil {
		return record.ResourceRecord{}, false, err
	}

	var (
		highestKey int64
		found      bool
	)
	err = txn.ForEach(cfResourceByIDVersion, rid.prefix().Bytes(), func(_, value []byte) (bool, error) {
		key, err := statedb.DecodeInt64(value)
		if err != nil {
			return false, fmt.Errorf("%w: version index: %v", ErrCorrupted, err)
		}
		highestKey, found = key, true
		return true, nil
	})
	if err != nil || !found {
		return record.ResourceRecord{}, false, err
	}

	res, ok, err := s.FindByKey(tenantID, highestKey)
	if err != nil {
		return record.ResourceRecord{}, false, err
	}
	if !ok {
		return record.ResourceRecord{}, false, fmt.Errorf("%w: index entry for resource %d has no row", ErrCorrupted, highestKey)
	}
	return res, true, nil
}
