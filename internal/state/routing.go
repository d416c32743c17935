package state

import (
	"fmt"
	"hash/fnv"
	"slices"

	"github.com/roach88/streamcore/internal/statedb"
)

var routingKey = []byte("routing")

// Routing is the partition topology: the partitions that serve traffic
// (current) and the partitions that should (desired). Both are sorted.
type Routing struct {
	CurrentPartitions []int32 `json:"current_partitions"`
	DesiredPartitions []int32 `json:"desired_partitions"`
}

// Stable reports whether no scale-up is in progress.
func (r Routing) Stable() bool {
	return slices.Equal(r.CurrentPartitions, r.DesiredPartitions)
}

// IsCurrent reports whether a partition serves traffic.
func (r Routing) IsCurrent(partitionID int32) bool {
	_, ok := slices.BinarySearch(r.CurrentPartitions, partitionID)
	return ok
}

// IsDesired reports whether a partition is part of the desired topology.
func (r Routing) IsDesired(partitionID int32) bool {
	_, ok := slices.BinarySearch(r.DesiredPartitions, partitionID)
	return ok
}

// Route picks the partition for a correlation key among the current
// partitions only; partitions still bootstrapping never receive traffic.
func (r Routing) Route(correlationKey string) int32 {
	if len(r.CurrentPartitions) == 0 {
		return 1
	}
	h := fnv.New32a()
	h.Write([]byte(correlationKey))
	return r.CurrentPartitions[h.Sum32()%uint32(len(r.CurrentPartitions))]
}

// PartitionRange returns {1..n}.
func PartitionRange(n int32) []int32 {
	out := make([]int32, 0, max(n, 0))
	for id := int32(1); id <= n; id++ {
		out = append(out, id)
	}
	return out
}

// RoutingState persists the routing information. It is mutated only by the
// scaling event appliers, apart from the one-time initialization when a
// partition first starts.
type RoutingState struct {
	ctx *statedb.TransactionContext
}

// NewRoutingState creates the routing store.
func NewRoutingState(ctx *statedb.TransactionContext) *RoutingState {
	return &RoutingState{ctx: ctx}
}

// IsInitialized reports whether routing information was ever stored.
func (s *RoutingState) IsInitialized() (bool, error) {
	_, found, err := getJSON[Routing](s.ctx, cfRouting, routingKey)
	return found, err
}

// Initialize stores a stable topology of partitions {1..partitionCount}.
func (s *RoutingState) Initialize(partitionCount int32) error {
	partitions := PartitionRange(partitionCount)
	return s.put(Routing{CurrentPartitions: partitions, DesiredPartitions: slices.Clone(partitions)})
}

// Get returns the routing information.
func (s *RoutingState) Get() (Routing, error) {
	routing, found, err := getJSON[Routing](s.ctx, cfRouting, routingKey)
	if err != nil {
		return Routing{}, err
	}
	if !found {
		return Routing{}, fmt.Errorf("%w: routing information not initialized", ErrCorrupted)
	}
	return routing, nil
}

// SetDesiredPartitions replaces the desired partition set.
func (s *RoutingState) SetDesiredPartitions(partitions []int32) error {
	routing, err := s.Get()
	if err != nil {
		return err
	}
	routing.DesiredPartitions = sortedUnique(partitions)
	return s.put(routing)
}

// ActivatePartition adds a partition to the current set.
func (s *RoutingState) ActivatePartition(partitionID int32) error {
	routing, err := s.Get()
	if err != nil {
		return err
	}
	if routing.IsCurrent(partitionID) {
		return nil
	}
	routing.CurrentPartitions = sortedUnique(append(routing.CurrentPartitions, partitionID))
	return s.put(routing)
}

func (s *RoutingState) put(routing Routing) error {
	if err := putJSON(s.ctx, cfRouting, routingKey, routing); err != nil {
		return fmt.Errorf("put routing: %w", err)
	}
	return nil
}

func sortedUnique(ids []int32) []int32 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
