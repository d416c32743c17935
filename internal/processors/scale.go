package processors

import (
	"fmt"
	"slices"

	"github.com/roach88/streamcore/internal/engine"
	"github.com/roach88/streamcore/internal/record"
	"github.com/roach88/streamcore/internal/state"
)

// scaleUpProcessor starts a scale-up: the desired partitions become
// {1..N}. The new partitions serve traffic only once each acknowledged its
// bootstrap.
type scaleUpProcessor struct{ base }

func (p *scaleUpProcessor) Process(cmd engine.Command) error {
	desiredCount := cmd.Value().(record.ScaleRecord).DesiredPartitionCount
	routing, err := p.st.Routing.Get()
	if err != nil {
		return err
	}

	if desiredCount > p.deps.MaxPartitionCount {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected to scale up to at most %d partitions, but %d were requested", p.deps.MaxPartitionCount, desiredCount))
	}
	if !routing.Stable() {
		if int(desiredCount) == len(routing.DesiredPartitions) {
			return p.scalingUp(cmd, desiredCount, routing)
		}
		return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected no scale-up in progress, but scaling from %v to %v is", routing.CurrentPartitions, routing.DesiredPartitions))
	}
	if int(desiredCount) <= len(routing.CurrentPartitions) {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected to scale up to more than %d partitions, but %d were requested", len(routing.CurrentPartitions), desiredCount))
	}

	return p.scalingUp(cmd, desiredCount, routing)
}

// scalingUp writes SCALING_UP towards desiredCount partitions. A retried
// request for the scale-up in progress gets the same event again, listing
// the partitions still to bootstrap.
func (p *scaleUpProcessor) scalingUp(cmd engine.Command, desiredCount int32, routing state.Routing) error {
	desired := state.PartitionRange(desiredCount)
	var redistributed []int32
	for _, id := range desired {
		if !routing.IsCurrent(id) {
			redistributed = append(redistributed, id)
		}
	}

	key, err := p.st.Keys.NextKey()
	if err != nil {
		return err
	}
	value := record.ScaleRecord{
		DesiredPartitionCount:   desiredCount,
		RedistributedPartitions: redistributed,
		DesiredPartitions:       desired,
		CurrentPartitions:       routing.CurrentPartitions,
	}
	if err := p.w.State.AppendFollowUpEvent(key, record.ScalingUp, value); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(key, record.ScalingUp, value, cmd)
}

// markBootstrappedProcessor records the bootstrap acknowledgement of one
// new partition, and completes the scale-up with the last one.
type markBootstrappedProcessor struct{ base }

func (p *markBootstrappedProcessor) Process(cmd engine.Command) error {
	partitions := cmd.Value().(record.ScaleRecord).RedistributedPartitions
	routing, err := p.st.Routing.Get()
	if err != nil {
		return err
	}

	if routing.Stable() {
		return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected a scale-up in progress, but partitions %v are all bootstrapped", routing.CurrentPartitions))
	}
	if len(partitions) != 1 {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected exactly one bootstrapped partition, but got %v", partitions))
	}
	id := partitions[0]
	if !routing.IsDesired(id) {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected partition %d to be one of the desired partitions %v", id, routing.DesiredPartitions))
	}
	if routing.IsCurrent(id) {
		return p.reject(cmd, record.RejectionInvalidState, fmt.Sprintf(
			"Expected partition %d not to be bootstrapped yet, but it already is", id))
	}

	key, err := p.st.Keys.NextKey()
	if err != nil {
		return err
	}
	current := append(slices.Clone(routing.CurrentPartitions), id)
	slices.Sort(current)
	bootstrapped := record.ScaleRecord{
		DesiredPartitionCount:   int32(len(routing.DesiredPartitions)),
		RedistributedPartitions: []int32{id},
		DesiredPartitions:       routing.DesiredPartitions,
		CurrentPartitions:       current,
	}
	if err := p.w.State.AppendFollowUpEvent(key, record.PartitionBootstrapped, bootstrapped); err != nil {
		return err
	}

	after, err := p.st.Routing.Get()
	if err != nil {
		return err
	}
	if after.Stable() {
		if err := p.w.State.AppendFollowUpEvent(key, record.ScaledUp, record.ScaleRecord{
			DesiredPartitionCount: int32(len(after.DesiredPartitions)),
			DesiredPartitions:     after.DesiredPartitions,
			CurrentPartitions:     after.CurrentPartitions,
		}); err != nil {
			return err
		}
	}
	return p.w.Response.WriteEventOnCommand(key, record.PartitionBootstrapped, bootstrapped, cmd)
}

// scaleStatusProcessor reports the scale-up progress. It changes no state.
type scaleStatusProcessor struct{ base }

func (p *scaleStatusProcessor) Process(cmd engine.Command) error {
	clientCount := cmd.Value().(record.ScaleRecord).DesiredPartitionCount
	routing, err := p.st.Routing.Get()
	if err != nil {
		return err
	}

	desiredCount := int32(len(routing.DesiredPartitions))
	if clientCount > desiredCount {
		return p.reject(cmd, record.RejectionInvalidArgument, fmt.Sprintf(
			"Expected desired partition count of at most %d, but got %d", desiredCount, clientCount))
	}

	value := record.ScaleRecord{
		DesiredPartitionCount: desiredCount,
		DesiredPartitions:     routing.DesiredPartitions,
		CurrentPartitions:     routing.CurrentPartitions,
	}
	if err := p.w.State.AppendFollowUpEvent(cmd.Key(), record.ScaleStatusResponse, value); err != nil {
		return err
	}
	return p.w.Response.WriteEventOnCommand(cmd.Key(), record.ScaleStatusResponse, value, cmd)
}
