// Package state holds the persistent state of a partition: deployed
// resources, incidents, jobs, element instances, routing information, the
// key generator and processing positions.
//
// State is mutated only by event appliers (EventAppliers), both while
// commands are processed and while the log is replayed. Processors read
// state through the components of ProcessingState and never write to it
// directly. Every read and write goes through the partition's
// TransactionContext, so one processing round is one badger transaction.
package state
