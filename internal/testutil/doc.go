// Package testutil provides recording collaborators for tests that run
// real partitions: a response sink, a job publisher and a silent logger.
//
// Everything here is safe for concurrent use, so the recorders also work
// behind an engine driven by Run.
package testutil
