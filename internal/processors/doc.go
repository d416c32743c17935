// Package processors implements the command processors of a partition and
// registers them on the engine's dispatch table.
//
// Processors read state, decide, and emit through the engine writers. They
// never mutate state directly: every change is an event applied by the
// state writer. A processor returns an error only for fatal conditions;
// business failures are rejections or incidents.
package processors
