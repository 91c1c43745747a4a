// Package planner turns a device's active register set into batched
// read groups.
//
// Registers are partitioned by register table and slave id, sorted by
// address, and merged greedily: an adjacent span joins the current
// group when the filler words between them fit the gap threshold and
// the widened group still fits the batch width. Reading a few unused
// filler words is far cheaper than issuing another request, so a
// moderate gap threshold cuts request counts sharply on templates with
// scattered addresses.
//
// Output is deterministic: identical inputs and options produce
// identical groupings, making plans diffable across reloads.
//
// # Usage
//
//	groups, err := planner.Plan(specs, planner.Options{
//		MaxBatchWords:     120,
//		GapMergeThreshold: 10,
//		DefaultSlaveID:    1,
//		DefaultInterval:   30 * time.Second,
//	})
//
// Each Group carries the wire parameters for one read call plus the
// member specs decoded from its words.
package planner
