// Package contest defines the contest data model shared by the scrape, derive,
// schedule, and serve stages: records, snapshots, meta, the error taxonomy, and
// the interfaces that connect the stages.
package contest
