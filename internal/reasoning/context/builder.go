// Package context assembles the cluster background handed to a new
// investigation.
//
// Responsibilities:
//   - Gather a cluster health snapshot and recent warning events
//   - Format the snapshot as markdown for the opening prompt
//   - Keep the assembled context inside a token budget, pruning whole
//     sections from least to most relevant
//
// The builder is best effort: a datasource failure degrades the context
// instead of blocking the investigation.
package context

import "context"

// Builder assembles investigation context.
type Builder interface {
	// Build returns formatted cluster context scoped to namespace
	// (empty means cluster-wide).
	Build(ctx context.Context, namespace string) (string, error)
}

// ClusterSource is the slice of the kubernetes datasource the builder
// needs. *kubernetes.Client satisfies it.
type ClusterSource interface {
	ClusterSummary(ctx context.Context) (string, error)
	ListEvents(ctx context.Context, namespace, involvedObject string, limit int) (string, error)
}
