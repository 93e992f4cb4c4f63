package graph

import "errors"

var (
	// ErrCycle is returned when the dependency relation is not acyclic.
	ErrCycle = errors.New("graph contains a cycle")
	// ErrDestroyed is returned when an operation targets a destroyed graph.
	ErrDestroyed = errors.New("graph has been destroyed")
	// ErrInvalidHandle is returned when a node or object handle does not
	// refer to a live object.
	ErrInvalidHandle = errors.New("invalid handle")
	// ErrWrongGraph is returned when a node belongs to a different graph
	// than the operation expects.
	ErrWrongGraph = errors.New("node belongs to a different graph")
	// ErrTypeMismatch is returned by SetParams when the source node's kind
	// differs from the target's.
	ErrTypeMismatch = errors.New("node kind mismatch")
	// ErrDuplicateEdge is returned when an edge already exists.
	ErrDuplicateEdge = errors.New("edge already exists")
	// ErrSelfEdge is returned for an edge from a node to itself.
	ErrSelfEdge = errors.New("self-referential edge not allowed")
	// ErrNotDisableable is returned when enabling/disabling a node kind
	// that does not support it.
	ErrNotDisableable = errors.New("node kind cannot be disabled")
)
