package graph

import "github.com/abhisek/learngraph/internal/apperr"

var (
	ErrDuplicateID          = apperr.New(apperr.Structural, "duplicate_id", "duplicate id")
	ErrInvalidType          = apperr.New(apperr.Structural, "invalid_type", "invalid type")
	ErrUnknownNode          = apperr.New(apperr.Structural, "unknown_node", "unknown node")
	ErrCycleDetected        = apperr.New(apperr.Structural, "cycle_detected", "prerequisite cycle")
	ErrDuplicateMasteryLink = apperr.New(apperr.Structural, "duplicate_mastery_link", "mastery link already exists")
	ErrInvalidEdge          = apperr.New(apperr.Structural, "invalid_edge", "invalid edge")
	ErrNotFound             = apperr.New(apperr.State, "not_found", "not found")
	ErrPersistence          = apperr.New(apperr.Dependency, "persistence", "persisting graph change")
)
