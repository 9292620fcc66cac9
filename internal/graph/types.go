package graph

import (
	"maps"
	"time"
)

// NodeType identifies what a knowledge node represents.
type NodeType string

const (
	NodeUser    NodeType = "user"
	NodeLesson  NodeType = "lesson"
	NodeQuiz    NodeType = "quiz"
	NodeConcept NodeType = "concept"
	NodeSkill   NodeType = "skill"
)

// Valid reports whether t is a recognized node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeUser, NodeLesson, NodeQuiz, NodeConcept, NodeSkill:
		return true
	}
	return false
}

// Trackable reports whether learners accumulate mastery on nodes of type t.
func (t NodeType) Trackable() bool {
	return t == NodeConcept || t == NodeSkill
}

// EdgeType identifies the relation an edge encodes.
type EdgeType string

const (
	// EdgePrerequisite runs from a prerequisite to the node requiring it.
	EdgePrerequisite EdgeType = "prerequisite"
	// EdgeMasteryLink runs from a user node to a trackable node. Its weight
	// is the learner's mastery.
	EdgeMasteryLink EdgeType = "mastery_link"
	// EdgeCompletion runs from a user node to a lesson or quiz they finished.
	EdgeCompletion EdgeType = "completion"
	EdgeSimilarity EdgeType = "similarity"
)

// Valid reports whether t is a recognized edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgePrerequisite, EdgeMasteryLink, EdgeCompletion, EdgeSimilarity:
		return true
	}
	return false
}

// Node is a vertex of the knowledge graph. Shared content nodes have an
// empty OwnerUserID. A user node owns itself.
type Node struct {
	ID          string
	OwnerUserID string
	Type        NodeType
	// MasteryScore is kept only for learner-owned trackable nodes.
	MasteryScore float64
	Attributes   map[string]any
	Active       bool
	// Seq is the creation order, used as a stable tie-break.
	Seq       int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Title returns the "title" attribute, falling back to the id.
func (n *Node) Title() string {
	if s, ok := n.Attributes["title"].(string); ok && s != "" {
		return s
	}
	return n.ID
}

// Attr returns a string attribute or "".
func (n *Node) Attr(key string) string {
	s, _ := n.Attributes[key].(string)
	return s
}

func (n *Node) clone() *Node {
	c := *n
	c.Attributes = maps.Clone(n.Attributes)
	return &c
}

// Edge is a directed, weighted relation between two nodes.
type Edge struct {
	ID         string
	SourceID   string
	TargetID   string
	Type       EdgeType
	Weight     float64
	Properties map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (e *Edge) clone() *Edge {
	c := *e
	c.Properties = maps.Clone(e.Properties)
	return &c
}

// Float returns a numeric property or 0. Values decoded from JSON arrive as
// float64; values set in process may be ints.
func (e *Edge) Float(key string) float64 {
	switch v := e.Properties[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// Time returns a time property or the zero time. Accepts time.Time and
// RFC 3339 strings.
func (e *Edge) Time(key string) time.Time {
	switch v := e.Properties[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err == nil {
			return t
		}
	}
	return time.Time{}
}

type linkKey struct {
	userID string
	nodeID string
}
