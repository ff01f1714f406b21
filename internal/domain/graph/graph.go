// Package graph implements the Coverage Graph Store (C8) domain types and
// upsert logic. Persistence is delegated to a Repository implementation
// (the Postgres-backed one lives in internal/infrastructure/repository);
// this package owns only the idempotence rules.
package graph

import "crossbridge/internal/domain/drift"

// NodeType enumerates the coverage graph's node kinds.
type NodeType string

const (
	NodeTest        NodeType = "test"
	NodeAPI         NodeType = "api"
	NodePage        NodeType = "page"
	NodeUIComponent NodeType = "ui_component"
	NodeFeature     NodeType = "feature"
)

// EdgeType enumerates the coverage graph's edge kinds.
type EdgeType string

const (
	EdgeCallsAPI         EdgeType = "calls_api"
	EdgeVisitsPage       EdgeType = "visits_page"
	EdgeTouchesComponent EdgeType = "touches_component"
	EdgeBelongsToFeature EdgeType = "belongs_to_feature"
)

// Node is a CoverageNode: node_id is the idempotence key.
type Node struct {
	NodeID string
	Type   NodeType
}

// Edge is a CoverageEdge: (From, To, Type) is the idempotence key;
// ObservationCount increments on every re-observation instead of
// duplicating the row.
type Edge struct {
	From             string
	To               string
	Type             EdgeType
	ObservationCount int
}

// Repository is the storage contract graph upserts are written through.
// UpsertNode/UpsertEdge must be idempotent per the (node_id) and
// (from,to,edge_type) keys; NodeExists backs the new_test DriftSignal
// check (spec §4.8: "If historical context shows this test_id has no
// prior events").
type Repository interface {
	UpsertNode(n Node) error
	UpsertEdge(e Edge) error
	NodeExists(nodeID string) (bool, error)
}

func testNodeID(testID string) string           { return "test:" + testID }
func apiNodeID(endpoint string) string          { return "api:" + endpoint }
func pageNodeID(pageID string) string           { return "page:" + pageID }
func componentNodeID(componentID string) string { return "ui_component:" + componentID }
func featureNodeID(featureID string) string     { return "feature:" + featureID }

// Observation is the subset of an accepted event the graph cares about.
type Observation struct {
	TestID       string
	APICalls     []string
	PagesVisited []string
	UIComponents []string
	Feature      string
}

// Update applies one Observation to the graph via repo, upserting the test
// node and every related node/edge, and returns a new_test DriftSignal the
// first time this test_id is ever observed.
func Update(repo Repository, obs Observation) (*drift.Signal, error) {
	testNode := testNodeID(obs.TestID)

	existed, err := repo.NodeExists(testNode)
	if err != nil {
		return nil, err
	}

	if err := repo.UpsertNode(Node{NodeID: testNode, Type: NodeTest}); err != nil {
		return nil, err
	}

	for _, endpoint := range obs.APICalls {
		apiNode := apiNodeID(endpoint)
		if err := repo.UpsertNode(Node{NodeID: apiNode, Type: NodeAPI}); err != nil {
			return nil, err
		}
		if err := repo.UpsertEdge(Edge{From: testNode, To: apiNode, Type: EdgeCallsAPI}); err != nil {
			return nil, err
		}
	}

	for _, pageID := range obs.PagesVisited {
		pageNode := pageNodeID(pageID)
		if err := repo.UpsertNode(Node{NodeID: pageNode, Type: NodePage}); err != nil {
			return nil, err
		}
		if err := repo.UpsertEdge(Edge{From: testNode, To: pageNode, Type: EdgeVisitsPage}); err != nil {
			return nil, err
		}
	}

	for _, componentID := range obs.UIComponents {
		componentNode := componentNodeID(componentID)
		if err := repo.UpsertNode(Node{NodeID: componentNode, Type: NodeUIComponent}); err != nil {
			return nil, err
		}
		if err := repo.UpsertEdge(Edge{From: testNode, To: componentNode, Type: EdgeTouchesComponent}); err != nil {
			return nil, err
		}
	}

	if obs.Feature != "" {
		featureNode := featureNodeID(obs.Feature)
		if err := repo.UpsertNode(Node{NodeID: featureNode, Type: NodeFeature}); err != nil {
			return nil, err
		}
		if err := repo.UpsertEdge(Edge{From: testNode, To: featureNode, Type: EdgeBelongsToFeature}); err != nil {
			return nil, err
		}
	}

	if !existed {
		return &drift.Signal{Type: drift.SignalNewTest, TargetID: obs.TestID, Severity: drift.SeverityModerate}, nil
	}
	return nil, nil
}
