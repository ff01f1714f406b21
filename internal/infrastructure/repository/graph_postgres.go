package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"crossbridge/internal/domain/graph"
)

// GraphRepository implements graph.Repository against Postgres, using
// GORM's upsert clause to satisfy the idempotence invariant: a conflict on
// the primary/unique key bumps observation_count and last_seen instead of
// inserting a duplicate row.
type GraphRepository struct {
	db *gorm.DB
}

// NewGraphRepository constructs a GraphRepository over db.
func NewGraphRepository(db *gorm.DB) *GraphRepository {
	return &GraphRepository{db: db}
}

func (r *GraphRepository) UpsertNode(n graph.Node) error {
	now := time.Now().UTC()
	row := graphNodeRow{NodeID: n.NodeID, Type: string(n.Type), ObservationCount: 1, LastSeen: now, CreatedAt: now}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "node_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"observation_count": gorm.Expr("coverage_nodes.observation_count + 1"),
			"last_seen":         now,
		}),
	}).Create(&row).Error
}

func (r *GraphRepository) UpsertEdge(e graph.Edge) error {
	now := time.Now().UTC()
	row := graphEdgeRow{FromNode: e.From, ToNode: e.To, EdgeType: string(e.Type), ObservationCount: 1, LastSeen: now, CreatedAt: now}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "from_node"}, {Name: "to_node"}, {Name: "edge_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"observation_count": gorm.Expr("coverage_edges.observation_count + 1"),
			"last_seen":         now,
		}),
	}).Create(&row).Error
}

func (r *GraphRepository) NodeExists(nodeID string) (bool, error) {
	var count int64
	if err := r.db.Model(&graphNodeRow{}).Where("node_id = ?", nodeID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
