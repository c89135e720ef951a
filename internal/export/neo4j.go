package export

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4j runs statements against a Neo4j database
type Neo4j struct {
	driver neo4j.DriverWithContext
}

// Connect opens a driver and verifies the server is reachable
func Connect(ctx context.Context, uri, user, password string) (*Neo4j, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("neo4j %s: %w", uri, err)
	}
	return &Neo4j{driver: driver}, nil
}

// Run executes one statement and discards its result
func (n *Neo4j) Run(ctx context.Context, cypher string, params map[string]any) error {
	_, err := neo4j.ExecuteQuery(ctx, n.driver, cypher, params, neo4j.EagerResultTransformer)
	return err
}

// Close releases the driver
func (n *Neo4j) Close(ctx context.Context) error {
	return n.driver.Close(ctx)
}
