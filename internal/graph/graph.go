// Package graph mirrors the catalog hierarchy into Neo4j and serves the
// view-only node browser.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"edu-data-console/internal/logger"
	"edu-data-console/internal/mapid"
	"edu-data-console/models"
)

var (
	ErrLabelNotAllowed    = errors.New("label not allowed")
	ErrRelationNotAllowed = errors.New("relation not allowed")
	ErrNodeNotFound       = errors.New("node not found")
	ErrInvalidPage        = errors.New("limit must be 1..2000 and skip >= 0")
)

const MaxNodesPage = 2000

// UnavailableError marks failures caused by the graph database being
// unreachable.
type UnavailableError struct {
	Op  string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("graph store unavailable during %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error     { return e.Err }
func (e *UnavailableError) Unavailable() bool { return true }

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var connErr *neo4j.ConnectivityError
	if errors.As(err, &connErr) || errors.Is(err, context.DeadlineExceeded) {
		return &UnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Client runs mirror writes and browse queries against one database.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
}

func New(driver neo4j.DriverWithContext, database string) *Client {
	return &Client{Driver: driver, Database: database}
}

// Ping checks the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return classify("ping", c.Driver.VerifyConnectivity(ctx))
}

// Labels allowed in node and edge statements. Labels and relation types are
// interpolated into Cypher, so nothing outside these sets is accepted.
var AllowedLabels = []string{"Class", "Subject", "Topic", "Lesson", "Chunk", "Keyword"}

func levelForLabel(label string) (mapid.Level, bool) {
	for l := mapid.LevelClass; l <= mapid.LevelKeyword; l++ {
		if l.Label() == label {
			return l, true
		}
	}
	return 0, false
}

func checkLabel(label string) error {
	if _, ok := levelForLabel(label); !ok {
		return fmt.Errorf("%w: %q", ErrLabelNotAllowed, label)
	}
	return nil
}

func checkRelation(rel string) error {
	for l := mapid.LevelSubject; l <= mapid.LevelKeyword; l++ {
		if l.Relation() == rel {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrRelationNotAllowed, rel)
}

func (c *Client) write(ctx context.Context, op string, fn neo4j.ManagedTransactionWork) (any, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, fn)
	return out, classify(op, err)
}

func (c *Client) read(ctx context.Context, op string, fn neo4j.ManagedTransactionWork) (any, error) {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, fn)
	return out, classify(op, err)
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) error {
	res, err := tx.Run(ctx, query, params)
	if err != nil {
		return err
	}
	_, err = res.Consume(ctx)
	return err
}

// MergeNode creates or updates the node with the given id, replacing the
// supplied properties. Empty property values are skipped.
func (c *Client) MergeNode(ctx context.Context, label, id string, props map[string]any) error {
	if err := checkLabel(label); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("merge %s: empty id", label)
	}
	clean := cleanProps(props)
	clean["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	query := fmt.Sprintf("MERGE (n:%s {id: $id})\nSET n += $props", label)
	_, err := c.write(ctx, "merge "+label, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, query, map[string]any{"id": id, "props": clean})
	})
	return err
}

// MergeEdge links from -> to with relation, creating stub endpoints when
// missing. Any edge of the same relation into to from a different parent is
// removed first so every child keeps exactly one parent.
func (c *Client) MergeEdge(ctx context.Context, from, to models.NodeRef, relation string) error {
	if err := checkLabel(from.Label); err != nil {
		return err
	}
	if err := checkLabel(to.Label); err != nil {
		return err
	}
	if err := checkRelation(relation); err != nil {
		return err
	}
	if from.ID == "" || to.ID == "" {
		return fmt.Errorf("merge %s: empty endpoint", relation)
	}

	query := fmt.Sprintf(`
MERGE (p:%[1]s {id: $from})
MERGE (c:%[2]s {id: $to})
WITH p, c
OPTIONAL MATCH (old:%[1]s)-[r:%[3]s]->(c)
WHERE old <> p
DELETE r
WITH DISTINCT p, c
MERGE (p)-[:%[3]s]->(c)
`, from.Label, to.Label, relation)

	_, err := c.write(ctx, "merge "+relation, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, run(ctx, tx, query, map[string]any{"from": from.ID, "to": to.ID})
	})
	return err
}

// PruneKeywords drops HAS_KEYWORD edges from the chunk to keywords not in
// keep, then deletes keywords left without any chunk.
func (c *Client) PruneKeywords(ctx context.Context, chunkID string, keep []string) error {
	if keep == nil {
		keep = []string{}
	}
	_, err := c.write(ctx, "prune keywords", func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (:Chunk {id: $chunk})-[r:HAS_KEYWORD]->(k:Keyword)
WHERE NOT k.id IN $keep
DELETE r
RETURN collect(DISTINCT k.id) AS dropped
`, map[string]any{"chunk": chunkID, "keep": keep})
		if err != nil {
			return nil, err
		}
		rec, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		dropped, _ := rec.Get("dropped")
		return nil, run(ctx, tx, `
MATCH (k:Keyword)
WHERE k.id IN $dropped AND NOT ()-[:HAS_KEYWORD]->(k)
DETACH DELETE k
`, map[string]any{"dropped": dropped})
	})
	return err
}

// EnsureConstraints creates the per-label id uniqueness constraints.
// Failures are logged and skipped.
func (c *Client) EnsureConstraints(ctx context.Context) error {
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	for _, label := range AllowedLabels {
		q := fmt.Sprintf("CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(label), label)
		res, err := session.Run(ctx, q, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			if ce := classify("constraints", err); isUnavailable(ce) {
				return ce
			}
			logger.Warn("neo4j constraint init failed (continuing)", "label", label, "error", err)
		}
	}
	return nil
}

func isUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

func cleanProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props)+1)
	for k, v := range props {
		if k == "id" {
			continue
		}
		switch x := v.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(x) == "" {
				continue
			}
		}
		out[k] = v
	}
	return out
}
