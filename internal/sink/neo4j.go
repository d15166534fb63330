package sink

import (
	"context"
	"fmt"

	"github.com/nao1215/pdfcrawl/internal/model"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// cypherRunner executes single write queries.
type cypherRunner interface {
	Write(ctx context.Context, query string, params map[string]any) error
	Close(ctx context.Context) error
}

// Neo4jSink records the link graph of each run:
//
//	(:Run {id})-[:SEEDED]->(:Page {url})
//	(:Page {url})-[:LINKS_TO {run_id}]->(:PDF {url})
//
// PDF nodes carry the latest status, size and checksum.
type Neo4jSink struct {
	runner cypherRunner
}

// NewNeo4jSink connects to the Neo4j server at uri with basic auth.
func NewNeo4jSink(uri, user, password string) (*Neo4jSink, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j: failed to create driver: %w", err)
	}
	return &Neo4jSink{runner: &driverRunner{driver: driver}}, nil
}

// Publish implements Sink.
func (s *Neo4jSink) Publish(ctx context.Context, ev model.Event) error {
	var (
		query  string
		params map[string]any
	)
	switch {
	case ev.Record != nil:
		query, params = buildRecordQuery(ev.RunID, *ev.Record)
	case ev.Status != nil:
		query, params = buildRunQuery(*ev.Status)
	default:
		return nil
	}
	if err := s.runner.Write(ctx, query, params); err != nil {
		return fmt.Errorf("neo4j: failed to write %s event: %w", ev.Kind, err)
	}
	return nil
}

// Close closes the driver.
func (s *Neo4jSink) Close() error {
	return s.runner.Close(context.Background())
}

func buildRecordQuery(runID string, rec model.PDFRecord) (string, map[string]any) {
	query := "MERGE (p:Page {url: $source}) " +
		"MERGE (d:PDF {url: $url}) " +
		"SET d.filename = $filename, d.status = $status, d.content_type = $content_type, " +
		"d.checksum = $checksum, d.size = $size " +
		"MERGE (p)-[r:LINKS_TO {run_id: $run_id}]->(d)"

	var size any
	if rec.Size != nil {
		size = *rec.Size
	}
	return query, map[string]any{
		"source":       rec.SourceURL,
		"url":          rec.URL,
		"filename":     rec.Filename,
		"status":       string(rec.Status),
		"content_type": rec.ContentType,
		"checksum":     rec.Checksum,
		"size":         size,
		"run_id":       runID,
	}
}

func buildRunQuery(st model.CrawlStatus) (string, map[string]any) {
	query := "MERGE (r:Run {id: $run_id}) " +
		"SET r.state = $state, r.max_depth = $max_depth, r.urls_processed = $urls_processed, " +
		"r.pdfs_found = $pdfs_found, r.error = $error " +
		"MERGE (s:Page {url: $seed}) " +
		"MERGE (r)-[:SEEDED]->(s)"

	return query, map[string]any{
		"run_id":         st.RunID,
		"state":          string(st.State),
		"max_depth":      st.MaxDepth,
		"urls_processed": st.URLsProcessed,
		"pdfs_found":     st.PDFsFound,
		"error":          st.Error,
		"seed":           st.SeedURL,
	}
}

// driverRunner runs queries in managed write transactions.
type driverRunner struct {
	driver neo4j.DriverWithContext
}

func (d *driverRunner) Write(ctx context.Context, query string, params map[string]any) error {
	session := d.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx) //nolint:errcheck // the write result is what matters

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, query, params)
		return nil, err
	})
	return err
}

func (d *driverRunner) Close(ctx context.Context) error {
	return d.driver.Close(ctx)
}
