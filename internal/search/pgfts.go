package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches node names and paths with PostgreSQL full-text search.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "n.fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.FilterSiteID != "" {
		where += " AND n.site_id = $2"
		args = append(args, q.FilterSiteID)
	}

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) FROM nodes n WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT n.id, n.name, n.path, coalesce(n.site_id, ''),
			ts_headline('simple', n.path, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30')
		FROM nodes n
		WHERE %s
		ORDER BY ts_rank(n.fts, plainto_tsquery('simple', $1)) DESC, n.path
		LIMIT %d OFFSET %d`, where, limit, offset), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Path, &r.SiteID, &r.Snippet); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadNodes returns every node as an index record without annotations.
func (p *PgFTS) LoadNodes(ctx context.Context) ([]NodeRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, coalesce(site_id, ''), name, path, kind
		FROM nodes
		ORDER BY path
	`)
	if err != nil {
		return nil, fmt.Errorf("load nodes: %w", err)
	}
	defer rows.Close()

	records := make([]NodeRecord, 0)
	for rows.Next() {
		var rec NodeRecord
		if err := rows.Scan(&rec.ID, &rec.SiteID, &rec.Name, &rec.Path, &rec.Kind); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return records, nil
}
