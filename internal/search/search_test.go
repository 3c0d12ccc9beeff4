package search

import (
	"context"
	"encoding/json"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHitToResultPrefersHighlightedFields(t *testing.T) {
	hit := meili.Hit{
		"id":       json.RawMessage(`"node_1"`),
		"name":     json.RawMessage(`"report.txt"`),
		"path":     json.RawMessage(`"/Sites/s1/documentLibrary/report.txt"`),
		"siteId":   json.RawMessage(`"s1"`),
		"comments": json.RawMessage(`["v2","v1"]`),
		"_formatted": json.RawMessage(`{
			"name": "<mark>report</mark>.txt",
			"comments": ["v2", "<mark>v1</mark>"]
		}`),
	}

	r := hitToResult(hit)
	require.Equal(t, "node_1", r.ID)
	require.Equal(t, "<mark>report</mark>.txt", r.Name)
	require.Equal(t, "/Sites/s1/documentLibrary/report.txt", r.Path)
	require.Equal(t, "s1", r.SiteID)
	require.Equal(t, "<mark>v1</mark>", r.Snippet)
}

func TestHitToResultFallsBackToStoredFields(t *testing.T) {
	hit := meili.Hit{
		"id":       json.RawMessage(`"node_2"`),
		"name":     json.RawMessage(`"plan.doc"`),
		"comments": json.RawMessage(`["latest","older"]`),
	}

	r := hitToResult(hit)
	require.Equal(t, "plan.doc", r.Name)
	require.Equal(t, "latest", r.Snippet)
	require.Empty(t, r.SiteID)
}

func TestServiceWithoutBackendsReturnsEmptyResults(t *testing.T) {
	svc := NewService(nil, nil, zap.NewNop())

	resp := svc.Search(context.Background(), Query{Text: "report"})
	require.Equal(t, "report", resp.Query)
	require.NotNil(t, resp.Results)
	require.Empty(t, resp.Results)

	svc.IndexNode(NodeRecord{ID: "node_1"})

	records, err := svc.LoadNodes(context.Background())
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, svc.IndexNodes([]NodeRecord{{ID: "node_1", Tags: []string{"draft"}}}))
}

func TestPgFTSBlankQueryMatchesNothing(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(context.Background(), Query{Text: "   "})
	require.NoError(t, err)
	require.Zero(t, total)
	require.Empty(t, results)
}
