// Package search maintains a secondary full-text index over completed RCA
// reports. The index is derived data: losing it never loses reports, and it
// can be rebuilt from the durable store.
package search

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/agentops/agentops-core/internal/models"
	"github.com/agentops/agentops-core/pkg/logger"
)

// ReportDocument is the indexed projection of one report.
type ReportDocument struct {
	ReportID    string    `json:"report_id"`
	RCARunID    string    `json:"rca_run_id"`
	RunID       string    `json:"run_id"`
	Category    string    `json:"category"`
	Summary     string    `json:"summary"`
	Body        string    `json:"body"`
	GeneratedAt time.Time `json:"generated_at"`
}

// SearchHit is one search result with its relevance score.
type SearchHit struct {
	ReportID    string    `json:"report_id"`
	RCARunID    string    `json:"rca_run_id"`
	RunID       string    `json:"run_id"`
	Category    string    `json:"category"`
	Summary     string    `json:"summary"`
	GeneratedAt time.Time `json:"generated_at"`
	Score       float64   `json:"score"`
}

// SearchResult is a page of hits.
type SearchResult struct {
	Hits       []SearchHit   `json:"hits"`
	TotalCount uint64        `json:"total_count"`
	QueryTime  time.Duration `json:"query_time"`
}

// ReportIndex wraps a bleve index over RCA reports.
type ReportIndex struct {
	index  bleve.Index
	logger logger.Logger
}

func reportMapping() mapping.IndexMapping {
	doc := bleve.NewDocumentMapping()

	text := bleve.NewTextFieldMapping()
	doc.AddFieldMappingsAt("summary", text)
	doc.AddFieldMappingsAt("body", text)

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name
	doc.AddFieldMappingsAt("category", kw)
	doc.AddFieldMappingsAt("run_id", kw)
	doc.AddFieldMappingsAt("rca_run_id", kw)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// OpenReportIndex opens the index at path, creating it on first use.
func OpenReportIndex(path string, log logger.Logger) (*ReportIndex, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist || os.IsNotExist(err) {
		idx, err = bleve.New(path, reportMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open report index at %s: %w", path, err)
	}
	log.Info("report search index ready", "path", path)
	return &ReportIndex{index: idx, logger: log}, nil
}

// IndexReport adds or replaces one report in the index.
func (r *ReportIndex) IndexReport(report *models.RCAReport) error {
	doc := ReportDocument{
		ReportID:    report.ReportID,
		RCARunID:    report.RCARunID,
		RunID:       report.RunID,
		Category:    string(report.Category),
		GeneratedAt: report.GeneratedAt,
	}
	if report.TicketFields != nil {
		doc.Summary = report.TicketFields.Summary
		doc.Body = report.TicketFields.DescriptionMD
	}

	var extra strings.Builder
	for _, h := range report.Hypotheses {
		extra.WriteString(h.Title)
		extra.WriteString(" ")
		extra.WriteString(h.Description)
		extra.WriteString(" ")
	}
	for _, ev := range report.EvidenceIndex {
		extra.WriteString(ev.Title)
		extra.WriteString(" ")
		extra.WriteString(ev.Snippet)
		extra.WriteString(" ")
	}
	doc.Body += "\n" + extra.String()

	if err := r.index.Index(report.ReportID, doc); err != nil {
		return fmt.Errorf("index report %s: %w", report.ReportID, err)
	}
	return nil
}

// Search runs a query-string search, optionally constrained to one category.
func (r *ReportIndex) Search(queryString, category string, limit int) (*SearchResult, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var q query.Query = bleve.NewQueryStringQuery(queryString)
	if category != "" {
		catQuery := bleve.NewTermQuery(category)
		catQuery.SetField("category")
		q = bleve.NewConjunctionQuery(q, catQuery)
	}
	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = []string{"rca_run_id", "run_id", "category", "summary", "generated_at"}

	res, err := r.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("search reports: %w", err)
	}

	result := &SearchResult{
		Hits:       make([]SearchHit, 0, len(res.Hits)),
		TotalCount: res.Total,
		QueryTime:  res.Took,
	}
	for _, hit := range res.Hits {
		h := SearchHit{ReportID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["rca_run_id"].(string); ok {
			h.RCARunID = v
		}
		if v, ok := hit.Fields["run_id"].(string); ok {
			h.RunID = v
		}
		if v, ok := hit.Fields["category"].(string); ok {
			h.Category = v
		}
		if v, ok := hit.Fields["summary"].(string); ok {
			h.Summary = v
		}
		if v, ok := hit.Fields["generated_at"].(string); ok {
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				h.GeneratedAt = ts
			}
		}
		result.Hits = append(result.Hits, h)
	}
	return result, nil
}

// DocCount returns the number of indexed reports.
func (r *ReportIndex) DocCount() (uint64, error) {
	return r.index.DocCount()
}

// Close releases the underlying index.
func (r *ReportIndex) Close() error {
	return r.index.Close()
}
