package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/sn3fru/silvanews-sub001/internal/model"
)

// FeedFilter narrows the cluster feed. Zero values mean "no filter";
// Day defaults to today. IRRELEVANT clusters only appear when asked for
// explicitly via Priority.
type FeedFilter struct {
	Day        time.Time
	Priority   model.Priority
	Tag        string
	SourceType model.SourceType
	Page       int
	PerPage    int
}

// FeedPage is one page of the cluster feed plus pagination totals.
type FeedPage struct {
	Clusters []model.Cluster `json:"clusters"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PerPage  int             `json:"per_page"`
}

const defaultPerPage = 25

// Feed returns the clusters updated on the filter's day, P1 first, score
// descending within a tier, paginated.
func (s *Store) Feed(f FeedFilter) (*FeedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f.PerPage <= 0 {
		f.PerPage = defaultPerPage
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	day := f.Day
	if day.IsZero() {
		day = time.Now()
	}
	start, end := dayBounds(day)

	where := sq.And{
		sq.GtOrEq{"updated_at": start},
		sq.Lt{"updated_at": end},
		sq.Eq{"status": string(model.ClusterActive)},
	}
	if f.Priority != "" {
		where = append(where, sq.Eq{"priority": string(f.Priority)})
	} else {
		where = append(where, sq.NotEq{"priority": string(model.PriorityIrrelevant)})
	}
	if f.Tag != "" {
		where = append(where, sq.Eq{"tag": f.Tag})
	}
	if f.SourceType != "" {
		where = append(where, sq.Eq{"source_type": string(f.SourceType)})
	}

	countSQL, countArgs, err := sq.Select("COUNT(*)").From("clusters").Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	var total int
	if err := s.db.QueryRow(countSQL, countArgs...).Scan(&total); err != nil {
		return nil, err
	}

	querySQL, queryArgs, err := sq.
		Select("id", "title", "summary", "tag", "priority", "score", "subject_key",
			"status", "source_type", "doc_count", "mean_embedding", "created_at", "updated_at").
		From("clusters").
		Where(where).
		OrderBy("CASE priority WHEN 'P1' THEN 0 WHEN 'P2' THEN 1 WHEN 'P3' THEN 2 ELSE 3 END",
			"score DESC", "updated_at DESC").
		Limit(uint64(f.PerPage)).
		Offset(uint64((f.Page - 1) * f.PerPage)).
		ToSql()
	if err != nil {
		return nil, err
	}

	clusters, err := s.queryClusters(querySQL, queryArgs...)
	if err != nil {
		return nil, err
	}

	return &FeedPage{
		Clusters: clusters,
		Total:    total,
		Page:     f.Page,
		PerPage:  f.PerPage,
	}, nil
}
