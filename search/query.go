package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"forum-search-backend/base"
	"forum-search-backend/metrics"

	"golang.org/x/exp/slices"
)

const (
	InTitles      = "titles"
	InPosts       = "posts"
	InTitlesPosts = "titlesposts"

	// IndexTopic is the topic index. Solr does its own relevancy sorting over posts,
	// so only the post index is served.
	IndexTopic = "topic"

	maxRows = 500
)

type Request struct {
	Term  string  `json:"term"`
	In    string  `json:"in,omitempty"`
	Index string  `json:"index,omitempty"`
	UIDs  []int64 `json:"uid,omitempty"`
	CIDs  []int64 `json:"cid,omitempty"`
	Start int     `json:"start,omitempty"`
	Rows  int     `json:"rows,omitempty"`
}

type Result struct {
	Pids  []int64 `json:"pids"`
	Tids  []int64 `json:"tids"`
	Total int64   `json:"total"`
}

func (r Request) key() string {
	return fmt.Sprintf("%s|%s|%v|%v|%d|%d", r.In, r.Term, r.UIDs, r.CIDs, r.Start, r.Rows)
}

// Search runs a dismax query over titles and/or post contents.
func (s *Service) Search(ctx context.Context, req Request) (res *Result, err error) {
	defer func() { metrics.SearchRequests.WithLabelValues(metrics.Status(err)).Inc() }()

	st := s.Settings()
	if !st.Enabled {
		return nil, ErrDisabled
	}
	if req.Index == IndexTopic {
		return &Result{Pids: []int64{}, Tids: []int64{}}, nil
	}
	req = s.normalize(req)
	return s.cache.get(st.Core+"|"+req.key(), func() (*Result, error) {
		return s.query(ctx, req)
	})
}

func (s *Service) normalize(req Request) Request {
	st := s.Settings()
	req.Term = strings.TrimSpace(req.Term)
	switch req.In {
	case InTitles, InPosts:
	default:
		req.In = InTitlesPosts
	}
	if req.Rows <= 0 {
		req.Rows = st.Rows
	}
	if req.Rows > maxRows {
		req.Rows = maxRows
	}
	if req.Start < 0 {
		req.Start = 0
	}
	req.UIDs = uniqueSorted(req.UIDs)
	req.CIDs = uniqueSorted(req.CIDs)
	return req
}

func (s *Service) query(ctx context.Context, req Request) (*Result, error) {
	resp, err := s.client.Select(ctx, s.queryParams(req))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("solr query failed: %s", resp.Error.Msg)
	}
	res := &Result{Pids: []int64{}, Tids: []int64{}, Total: resp.Response.NumFound}
	for _, doc := range resp.Response.Docs {
		pid, ok := intValue(doc[fieldID])
		if !ok {
			continue
		}
		res.Pids = append(res.Pids, pid)
		if tid, ok := intValue(doc[fieldTid]); ok && !slices.Contains(res.Tids, tid) {
			res.Tids = append(res.Tids, tid)
		}
	}
	return res, nil
}

func (s *Service) queryParams(req Request) url.Values {
	st := s.Settings()
	var qf []string
	if req.In != InPosts {
		qf = append(qf, fmt.Sprintf("%s^%s", st.TitleField, strconv.FormatFloat(st.TitleBoost, 'f', -1, 64)))
	}
	if req.In != InTitles {
		qf = append(qf, fmt.Sprintf("%s^%s", st.ContentField, strconv.FormatFloat(st.ContentBoost, 'f', -1, 64)))
	}
	params := url.Values{
		"defType": {"dismax"},
		"qf":      {strings.Join(qf, " ")},
		"fl":      {fieldID + "," + fieldTid},
		"start":   {strconv.Itoa(req.Start)},
		"rows":    {strconv.Itoa(req.Rows)},
	}
	if req.Term != "" {
		params.Set("q", base.EscapeSolrTerm(req.Term))
	} else {
		// filters only, e.g. all posts of a user
		params.Set("q.alt", "*:*")
	}
	if fq := filterQuery(fieldUid, req.UIDs); fq != "" {
		params.Add("fq", fq)
	}
	if fq := filterQuery(fieldCid, req.CIDs); fq != "" {
		params.Add("fq", fq)
	}
	return params
}

// filterQuery ORs ids of one kind. Separate filter queries are ANDed by Solr.
func filterQuery(field string, ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	terms := make([]string, 0, len(ids))
	for _, id := range ids {
		terms = append(terms, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("%s:(%s)", field, strings.Join(terms, " OR "))
}

func uniqueSorted(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func intValue(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []any:
		if len(n) == 1 {
			return intValue(n[0])
		}
	}
	return 0, false
}
