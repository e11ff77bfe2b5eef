package factory

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tbnorth/tattle/internal/history"
	"github.com/tbnorth/tattle/internal/history/clickhouse"
	"github.com/tbnorth/tattle/internal/history/opensearch"
)

// NewFromURL builds a history sink from a URL-ish spec:
//   - "clickhouse://host:9000/table"
//   - "opensearch://host:9200/index" (https via "opensearchs://")
func NewFromURL(spec string) (history.Sink, error) {
	s := strings.TrimSpace(spec)
	if s == "" {
		return nil, errors.New("empty history sink URL")
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("parse history sink URL: %w", err)
	}
	target := strings.Trim(u.Path, "/")
	switch u.Scheme {
	case "clickhouse":
		if target == "" {
			target = "tattle_reports"
		}
		return clickhouse.New(u.Host, target)
	case "opensearch", "opensearchs":
		scheme := "http"
		if u.Scheme == "opensearchs" {
			scheme = "https"
		}
		if target == "" {
			target = "tattle-reports"
		}
		return opensearch.New(scheme+"://"+u.Host, target), nil
	default:
		return nil, fmt.Errorf("unsupported history sink scheme %q", u.Scheme)
	}
}
