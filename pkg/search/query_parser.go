package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/juju/errors"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// ParsedQuery is a search request after the query string and the URL
// parameters have been merged.
type ParsedQuery struct {
	// Free-text keywords, matched against the search vector
	Keywords []string

	Namespaces     []string
	Names          []string
	Tags           []string
	Platforms      []string
	CloudPlatforms []string
	ContentTypes   []string

	// Deprecated defaults to false: deprecated items are hidden unless asked for
	Deprecated *bool
	Vendor     *bool

	// OrderBy is a validated order key, optionally prefixed with "-"
	OrderBy string
	Page    models.PageRequest

	// Original query string
	Raw string
}

// Order keys accepted by order_by.
const (
	OrderRelevance      = "relevance"
	OrderDownloadCount  = "download_count"
	OrderName           = "name"
	OrderNamespace      = "namespace"
	OrderQualityScore   = "quality_score"
	OrderCommunityScore = "community_score"
	OrderCreated        = "created"
	OrderModified       = "modified"
)

// DefaultOrder puts the most relevant results first.
const DefaultOrder = "-" + OrderRelevance

var orderKeys = map[string]bool{
	OrderRelevance:      true,
	OrderDownloadCount:  true,
	OrderName:           true,
	OrderNamespace:      true,
	OrderQualityScore:   true,
	OrderCommunityScore: true,
	OrderCreated:        true,
	OrderModified:       true,
}

// ValidateOrder checks an order_by value and returns it normalized. An empty
// value yields DefaultOrder.
func ValidateOrder(orderBy string) (string, error) {
	orderBy = strings.TrimSpace(orderBy)
	if orderBy == "" {
		return DefaultOrder, nil
	}
	if !orderKeys[strings.TrimPrefix(orderBy, "-")] {
		return "", errors.WithType(
			fmt.Errorf("Invalid order_by %q. Choose one of: relevance, download_count, name, namespace, quality_score, community_score, created, modified.", orderBy),
			errors.NotValid)
	}
	return orderBy, nil
}

// splitOrder returns the order key and whether it sorts descending.
func splitOrder(orderBy string) (string, bool) {
	if strings.HasPrefix(orderBy, "-") {
		return orderBy[1:], true
	}
	return orderBy, false
}

// QueryParser parses free text mixed with key:value filters, for example
//
//	nginx tag:web platform:EL namespace:"geerlingguy"
type QueryParser struct {
	filterPattern *regexp.Regexp
}

// NewQueryParser creates a new query parser
func NewQueryParser() *QueryParser {
	// key:value or key:"quoted value"
	return &QueryParser{
		filterPattern: regexp.MustCompile(`([\w-]+):("([^"]+)"|(\S+))`),
	}
}

// Parse parses a search string. Unknown filter keys are kept as keywords.
func (p *QueryParser) Parse(queryStr string) (*ParsedQuery, error) {
	q := &ParsedQuery{
		Raw:     queryStr,
		OrderBy: DefaultOrder,
		Page:    models.NewPageRequest(1, models.DefaultPageSize),
	}

	for _, match := range p.filterPattern.FindAllStringSubmatch(queryStr, -1) {
		value := match[3]
		if value == "" {
			value = match[4]
		}
		if err := p.parseFilter(q, match[1], value); err != nil {
			return nil, err
		}
	}

	for _, term := range strings.Fields(p.filterPattern.ReplaceAllString(queryStr, " ")) {
		q.addKeyword(term)
	}
	return q, nil
}

// addKeyword keeps term with tsquery operators stripped, so every engine
// matches the same words and a term of operators alone is no keyword.
func (q *ParsedQuery) addKeyword(term string) {
	term = strings.ToLower(tsQuerySpecial.Replace(strings.TrimSpace(term)))
	if term == "" {
		return
	}
	for _, k := range q.Keywords {
		if k == term {
			return
		}
	}
	q.Keywords = append(q.Keywords, term)
}

func (p *QueryParser) parseFilter(q *ParsedQuery, key, value string) error {
	switch strings.ToLower(strings.ReplaceAll(key, "-", "_")) {
	case "namespace", "namespaces":
		q.Namespaces = appendLower(q.Namespaces, value)
	case "name", "names":
		q.Names = appendLower(q.Names, value)
	case "tag", "tags":
		q.Tags = appendLower(q.Tags, value)
	case "platform", "platforms":
		q.Platforms = appendLower(q.Platforms, value)
	case "cloud_platform", "cloud_platforms":
		q.CloudPlatforms = appendLower(q.CloudPlatforms, value)
	case "type", "content_type", "content_types":
		q.ContentTypes = appendLower(q.ContentTypes, value)
	case "deprecated":
		b, err := parseFlag("deprecated", value)
		if err != nil {
			return err
		}
		q.Deprecated = b
	case "vendor":
		b, err := parseFlag("vendor", value)
		if err != nil {
			return err
		}
		q.Vendor = b
	default:
		q.addKeyword(key + ":" + value)
	}
	return nil
}

// Merge folds URL parameters into q. List parameters accept repeated keys
// and comma separated values; keywords is an alias for free text.
func (q *ParsedQuery) Merge(params map[string][]string) error {
	list := func(key string) []string {
		var out []string
		for _, raw := range params[key] {
			for _, v := range strings.Split(raw, ",") {
				if v = strings.TrimSpace(v); v != "" {
					out = append(out, v)
				}
			}
		}
		return out
	}

	for _, k := range list("keywords") {
		for _, term := range strings.Fields(k) {
			q.addKeyword(term)
		}
	}
	q.Namespaces = appendLower(q.Namespaces, list("namespaces")...)
	q.Namespaces = appendLower(q.Namespaces, list("namespace")...)
	q.Names = appendLower(q.Names, list("names")...)
	q.Names = appendLower(q.Names, list("name")...)
	q.Tags = appendLower(q.Tags, list("tags")...)
	q.Tags = appendLower(q.Tags, list("tag")...)
	q.Platforms = appendLower(q.Platforms, list("platforms")...)
	q.Platforms = appendLower(q.Platforms, list("platform")...)
	q.CloudPlatforms = appendLower(q.CloudPlatforms, list("cloud_platforms")...)
	q.CloudPlatforms = appendLower(q.CloudPlatforms, list("cloud_platform")...)
	q.ContentTypes = appendLower(q.ContentTypes, list("content_types")...)
	q.ContentTypes = appendLower(q.ContentTypes, list("type")...)

	for key, dst := range map[string]**bool{"deprecated": &q.Deprecated, "vendor": &q.Vendor} {
		if v := first(params[key]); v != "" {
			b, err := parseFlag(key, v)
			if err != nil {
				return err
			}
			*dst = b
		}
	}

	if v, ok := params["order_by"]; ok {
		order, err := ValidateOrder(first(v))
		if err != nil {
			return err
		}
		q.OrderBy = order
	}
	return nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

func appendLower(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == v {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, v)
		}
	}
	return dst
}

func parseFlag(key, value string) (*bool, error) {
	switch strings.ToLower(value) {
	case "yes", "y", "on":
		value = "true"
	case "no", "n", "off":
		value = "false"
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return nil, errors.WithType(fmt.Errorf("Invalid value %q for %s, expected true or false.", value, key), errors.NotValid)
	}
	return &b, nil
}

// IncludeDeprecated reports whether deprecated items belong in the result.
func (q *ParsedQuery) IncludeDeprecated() bool {
	return q.Deprecated != nil && *q.Deprecated
}

// ToTsQuery renders the keywords as a prefix-matching tsquery, every
// keyword required: "nginx:* & proxy:*".
func (q *ParsedQuery) ToTsQuery() string {
	parts := make([]string, 0, len(q.Keywords))
	for _, k := range q.Keywords {
		if s := sanitizeTsQueryTerm(k); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " & ")
}

var tsQuerySpecial = strings.NewReplacer("'", "", "\\", "", "&", "", "|", "", "!", "", "(", "", ")", "", ":", "", "*", "", "<", "", ">", "")

func sanitizeTsQueryTerm(term string) string {
	term = tsQuerySpecial.Replace(strings.TrimSpace(term))
	if term == "" {
		return ""
	}
	return term + ":*"
}

// HasFilters reports whether anything other than keywords narrows the search.
func (q *ParsedQuery) HasFilters() bool {
	return len(q.Namespaces) > 0 ||
		len(q.Names) > 0 ||
		len(q.Tags) > 0 ||
		len(q.Platforms) > 0 ||
		len(q.CloudPlatforms) > 0 ||
		len(q.ContentTypes) > 0 ||
		q.Deprecated != nil ||
		q.Vendor != nil
}

// String returns a compact description used in logs and span attributes.
func (q *ParsedQuery) String() string {
	parts := make([]string, 0)
	add := func(key string, v []string) {
		if len(v) > 0 {
			parts = append(parts, fmt.Sprintf("%s:%v", key, v))
		}
	}
	add("keywords", q.Keywords)
	add("namespace", q.Namespaces)
	add("name", q.Names)
	add("tag", q.Tags)
	add("platform", q.Platforms)
	add("cloud_platform", q.CloudPlatforms)
	add("type", q.ContentTypes)
	if q.Deprecated != nil {
		parts = append(parts, fmt.Sprintf("deprecated:%t", *q.Deprecated))
	}
	if q.Vendor != nil {
		parts = append(parts, fmt.Sprintf("vendor:%t", *q.Vendor))
	}
	parts = append(parts, "order_by:"+q.OrderBy)
	return strings.Join(parts, ", ")
}
