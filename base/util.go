package base

import (
	"strconv"
	"strings"
)

var solrSpecialChars = strings.NewReplacer(
	`\`, `\\`, `+`, `\+`, `-`, `\-`, `&`, `\&`, `|`, `\|`, `!`, `\!`,
	`(`, `\(`, `)`, `\)`, `{`, `\{`, `}`, `\}`, `[`, `\[`, `]`, `\]`,
	`^`, `\^`, `"`, `\"`, `~`, `\~`, `*`, `\*`, `?`, `\?`, `:`, `\:`,
	`/`, `\/`,
)

// EscapeSolrTerm escapes the Lucene query syntax characters of a single term.
func EscapeSolrTerm(s string) string {
	return solrSpecialChars.Replace(s)
}

// ParseIDs parses numeric ids from comma separated values. Blank and invalid entries are skipped.
func ParseIDs(values ...string) (ids []int64) {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if id, err := strconv.ParseInt(part, 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// FormatID renders a numeric id the way it is stored in Solr's id field.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
