package sqlexec

import (
	"regexp"
	"strings"

	"github.com/mesh-intelligence/baseline/pkg/types"
)

// identifier matches a possibly schema-qualified, possibly quoted name.
const identifier = `((?:[A-Za-z_][\w$]*|"[^"]+"|` + "`[^`]+`" + `|\[[^\]]+\])(?:\s*\.\s*(?:[A-Za-z_][\w$]*|"[^"]+"|` + "`[^`]+`" + `|\[[^\]]+\]))?)`

var (
	writePatterns = []struct {
		re   *regexp.Regexp
		kind types.OperationKind
	}{
		{regexp.MustCompile(`(?i)\binsert\s+(?:or\s+\w+\s+)?(?:ignore\s+)?into\s+` + identifier), types.OpInsert},
		{regexp.MustCompile(`(?i)\breplace\s+into\s+` + identifier), types.OpInsert},
		{regexp.MustCompile(`(?i)\bmerge\s+into\s+` + identifier), types.OpInsert},
		{regexp.MustCompile(`(?i)\bupdate\s+(?:or\s+\w+\s+)?(?:only\s+)?` + identifier), types.OpUpdate},
		{regexp.MustCompile(`(?i)\bdelete\s+from\s+(?:only\s+)?` + identifier), types.OpDelete},
		{regexp.MustCompile(`(?i)\btruncate\s+(?:table\s+)?(?:only\s+)?` + identifier), types.OpDelete},
	}
	readPattern = regexp.MustCompile(`(?i)\b(?:from|join)\s+` + identifier)

	// Clauses whose UPDATE/DELETE keyword does not name a table, including
	// trigger events (AFTER UPDATE ON t, INSTEAD OF DELETE ON t).
	nonTableClause   = regexp.MustCompile(`(?i)\b(?:for|do|key|on|before|after|of)\s+(?:update|delete)\b`)
	literalPattern   = regexp.MustCompile(`'(?:[^']|'')*'`)
	lineComment      = regexp.MustCompile(`--[^\n]*`)
	blockComment     = regexp.MustCompile(`(?s)/\*.*?\*/`)
	returningPattern = regexp.MustCompile(`(?i)\breturning\b`)
)

// keywords that can follow FROM or UPDATE without being a table.
var notTables = map[string]bool{
	"set": true, "select": true, "where": true, "only": true, "lateral": true,
	"unnest": true, "values": true, "dual": true, "on": true, "of": true,
}

func stripComments(s string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(s, " "), " ")
}

func stripLiterals(s string) string {
	return literalPattern.ReplaceAllString(s, "''")
}

// Classify returns the tables a statement touches. Each table appears once,
// as a write if any clause writes it, otherwise as a read. It is a lexical
// heuristic: tables reached through views, triggers or cascades are not seen.
func Classify(stmt string) []types.Access {
	clean := nonTableClause.ReplaceAllString(stripLiterals(stripComments(stmt)), " ")

	var out []types.Access
	index := make(map[types.TableName]int)
	add := func(raw string, kind types.OperationKind) {
		name := types.NormalizeTableName(raw)
		if name == "" || notTables[strings.ToLower(name.Base())] {
			return
		}
		if i, ok := index[name]; ok {
			if !out[i].Kind.IsWrite() && kind.IsWrite() {
				out[i].Kind = kind
			}
			return
		}
		index[name] = len(out)
		out = append(out, types.Access{Table: name, Kind: kind})
	}

	for _, p := range writePatterns {
		for _, m := range p.re.FindAllStringSubmatch(clean, -1) {
			add(m[1], p.kind)
		}
	}
	for _, m := range readPattern.FindAllStringSubmatch(clean, -1) {
		add(m[1], types.OpRead)
	}
	return out
}
