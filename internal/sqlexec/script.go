package sqlexec

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/mesh-intelligence/baseline/internal/dialect"
)

// SplitStatements splits a script on semicolons that are outside quotes and
// comments. Empty and comment-only statements are dropped.
func SplitStatements(script string) []string {
	var (
		out     []string
		cur     strings.Builder
		content bool
	)
	flush := func() {
		if content {
			out = append(out, strings.TrimSpace(cur.String()))
		}
		cur.Reset()
		content = false
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(script, i, c)
			cur.WriteString(script[i:end])
			content = true
			i = end - 1
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			cur.WriteString(script[i : i+end])
			i += end - 1
		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				end = len(script)
			} else {
				end = i + 2 + end + 2
			}
			cur.WriteString(script[i:end])
			i = end - 1
		case c == ';':
			flush()
		default:
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				content = true
			}
			cur.WriteByte(c)
		}
	}
	flush()
	return out
}

// closingQuote returns the index just past the quote that closes the one at
// start. A doubled quote character is an escaped quote.
func closingQuote(s string, start int, q byte) int {
	for i := start + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// ScriptError reports which statement of a script failed.
type ScriptError struct {
	Source    string
	Index     int
	Statement string
	Err       error
}

func (e *ScriptError) Error() string {
	stmt := e.Statement
	if len(stmt) > 80 {
		stmt = stmt[:77] + "..."
	}
	return fmt.Sprintf("%s: statement %d (%s): %v", e.Source, e.Index+1, stmt, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// RunScript executes every statement of script in order and stops at the
// first failure.
func RunScript(ctx context.Context, q dialect.Querier, source, script string) error {
	for i, stmt := range SplitStatements(script) {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return &ScriptError{Source: source, Index: i, Statement: stmt, Err: err}
		}
	}
	return nil
}

// RunFiles reads and runs each file in order.
func RunFiles(ctx context.Context, q dialect.Querier, paths ...string) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		if err := RunScript(ctx, q, p, string(data)); err != nil {
			return err
		}
	}
	return nil
}
