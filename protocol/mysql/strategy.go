package mysql

import (
	"strings"

	"github.com/weibocom/breeze-sub003/ds/ring"
)

// Strategy extracts the routing key from a query. Full SQL parsing is out of
// bounds here: a strategy knows exactly one extraction rule and nothing else
// about the statement.
type Strategy interface {
	// Key returns the routing hash of the statement, ok=false when the rule
	// does not match.
	Key(query ring.Slice) (int64, bool)
}

// KeyEq extracts the first integer following "<column>=" (whitespace around
// '=' tolerated, ASCII case-insensitive column match). It covers the
// point-lookup statements the kv services issue.
type KeyEq struct {
	Column string
}

func (s KeyEq) Key(query ring.Slice) (int64, bool) {
	col := []byte(strings.ToLower(s.Column))
	n := query.Len()
	for i := 0; i+len(col) < n; i++ {
		if !query.EqualIgnoreCase(i, col) {
			continue
		}
		// Preceding byte must not continue an identifier.
		if i > 0 && isIdent(query.At(i-1)) {
			continue
		}
		j := i + len(col)
		for j < n && query.At(j) == ' ' {
			j++
		}
		if j >= n || query.At(j) != '=' {
			continue
		}
		j++
		for j < n && query.At(j) == ' ' {
			j++
		}
		v, end := query.Uint(j)
		if end > j {
			return int64(v), true
		}
	}
	return 0, false
}

func isIdent(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
