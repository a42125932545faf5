// Package guard turns a model-produced SELECT candidate into a statement that
// can only read rows the caller is entitled to see.
package guard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/schema"
)

// ErrIsolationViolation reports a result row whose tenant value differs from
// the caller's tenant. Callers must discard the result.
var ErrIsolationViolation = errors.New("tenant isolation violation")

type Reason string

const (
	ReasonEmpty              Reason = "empty"
	ReasonNotSelect          Reason = "not_select"
	ReasonMultipleStatements Reason = "multiple_statements"
	ReasonForbiddenKeyword   Reason = "forbidden_keyword"
	ReasonForbiddenFunction  Reason = "forbidden_function"
	ReasonPlaceholder        Reason = "placeholder"
	ReasonUnterminated       Reason = "unterminated"
	ReasonUnsupportedLiteral Reason = "unsupported_literal"
	ReasonUnsupportedSyntax  Reason = "unsupported_syntax"
	ReasonUnknownRelation    Reason = "unknown_relation"
)

type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("query rejected (%s)", e.Reason)
	}
	return fmt.Sprintf("query rejected (%s): %s", e.Reason, e.Detail)
}

func reject(reason Reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Scope is the row visibility of one caller. It is derived once per session
// from the authenticated identity.
type Scope struct {
	TenantID     string
	Unrestricted bool
}

func ScopeFor(identity auth.Identity) Scope {
	if identity.IsAdmin() {
		return Scope{TenantID: auth.AllTenants, Unrestricted: true}
	}
	return Scope{TenantID: identity.TenantID}
}

// Dialect describes how a storage engine spells bound parameters and where
// it keeps the incident table.
type Dialect struct {
	Name string
	// Numbered selects $n placeholders instead of ?.
	Numbered bool
	// Schema qualifies the incident table for the tenant shadow. Empty means
	// the engine itself only exposes the caller's rows.
	Schema string
}

var (
	DialectPostgres = Dialect{Name: "postgres", Numbered: true, Schema: "public"}
	DialectSQLite   = Dialect{Name: "sqlite", Schema: "main"}
	DialectDuckDB   = Dialect{Name: "duckdb", Numbered: true}
)

func (d Dialect) Placeholder(n int) string {
	if !d.Numbered {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

func (d Dialect) String() string {
	return d.Name
}

// EnforcedQuery is the only form of SQL the executor accepts. Tenant values
// travel in Args, never in SQL text.
type EnforcedQuery struct {
	SQL         string
	Args        []any
	Candidate   string
	Scope       Scope
	Identifiers []string
}

type Enforcer struct {
	registry *schema.Registry
	dialect  Dialect
}

func NewEnforcer(registry *schema.Registry, dialect Dialect) (*Enforcer, error) {
	if registry == nil {
		return nil, fmt.Errorf("schema registry is required")
	}
	return &Enforcer{registry: registry, dialect: dialect}, nil
}

var forbiddenKeywords = map[string]struct{}{
	"insert": {}, "update": {}, "delete": {}, "drop": {}, "alter": {}, "create": {},
	"truncate": {}, "attach": {}, "detach": {}, "copy": {}, "pragma": {}, "grant": {},
	"revoke": {}, "vacuum": {}, "merge": {}, "call": {}, "install": {}, "load": {},
	"export": {}, "import": {}, "set": {}, "table": {}, "with": {}, "recursive": {},
	"into": {}, "upsert": {}, "reindex": {}, "analyze": {}, "checkpoint": {},
	"pivot": {}, "unpivot": {}, "describe": {}, "summarize": {}, "show": {}, "explain": {},
	"begin": {}, "commit": {}, "rollback": {}, "savepoint": {}, "release": {}, "execute": {},
	"prepare": {}, "deallocate": {}, "listen": {}, "notify": {}, "lock": {}, "do": {},
}

// Functions a candidate may call. Anything else, including every function
// that reads files, settings or whole relations by name, is rejected.
var allowedFunctions = map[string]struct{}{
	// aggregates
	"count": {}, "sum": {}, "avg": {}, "min": {}, "max": {}, "total": {}, "median": {},
	"mode": {}, "group_concat": {}, "string_agg": {}, "array_agg": {}, "any_value": {},
	"stddev": {}, "stddev_pop": {}, "stddev_samp": {}, "variance": {}, "var_pop": {},
	"var_samp": {}, "percentile_cont": {}, "percentile_disc": {}, "bool_and": {},
	"bool_or": {}, "count_if": {},
	// window
	"row_number": {}, "rank": {}, "dense_rank": {}, "percent_rank": {}, "cume_dist": {},
	"ntile": {}, "lag": {}, "lead": {}, "first_value": {}, "last_value": {}, "nth_value": {},
	// text
	"lower": {}, "upper": {}, "trim": {}, "ltrim": {}, "rtrim": {}, "btrim": {},
	"length": {}, "char_length": {}, "character_length": {}, "substr": {}, "substring": {},
	"replace": {}, "concat": {}, "concat_ws": {}, "left": {}, "right": {}, "lpad": {},
	"rpad": {}, "position": {}, "strpos": {}, "instr": {}, "split_part": {}, "initcap": {},
	"reverse": {}, "regexp_replace": {}, "regexp_matches": {}, "regexp_like": {},
	"regexp_extract": {}, "contains": {}, "starts_with": {}, "ends_with": {}, "printf": {},
	"format": {},
	// conditionals and numbers
	"coalesce": {}, "nullif": {}, "ifnull": {}, "iif": {}, "greatest": {}, "least": {},
	"abs": {}, "round": {}, "floor": {}, "ceil": {}, "ceiling": {}, "trunc": {}, "mod": {},
	"power": {}, "sqrt": {}, "sign": {},
	// dates
	"date": {}, "time": {}, "datetime": {}, "julianday": {}, "strftime": {}, "unixepoch": {},
	"date_trunc": {}, "date_part": {}, "datepart": {}, "date_diff": {}, "datediff": {},
	"extract": {}, "to_char": {}, "to_date": {}, "to_timestamp": {}, "strptime": {},
	"epoch": {}, "age": {}, "now": {}, "make_date": {},
	// casts and type modifiers
	"cast": {}, "try_cast": {}, "varchar": {}, "char": {}, "character": {}, "numeric": {},
	"decimal": {}, "timestamp": {},
}

var escapeStringPrefixes = map[string]struct{}{"e": {}, "u": {}, "x": {}, "b": {}}

// Words that can follow a relation name and are never an implicit alias.
var clauseWords = map[string]struct{}{
	"where": {}, "group": {}, "having": {}, "order": {}, "limit": {}, "offset": {},
	"fetch": {}, "window": {}, "qualify": {}, "union": {}, "except": {}, "intersect": {},
	"join": {}, "inner": {}, "left": {}, "right": {}, "full": {}, "outer": {}, "cross": {},
	"natural": {}, "on": {}, "using": {}, "lateral": {}, "tablesample": {}, "positional": {},
	"asof": {}, "anti": {}, "semi": {}, "select": {}, "returning": {}, "indexed": {},
	"not": {}, "for": {}, "from": {},
}

// Words that close the relation list of a FROM clause at the same depth.
var fromTerminators = map[string]struct{}{
	"where": {}, "group": {}, "having": {}, "order": {}, "limit": {}, "offset": {},
	"fetch": {}, "window": {}, "qualify": {}, "union": {}, "except": {}, "intersect": {},
	"select": {}, "returning": {},
}

type relationRef struct {
	index    int
	hasAlias bool
}

// Enforce validates candidate and rewrites it so every read of the incident
// table is narrowed to the scope's tenant. Admin scope is validated the same
// way but left unrestricted.
//
// For dialects with a Schema the rewritten statement is prefixed with a CTE
// named after the incident table that holds only the tenant's rows, so an
// unqualified reference resolves to scoped rows even if it was not rewritten.
func (e *Enforcer) Enforce(candidate string, scope Scope) (EnforcedQuery, error) {
	if !scope.Unrestricted && strings.TrimSpace(scope.TenantID) == "" {
		return EnforcedQuery{}, fmt.Errorf("tenant scope requires a tenant id")
	}

	tokens, err := lex(candidate)
	if err != nil {
		var lexErr *lexError
		if errors.As(err, &lexErr) && lexErr.reason != "" {
			return EnforcedQuery{}, reject(lexErr.reason, "%v", err)
		}
		return EnforcedQuery{}, reject(ReasonUnterminated, "%v", err)
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].isPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return EnforcedQuery{}, reject(ReasonEmpty, "no statement")
	}
	if !tokens[0].isWord("select") {
		return EnforcedQuery{}, reject(ReasonNotSelect, "statement starts with %q", tokens[0].text)
	}
	if err := checkTokens(tokens); err != nil {
		return EnforcedQuery{}, err
	}

	refs, err := e.relations(tokens)
	if err != nil {
		return EnforcedQuery{}, err
	}

	aliases := map[string]struct{}{}
	for i, tok := range tokens {
		if tok.kind != tokQuoted && tok.kind != tokWord {
			continue
		}
		if i > 0 && tokens[i-1].isWord("as") {
			aliases[strings.ToLower(tok.text)] = struct{}{}
		}
	}
	for _, ref := range refs {
		if ref.hasAlias && ref.index+1 < len(tokens) {
			alias := tokens[ref.index+1]
			if alias.isWord("as") && ref.index+2 < len(tokens) {
				alias = tokens[ref.index+2]
			}
			aliases[strings.ToLower(alias.text)] = struct{}{}
		}
	}
	identifiers := make([]string, 0)
	seen := map[string]struct{}{}
	for i, tok := range tokens {
		if tok.kind != tokQuoted || isRelationIndex(refs, i) {
			continue
		}
		key := strings.ToLower(tok.text)
		if _, ok := aliases[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		identifiers = append(identifiers, tok.text)
	}

	end := tokens[len(tokens)-1].end
	out := EnforcedQuery{
		Candidate:   candidate,
		Scope:       scope,
		Identifiers: identifiers,
		Args:        []any{},
	}
	if scope.Unrestricted {
		out.SQL = strings.TrimSpace(candidate[:end])
		return out, nil
	}

	var b strings.Builder
	if e.dialect.Schema != "" {
		// The shadow hides the base table from every unqualified reference,
		// including any the relation walk did not recognise.
		out.Args = append(out.Args, scope.TenantID)
		fmt.Fprintf(&b, "WITH %s AS (SELECT * FROM %s.%s WHERE %s = %s) ",
			e.registry.Table(), e.dialect.Schema, e.registry.Table(), e.registry.TenantColumn(), e.dialect.Placeholder(len(out.Args)))
	}
	cursor := 0
	for _, ref := range refs {
		tok := tokens[ref.index]
		b.WriteString(candidate[cursor:tok.start])
		out.Args = append(out.Args, scope.TenantID)
		fmt.Fprintf(&b, "(SELECT * FROM %s WHERE %s = %s)",
			e.registry.Table(), e.registry.TenantColumn(), e.dialect.Placeholder(len(out.Args)))
		if !ref.hasAlias {
			b.WriteString(" AS " + e.registry.Table())
		}
		cursor = tok.end
	}
	b.WriteString(candidate[cursor:end])
	out.SQL = strings.TrimSpace(b.String())
	return out, nil
}

func checkTokens(tokens []token) error {
	for i, tok := range tokens {
		switch tok.kind {
		case tokPunct:
			if tok.text == ";" {
				return reject(ReasonMultipleStatements, "statement separator at offset %d", tok.start)
			}
		case tokPlaceholder:
			return reject(ReasonPlaceholder, "%s", tok.text)
		case tokQuoted:
			if next, ok := peek(tokens, i+1); ok && next.isPunct("(") {
				if err := checkCall(tokens, i, tok.text); err != nil {
					return err
				}
			}
		case tokWord:
			lower := tok.lower()
			if _, ok := forbiddenKeywords[lower]; ok {
				return reject(ReasonForbiddenKeyword, "%s", lower)
			}
			next, hasNext := peek(tokens, i+1)
			if hasNext && next.isPunct("(") {
				if _, introducer := subqueryIntroducers[lower]; !introducer {
					if err := checkCall(tokens, i, lower); err != nil {
						return err
					}
				}
			}
			if hasNext && next.start == tok.end {
				if _, ok := escapeStringPrefixes[lower]; ok && next.kind == tokString {
					return reject(ReasonUnsupportedLiteral, "%s-prefixed string", lower)
				}
				if lower == "u" && next.isPunct("&") {
					return reject(ReasonUnsupportedLiteral, "unicode escape literal")
				}
			}
		}
	}
	return nil
}

// checkCall admits a call to name at tokens[i] only when name is an unqualified
// allowed function. Quoted names are matched exactly.
func checkCall(tokens []token, i int, name string) error {
	if prev, ok := peek(tokens, i-1); ok && prev.isPunct(".") {
		return reject(ReasonForbiddenFunction, "qualified call %s", name)
	}
	if _, ok := allowedFunctions[name]; !ok {
		return reject(ReasonForbiddenFunction, "%s", name)
	}
	return nil
}

// Words after which an opening parenthesis starts a subquery or a grouped
// expression rather than a function call.
var subqueryIntroducers = map[string]struct{}{
	"in": {}, "exists": {}, "any": {}, "all": {}, "some": {}, "array": {}, "from": {},
	"join": {}, "lateral": {}, "as": {}, "on": {}, "and": {}, "or": {}, "not": {},
	"select": {}, "where": {}, "having": {}, "by": {}, "when": {}, "then": {}, "else": {},
	"union": {}, "except": {}, "intersect": {}, "using": {}, "values": {}, "case": {},
	"between": {}, "like": {}, "ilike": {}, "is": {}, "filter": {}, "over": {}, "distinct": {},
	"group": {}, "limit": {}, "offset": {}, "to": {},
}

type frame struct {
	inFrom    bool
	call      bool
	sawSelect bool
}

// relations walks FROM and JOIN lists and returns every reference to the
// incident table. Any other relation rejects the candidate.
func (e *Enforcer) relations(tokens []token) ([]relationRef, error) {
	refs := make([]relationRef, 0, 2)
	stack := []frame{{}}
	groups := map[int]bool{}

	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		top := &stack[len(stack)-1]
		strict, lenient := false, false
		switch {
		case tok.isPunct("("):
			f := frame{inFrom: groups[i]}
			if i > 0 {
				prev := tokens[i-1]
				if prev.kind == tokQuoted {
					f.call = true
				} else if prev.kind == tokWord {
					_, introducer := subqueryIntroducers[prev.lower()]
					f.call = !introducer
				}
			}
			stack = append(stack, f)
			strict = groups[i]
		case tok.isPunct(")"):
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		case tok.isPunct(","):
			strict = top.inFrom
		case tok.kind == tokWord:
			lower := tok.lower()
			if _, ok := fromTerminators[lower]; ok {
				top.inFrom = false
			}
			switch lower {
			case "select":
				top.sawSelect = true
			case "from":
				switch {
				case isDistinctFrom(tokens, i):
				case top.call && !top.sawSelect:
					lenient = true
				default:
					top.inFrom = true
					strict = true
				}
			case "join":
				strict = true
			}
		}
		if !strict && !lenient {
			continue
		}

		j := i + 1
		if next, ok := peek(tokens, j); ok && next.isWord("lateral") {
			j++
		}
		target, ok := peek(tokens, j)
		if !ok {
			if lenient {
				continue
			}
			return nil, reject(ReasonUnknownRelation, "missing relation after %q", tok.text)
		}
		after, hasAfter := peek(tokens, j+1)
		qualified := hasAfter && (after.isPunct(".") || after.isPunct("("))
		if lenient {
			if (target.kind == tokWord || target.kind == tokQuoted) && !qualified && e.isTable(target) {
				refs = append(refs, relationRef{index: j, hasAlias: hasAlias(tokens, j+1)})
				i = j
			}
			continue
		}
		if target.isPunct("(") {
			inner, ok := peek(tokens, j+1)
			if ok && !inner.isWord("select") && !inner.isWord("values") && !inner.isWord("from") {
				groups[j] = true
			}
			continue
		}
		if target.kind != tokWord && target.kind != tokQuoted {
			return nil, reject(ReasonUnknownRelation, "%s", target.text)
		}
		if qualified {
			return nil, reject(ReasonUnknownRelation, "%s%s", target.text, after.text)
		}
		if !e.isTable(target) {
			return nil, reject(ReasonUnknownRelation, "%s", target.text)
		}
		refs = append(refs, relationRef{index: j, hasAlias: hasAlias(tokens, j+1)})
		i = j
	}
	return refs, nil
}

// isDistinctFrom reports whether the FROM at i belongs to IS [NOT] DISTINCT FROM.
func isDistinctFrom(tokens []token, i int) bool {
	prev, ok := peek(tokens, i-1)
	if !ok || !prev.isWord("distinct") {
		return false
	}
	before, ok := peek(tokens, i-2)
	return ok && (before.isWord("is") || before.isWord("not"))
}

func (e *Enforcer) isTable(tok token) bool {
	if tok.kind == tokQuoted {
		return tok.text == e.registry.Table()
	}
	return strings.EqualFold(tok.text, e.registry.Table())
}

func hasAlias(tokens []token, i int) bool {
	next, ok := peek(tokens, i)
	if !ok {
		return false
	}
	switch next.kind {
	case tokQuoted:
		return true
	case tokWord:
		if next.isWord("as") {
			return true
		}
		_, reserved := clauseWords[next.lower()]
		return !reserved
	default:
		return false
	}
}

func isRelationIndex(refs []relationRef, i int) bool {
	for _, ref := range refs {
		if ref.index == i {
			return true
		}
	}
	return false
}

func peek(tokens []token, i int) (token, bool) {
	if i < 0 || i >= len(tokens) {
		return token{}, false
	}
	return tokens[i], true
}

// CheckRows verifies that every tenant-column value in a scoped result equals
// the caller's tenant. NULL tenant values carry no tenant data and pass.
func (e *Enforcer) CheckRows(scope Scope, columns []string, rows [][]any) error {
	if scope.Unrestricted {
		return nil
	}
	tenantIndexes := make([]int, 0, 1)
	for i, column := range columns {
		if strings.EqualFold(column, e.registry.TenantColumn()) {
			tenantIndexes = append(tenantIndexes, i)
		}
	}
	if len(tenantIndexes) == 0 {
		return nil
	}
	violations := 0
	for _, row := range rows {
		for _, idx := range tenantIndexes {
			if idx >= len(row) || row[idx] == nil {
				continue
			}
			if stringValue(row[idx]) != scope.TenantID {
				violations++
				break
			}
		}
	}
	if violations > 0 {
		return fmt.Errorf("%w: %d of %d rows outside scope", ErrIsolationViolation, violations, len(rows))
	}
	return nil
}

func stringValue(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}
