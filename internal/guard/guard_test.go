package guard

import (
	"errors"
	"strings"
	"testing"

	"github.com/nocassist/nocassist/internal/auth"
	"github.com/nocassist/nocassist/internal/schema"
)

func newTestEnforcer(t *testing.T, dialect Dialect) *Enforcer {
	t.Helper()
	enforcer, err := NewEnforcer(schema.Incidents(), dialect)
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return enforcer
}

func userScope(tenant string) Scope {
	return ScopeFor(auth.Identity{Username: "u", TenantID: tenant, Role: auth.RoleUser})
}

func adminScope() Scope {
	return ScopeFor(auth.Identity{Username: "admin", TenantID: auth.AllTenants, Role: auth.RoleAdmin})
}

const postgresShadow = "WITH incidents AS (SELECT * FROM public.incidents WHERE client_name = $1) "

func TestEnforceScopesUserQuery(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	got, err := enforcer.Enforce("SELECT * FROM incidents WHERE issue_type = 'Link Down';", userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	want := postgresShadow + "SELECT * FROM (SELECT * FROM incidents WHERE client_name = $2) AS incidents WHERE issue_type = 'Link Down'"
	if got.SQL != want {
		t.Fatalf("SQL = %q, want %q", got.SQL, want)
	}
	if len(got.Args) != 2 || got.Args[0] != "GP" || got.Args[1] != "GP" {
		t.Fatalf("Args = %#v", got.Args)
	}
	if strings.Contains(got.SQL, "'GP'") {
		t.Fatalf("tenant value leaked into SQL text: %q", got.SQL)
	}
}

func TestEnforceNarrowsConflictingTenantPredicate(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectSQLite)
	got, err := enforcer.Enforce("SELECT incident_id FROM incidents WHERE client_name = 'Banglalink'", userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	want := "WITH incidents AS (SELECT * FROM main.incidents WHERE client_name = ?) SELECT incident_id FROM (SELECT * FROM incidents WHERE client_name = ?) AS incidents WHERE client_name = 'Banglalink'"
	if got.SQL != want {
		t.Fatalf("SQL = %q, want %q", got.SQL, want)
	}
}

func TestEnforceKeepsAliasesAndScopesEveryReference(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	candidate := `SELECT a.incident_id FROM incidents a JOIN incidents AS b ON a.site_id = b.site_id, incidents c ` +
		`WHERE a.incident_id IN (SELECT incident_id FROM incidents WHERE reason LIKE '%fire%')`
	got, err := enforcer.Enforce(candidate, userScope("Robi"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(got.Args) != 5 {
		t.Fatalf("Args = %#v, want 5 tenant args", got.Args)
	}
	for _, want := range []string{
		postgresShadow,
		"FROM (SELECT * FROM incidents WHERE client_name = $2) a JOIN",
		"JOIN (SELECT * FROM incidents WHERE client_name = $3) AS b ON",
		", (SELECT * FROM incidents WHERE client_name = $4) c WHERE",
		"FROM (SELECT * FROM incidents WHERE client_name = $5) AS incidents WHERE reason",
	} {
		if !strings.Contains(got.SQL, want) {
			t.Fatalf("SQL missing %q:\n%s", want, got.SQL)
		}
	}
}

func TestEnforceScopesGroupedJoins(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	got, err := enforcer.Enforce("SELECT * FROM (incidents a JOIN incidents b ON a.site_id = b.site_id)", userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(got.Args) != 3 {
		t.Fatalf("Args = %#v, SQL = %q", got.Args, got.SQL)
	}
}

func TestEnforceAcceptsNonRelationalFrom(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	candidate := "SELECT EXTRACT(YEAR FROM event_time), TRIM(BOTH ' ' FROM reason) FROM incidents " +
		"WHERE site_id IS DISTINCT FROM pop_id"
	got, err := enforcer.Enforce(candidate, userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if len(got.Args) != 2 {
		t.Fatalf("Args = %#v", got.Args)
	}
}

func TestEnforceAdminIsUnrestricted(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	got, err := enforcer.Enforce("SELECT client_name, COUNT(*) FROM incidents GROUP BY client_name;", adminScope())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if got.SQL != "SELECT client_name, COUNT(*) FROM incidents GROUP BY client_name" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if len(got.Args) != 0 {
		t.Fatalf("Args = %#v", got.Args)
	}
}

func TestEnforceRequiresTenantForUserScope(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	if _, err := enforcer.Enforce("SELECT * FROM incidents", Scope{}); err == nil {
		t.Fatal("expected error for empty tenant scope")
	}
}

func TestEnforceRejectsUnsafeCandidates(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	cases := []struct {
		name      string
		candidate string
		want      Reason
	}{
		{name: "empty", candidate: "  ; ", want: ReasonEmpty},
		{name: "comment only", candidate: "-- nothing", want: ReasonEmpty},
		{name: "delete", candidate: "DELETE FROM incidents", want: ReasonNotSelect},
		{name: "stacked", candidate: "SELECT * FROM incidents; DROP TABLE incidents", want: ReasonMultipleStatements},
		{name: "cte", candidate: "SELECT * FROM x WITH y AS (SELECT 1)", want: ReasonForbiddenKeyword},
		{name: "select into", candidate: "SELECT * INTO copy_of FROM incidents", want: ReasonForbiddenKeyword},
		{name: "pivot", candidate: "SELECT * FROM (PIVOT incidents ON client_name USING count(*))", want: ReasonForbiddenKeyword},
		{name: "placeholder", candidate: "SELECT * FROM incidents WHERE client_name = $1", want: ReasonPlaceholder},
		{name: "question placeholder", candidate: "SELECT * FROM incidents WHERE client_name = ?", want: ReasonPlaceholder},
		{name: "dollar quote", candidate: "SELECT $$x$$ FROM incidents", want: ReasonPlaceholder},
		{name: "file read", candidate: "SELECT pg_read_file('/etc/passwd')", want: ReasonForbiddenFunction},
		{name: "escape string", candidate: `SELECT E'\'' FROM pg_shadow --'`, want: ReasonUnsupportedLiteral},
		{name: "unterminated string", candidate: "SELECT * FROM incidents WHERE reason = 'fire", want: ReasonUnterminated},
		{name: "unterminated comment", candidate: "SELECT 1 /* open", want: ReasonUnterminated},
		{name: "other table", candidate: "SELECT * FROM users", want: ReasonUnknownRelation},
		{name: "catalog join", candidate: "SELECT * FROM incidents JOIN pg_catalog.pg_user u ON true", want: ReasonUnknownRelation},
		{name: "qualified", candidate: "SELECT * FROM main.incidents", want: ReasonUnknownRelation},
		{name: "table function", candidate: "SELECT * FROM generate_series(1, 3)", want: ReasonForbiddenFunction},
		{name: "file scan", candidate: "SELECT * FROM 'incidents.parquet'", want: ReasonUnknownRelation},
		{name: "comma relation", candidate: "SELECT * FROM incidents, sqlite_master", want: ReasonUnknownRelation},
		{name: "subquery relation", candidate: "SELECT * FROM incidents WHERE EXISTS (SELECT 1 FROM secrets)", want: ReasonUnknownRelation},
		{name: "quoted other case", candidate: `SELECT * FROM "Incidents"`, want: ReasonUnknownRelation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := enforcer.Enforce(tc.candidate, userScope("GP"))
			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("Enforce(%q) error = %v, want *ValidationError", tc.candidate, err)
			}
			if validationErr.Reason != tc.want {
				t.Fatalf("Reason = %q, want %q (%v)", validationErr.Reason, tc.want, err)
			}
		})
	}
}

// Candidates that each engine would tokenize differently from the guard, or
// that read relations through a function, are rejected on every dialect.
func TestEnforceRejectsDialectQuotingAndTableReaders(t *testing.T) {
	cases := []struct {
		name      string
		candidate string
		want      Reason
	}{
		{
			name:      "bracket identifier hides comment",
			candidate: "SELECT 1 AS [a'], incident_id, client_name = 'GP' AS mine FROM incidents --'",
			want:      ReasonUnsupportedSyntax,
		},
		{name: "bracket relation", candidate: "SELECT * FROM [incidents]", want: ReasonUnsupportedSyntax},
		{name: "brace escape", candidate: "SELECT {fn user()} FROM incidents", want: ReasonUnsupportedSyntax},
		{name: "nested block comment", candidate: "SELECT * FROM /* /* */ incidents */ incidents", want: ReasonUnsupportedSyntax},
		{name: "nested comment hides relation", candidate: "SELECT * FROM incidents /* /* */, users */", want: ReasonUnsupportedSyntax},
		{name: "carriage return in line comment", candidate: "SELECT * FROM incidents --x\r, users", want: ReasonUnsupportedSyntax},
		{name: "non ascii identifier", candidate: "SELECT incident_id AS ঘটনা FROM incidents", want: ReasonUnsupportedSyntax},
		{name: "control character", candidate: "SELECT incident_id\x00 FROM incidents", want: ReasonUnsupportedSyntax},
		{name: "table to xml", candidate: "SELECT table_to_xml('incidents', true, false, '')", want: ReasonForbiddenFunction},
		{name: "database to xml", candidate: "SELECT database_to_xml(true, false, '')", want: ReasonForbiddenFunction},
		{name: "query to xml", candidate: "SELECT query_to_xml('select * from incidents', true, false, '')", want: ReasonForbiddenFunction},
		{name: "quoted function name", candidate: `SELECT "table_to_xml"('incidents', true, false, '')`, want: ReasonForbiddenFunction},
		{name: "qualified function", candidate: "SELECT pg_catalog.lower(reason) FROM incidents", want: ReasonForbiddenFunction},
		{name: "parquet reader", candidate: "SELECT * FROM read_parquet('incidents/*.parquet')", want: ReasonForbiddenFunction},
		{name: "settings reader", candidate: "SELECT current_setting('search_path')", want: ReasonForbiddenFunction},
		{name: "sqlite schema reader", candidate: "SELECT * FROM pragma_table_info('incidents')", want: ReasonForbiddenFunction},
	}
	for _, dialect := range []Dialect{DialectPostgres, DialectSQLite, DialectDuckDB} {
		enforcer := newTestEnforcer(t, dialect)
		for _, tc := range cases {
			t.Run(dialect.Name+"/"+tc.name, func(t *testing.T) {
				_, err := enforcer.Enforce(tc.candidate, userScope("GP"))
				var validationErr *ValidationError
				if !errors.As(err, &validationErr) {
					t.Fatalf("Enforce(%q) error = %v, want *ValidationError", tc.candidate, err)
				}
				if validationErr.Reason != tc.want {
					t.Fatalf("Reason = %q, want %q (%v)", validationErr.Reason, tc.want, err)
				}
			})
		}
	}
}

func TestEnforceAllowsQuotingInsideLiterals(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectSQLite)
	candidate := "SELECT incident_id FROM incidents WHERE reason = '[a] /* ঘটনা */ {x}' -- café\r\n"
	if _, err := enforcer.Enforce(candidate, userScope("GP")); err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
}

func TestEnforceShadowsIncidentTablePerDialect(t *testing.T) {
	cases := []struct {
		dialect Dialect
		prefix  string
		args    int
	}{
		{dialect: DialectPostgres, prefix: postgresShadow, args: 2},
		{dialect: DialectSQLite, prefix: "WITH incidents AS (SELECT * FROM main.incidents WHERE client_name = ?) ", args: 2},
		{dialect: DialectDuckDB, prefix: "", args: 1},
	}
	for _, tc := range cases {
		t.Run(tc.dialect.Name, func(t *testing.T) {
			enforcer := newTestEnforcer(t, tc.dialect)
			got, err := enforcer.Enforce("SELECT incident_id FROM incidents", userScope("GP"))
			if err != nil {
				t.Fatalf("Enforce() error = %v", err)
			}
			if !strings.HasPrefix(got.SQL, tc.prefix+"SELECT incident_id FROM (SELECT * FROM incidents WHERE client_name = ") {
				t.Fatalf("SQL = %q, want prefix %q", got.SQL, tc.prefix)
			}
			if tc.prefix == "" && strings.HasPrefix(got.SQL, "WITH") {
				t.Fatalf("SQL = %q, want no shadow", got.SQL)
			}
			if len(got.Args) != tc.args {
				t.Fatalf("Args = %#v, want %d", got.Args, tc.args)
			}
			for _, arg := range got.Args {
				if arg != "GP" {
					t.Fatalf("Args = %#v, want only the tenant", got.Args)
				}
			}
		})
	}
}

func TestEnforceShadowsStatementsWithoutRelation(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectSQLite)
	got, err := enforcer.Enforce("SELECT 1", userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if got.SQL != "WITH incidents AS (SELECT * FROM main.incidents WHERE client_name = ?) SELECT 1" {
		t.Fatalf("SQL = %q", got.SQL)
	}
	if len(got.Args) != 1 {
		t.Fatalf("Args = %#v", got.Args)
	}

	admin, err := enforcer.Enforce("SELECT 1", adminScope())
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if admin.SQL != "SELECT 1" {
		t.Fatalf("admin SQL = %q, want unshadowed", admin.SQL)
	}
}

func TestEnforceCollectsQuotedIdentifiers(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectSQLite)
	got, err := enforcer.Enforce(`SELECT "incident_id", "status" AS "s", "ghost_column" FROM "incidents" ORDER BY "s"`, userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	want := []string{"incident_id", "status", "ghost_column"}
	if strings.Join(got.Identifiers, ",") != strings.Join(want, ",") {
		t.Fatalf("Identifiers = %v, want %v", got.Identifiers, want)
	}
}

func TestEnforceIgnoresKeywordsInLiteralsAndComments(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	candidate := "SELECT * FROM incidents -- delete later\nWHERE reason = 'drop; delete from x'"
	got, err := enforcer.Enforce(candidate, userScope("GP"))
	if err != nil {
		t.Fatalf("Enforce() error = %v", err)
	}
	if !strings.HasSuffix(got.SQL, "WHERE reason = 'drop; delete from x'") {
		t.Fatalf("SQL = %q", got.SQL)
	}
}

func TestCheckRows(t *testing.T) {
	enforcer := newTestEnforcer(t, DialectPostgres)
	columns := []string{"incident_id", "client_name"}

	if err := enforcer.CheckRows(userScope("GP"), columns, [][]any{{"INC-1", "GP"}, {"INC-2", nil}}); err != nil {
		t.Fatalf("CheckRows() error = %v", err)
	}
	err := enforcer.CheckRows(userScope("GP"), columns, [][]any{{"INC-1", "GP"}, {"INC-9", []byte("Banglalink")}})
	if !errors.Is(err, ErrIsolationViolation) {
		t.Fatalf("CheckRows() error = %v, want ErrIsolationViolation", err)
	}
	if strings.Contains(err.Error(), "Banglalink") {
		t.Fatalf("violation error leaks row data: %v", err)
	}
	if err := enforcer.CheckRows(adminScope(), columns, [][]any{{"INC-9", "Banglalink"}}); err != nil {
		t.Fatalf("admin CheckRows() error = %v", err)
	}
	if err := enforcer.CheckRows(userScope("GP"), []string{"total"}, [][]any{{int64(4)}}); err != nil {
		t.Fatalf("CheckRows() without tenant column error = %v", err)
	}
}

func TestDialectPlaceholder(t *testing.T) {
	if got := DialectPostgres.Placeholder(3); got != "$3" {
		t.Fatalf("Placeholder() = %q", got)
	}
	if got := DialectDuckDB.Placeholder(3); got != "$3" {
		t.Fatalf("Placeholder() = %q", got)
	}
	if got := DialectSQLite.Placeholder(3); got != "?" {
		t.Fatalf("Placeholder() = %q", got)
	}
}
