package dalmock

import (
	"fmt"
	"strings"
)

// Fixture names served by the fixed DAL routes.
const (
	FixtureSIA   = "neat-sia.xml"
	FixtureSCS   = "twomass-cs.xml"
	FixtureError = "error-sia.xml"
	FixtureSSA   = "jhu-ssa.xml"
	FixtureSLA   = "nrao-sla.xml"
)

// ActionKind tags an Action.
type ActionKind int

// Action kinds. The zero value is ActionNotFound.
const (
	ActionNotFound ActionKind = iota
	ActionEchoPath
	ActionServeFixture
	ActionEmptyOK
)

func (k ActionKind) String() string {
	switch k {
	case ActionEchoPath:
		return "echo-path"
	case ActionServeFixture:
		return "serve-fixture"
	case ActionEmptyOK:
		return "empty-ok"
	default:
		return "not-found"
	}
}

// Action is the routing decision for a request path.
// Fixture is set only for ActionServeFixture.
type Action struct {
	Kind    ActionKind
	Fixture string
}

// ServeFixture returns an action serving the named fixture.
func ServeFixture(name string) Action { return Action{Kind: ActionServeFixture, Fixture: name} }

// EchoPath returns an action echoing the raw request path.
func EchoPath() Action { return Action{Kind: ActionEchoPath} }

// EmptyOK returns an action answering 200 with an empty XML body.
func EmptyOK() Action { return Action{Kind: ActionEmptyOK} }

// NotFound returns an action answering 404.
func NotFound() Action { return Action{} }

func (a Action) String() string {
	if a.Kind == ActionServeFixture {
		return fmt.Sprintf("%s(%s)", a.Kind, a.Fixture)
	}
	return a.Kind.String()
}

// Rule pairs a path predicate with the action it selects.
type Rule struct {
	Name    string
	Match   func(path string) bool
	Resolve func(path string) Action
}

// Prefix matches any path starting with p.
func Prefix(p string) func(string) bool {
	return func(path string) bool { return strings.HasPrefix(path, p) }
}

// Exact matches only p.
func Exact(p string) func(string) bool {
	return func(path string) bool { return path == p }
}

// Always resolves to a fixed action regardless of path.
func Always(a Action) func(string) Action {
	return func(string) Action { return a }
}

// RouteTable is an ordered, immutable list of rules. The first match wins.
type RouteTable struct {
	routes []Rule
}

// NewRouteTable builds a table evaluated in the given order.
func NewRouteTable(rules ...Rule) *RouteTable {
	rs := make([]Rule, len(rules))
	copy(rs, rules)
	return &RouteTable{routes: rs}
}

// DefaultRoutes returns the DAL mock route table.
func DefaultRoutes() *RouteTable {
	return NewRouteTable(
		Rule{Name: "path", Match: Prefix("/path"), Resolve: Always(EchoPath())},
		Rule{Name: "dal", Match: Prefix("/dal/"), Resolve: func(path string) Action {
			return ServeFixture(strings.TrimPrefix(path, "/dal/"))
		}},
		Rule{Name: "err", Match: Prefix("/err"), Resolve: Always(ServeFixture(FixtureError))},
		Rule{Name: "sia", Match: Exact("/sia"), Resolve: Always(ServeFixture(FixtureSIA))},
		Rule{Name: "cs", Match: Exact("/cs"), Resolve: Always(ServeFixture(FixtureSCS))},
		Rule{Name: "ssa", Match: Exact("/ssa"), Resolve: Always(ServeFixture(FixtureSSA))},
		Rule{Name: "sla", Match: Exact("/sla"), Resolve: Always(ServeFixture(FixtureSLA))},
		Rule{Name: "shutdown", Match: Exact("/shutdown"), Resolve: Always(EmptyOK())},
	)
}

var defaultRoutes = DefaultRoutes()

// Route resolves rawPath against the default table.
func Route(rawPath string) Action {
	return defaultRoutes.Route(rawPath)
}

// Route resolves rawPath, which may carry a query string, to an action.
// Anything after the first '?' is ignored.
func (t *RouteTable) Route(rawPath string) Action {
	path, _, _ := strings.Cut(rawPath, "?")
	for _, r := range t.routes {
		if r.Match(path) {
			return r.Resolve(path)
		}
	}
	return NotFound()
}

// Names returns the route names in priority order.
func (t *RouteTable) Names() []string {
	names := make([]string, len(t.routes))
	for i, r := range t.routes {
		names[i] = r.Name
	}
	return names
}
