package router

// Table is an exact-match, case-sensitive route table mapping a request
// target (query already stripped) to a static JSON body. It is built once at
// process start and shared read-only across workers, so lookups need no
// synchronization.
type Table struct {
	routes map[string][]byte
	sealed bool
}

// Canned error bodies, paired with their status codes by the dispatcher.
var (
	BodyNotFound         = []byte(`{"error":"Not Found"}`)
	BodyBadRequest       = []byte(`{"error":"Bad Request"}`)
	BodyMethodNotAllowed = []byte(`{"error":"Method Not Allowed"}`)
	BodyInternalError    = []byte(`{"error":"Internal Server Error"}`)
)

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{routes: make(map[string][]byte, 8)}
}

// Add registers a route. It panics when called after Seal or on a path that
// does not begin with '/', both of which are programming errors at startup.
func (t *Table) Add(path string, body []byte) {
	if t.sealed {
		panic("router: Add after Seal")
	}
	if len(path) == 0 || path[0] != '/' {
		panic("router: path must begin with '/'")
	}
	t.routes[path] = body
}

// Seal freezes the table; any later Add panics. Whether a table is sealed is
// not checked when serving starts.
func (t *Table) Seal() *Table {
	t.sealed = true
	return t
}

// Lookup returns the body for an exact path match.
func (t *Table) Lookup(path string) ([]byte, bool) {
	body, ok := t.routes[path]
	return body, ok
}

// Len returns the number of registered routes.
func (t *Table) Len() int { return len(t.routes) }

// Default returns the fixed BFF route set.
func Default() *Table {
	t := NewTable()
	t.Add("/bonuses", []byte(`{"bonuses":[10,20,30]}`))
	t.Add("/settings", []byte(`{"settings":{"theme":"dark"}}`))
	t.Add("/games", []byte(`{"games":["chess","poker"]}`))
	t.Add("/health", []byte(`{"status":"OK"}`))
	return t.Seal()
}
