package models

// EdgeKind is one of the six association tables. Each is an unordered pair
// of entity kinds stored as (id_a, id_b) with a composite primary key.
type EdgeKind int

// Edge kinds.
const (
	EdgePostTag EdgeKind = iota
	EdgePostPost
	EdgePostProject
	EdgeProjectTag
	EdgeProjectProject
	EdgeTagTag
)

// EdgeKinds lists every association in schema order.
var EdgeKinds = []EdgeKind{
	EdgePostTag, EdgePostPost, EdgePostProject,
	EdgeProjectTag, EdgeProjectProject, EdgeTagTag,
}

type edgeSpec struct {
	table string
	a, b  Kind
	colA  string
	colB  string
}

var edgeSpecs = map[EdgeKind]edgeSpec{
	EdgePostTag:        {"post_to_tags", KindPost, KindTag, "post_id", "tag_id"},
	EdgePostPost:       {"post_to_posts", KindPost, KindPost, "source_post_id", "target_post_id"},
	EdgePostProject:    {"post_to_projects", KindPost, KindProject, "post_id", "project_id"},
	EdgeProjectTag:     {"project_to_tags", KindProject, KindTag, "project_id", "tag_id"},
	EdgeProjectProject: {"project_to_projects", KindProject, KindProject, "source_project_id", "target_project_id"},
	EdgeTagTag:         {"tag_to_tags", KindTag, KindTag, "source_tag_id", "target_tag_id"},
}

// Table returns the association table name.
func (e EdgeKind) Table() string { return edgeSpecs[e].table }

// Columns returns the (id_a, id_b) column names.
func (e EdgeKind) Columns() (string, string) {
	s := edgeSpecs[e]
	return s.colA, s.colB
}

// Ends returns the entity kinds of the a and b columns.
func (e EdgeKind) Ends() (Kind, Kind) {
	s := edgeSpecs[e]
	return s.a, s.b
}

func (e EdgeKind) String() string { return e.Table() }

// EdgeBetween returns the association holding a link from a source of kind
// src to a target of kind dst. forward is false when the source id belongs
// in the b column (a project referencing a post lands in post_to_projects
// with the post first).
func EdgeBetween(src, dst Kind) (kind EdgeKind, forward bool) {
	for _, k := range EdgeKinds {
		a, b := k.Ends()
		if a == src && b == dst {
			return k, true
		}
		if a == dst && b == src {
			return k, false
		}
	}
	panic("models: no edge between " + src.String() + " and " + dst.String())
}
