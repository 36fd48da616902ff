package clustering

// UnionFind is a disjoint-set forest over record ids with union by rank and
// path compression. It is not safe for concurrent use.
type UnionFind struct {
	parent map[string]string
	rank   map[string]int
	sets   int
}

// NewUnionFind creates an empty forest
func NewUnionFind() *UnionFind {
	return &UnionFind{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
}

// Add inserts id as its own set. Adding a known id is a no-op.
func (u *UnionFind) Add(id string) {
	if _, ok := u.parent[id]; ok {
		return
	}
	u.parent[id] = id
	u.sets++
}

// Has reports whether id was added
func (u *UnionFind) Has(id string) bool {
	_, ok := u.parent[id]
	return ok
}

// Find returns the representative of id's set, adding id if unknown
func (u *UnionFind) Find(id string) string {
	u.Add(id)

	root := id
	for u.parent[root] != root {
		root = u.parent[root]
	}

	for id != root {
		next := u.parent[id]
		u.parent[id] = root
		id = next
	}

	return root
}

// Union joins the sets of a and b. It returns false when they were already joined.
func (u *UnionFind) Union(a, b string) bool {
	ra, rb := u.Find(a), u.Find(b)
	if ra == rb {
		return false
	}

	switch {
	case u.rank[ra] < u.rank[rb]:
		u.parent[ra] = rb
	case u.rank[ra] > u.rank[rb]:
		u.parent[rb] = ra
	default:
		u.parent[rb] = ra
		u.rank[ra]++
	}

	u.sets--
	return true
}

// Connected reports whether a and b are in the same set
func (u *UnionFind) Connected(a, b string) bool {
	if !u.Has(a) || !u.Has(b) {
		return a == b
	}
	return u.Find(a) == u.Find(b)
}

// Sets returns the number of disjoint sets
func (u *UnionFind) Sets() int {
	return u.sets
}
