// Package thread reconstructs nested reply trees from the flat parent/child
// rows stored for a post. Building is pure computation over already-fetched
// data: no locking, no storage access, and the same input set always yields
// the same forest no matter what order the rows arrive in.
package thread

import (
	"sort"

	"github.com/sajalbasnet/chautari/internal/models"
)

// Node is one reply with its attached children.
type Node struct {
	Reply    models.Reply `json:"reply"`
	Children []*Node      `json:"children"`
}

// BuildTree turns a flat reply list into an ordered forest.
//
// Replies whose parent is missing from the input (deleted, or on another
// page) are re-parented to the root level rather than dropped. A reply whose
// parent chain loops back on itself is broken out the same way. Replies that
// would land deeper than maxDepth attach one level shallower than their true
// parent, so deep threads flatten instead of disappearing. maxDepth <= 0
// means unlimited.
//
// Root nodes are ordered oldest first; each node's children are ordered by
// score descending, then createdAt ascending, then id.
func BuildTree(replies []models.Reply, maxDepth int) []*Node {
	b := &builder{
		byID:     make(map[uint]*models.Reply, len(replies)),
		depths:   make(map[uint]int, len(replies)),
		parents:  make(map[uint]uint, len(replies)),
		maxDepth: maxDepth,
	}
	for i := range replies {
		b.byID[replies[i].ID] = &replies[i]
	}

	// Resolve in ascending id order so cycle breaking does not depend on the
	// order the rows arrived in.
	ids := make([]uint, 0, len(replies))
	for id := range b.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b.resolve(b.byID[id])
	}

	nodes := make(map[uint]*Node, len(replies))
	for _, id := range ids {
		nodes[id] = &Node{Reply: *b.byID[id]}
	}
	var roots []*Node
	for _, id := range ids {
		if pid, ok := b.parents[id]; ok {
			nodes[pid].Children = append(nodes[pid].Children, nodes[id])
		} else {
			roots = append(roots, nodes[id])
		}
	}

	sort.SliceStable(roots, func(i, j int) bool {
		a, c := roots[i].Reply, roots[j].Reply
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.ID < c.ID
	})
	for _, n := range nodes {
		sortChildren(n.Children)
	}
	return roots
}

type builder struct {
	byID     map[uint]*models.Reply
	depths   map[uint]int  // effective depth, 0 = root level
	parents  map[uint]uint // effective parent; absent = root level
	maxDepth int
}

// resolve walks up r's declared parent chain with a visited set (never
// recursion), finds where the chain grounds out, and attaches the walked
// replies top-down. The chain grounds out at a parentless reply, at a reply
// already resolved, at a dangling parent id, or at a cycle revisit; the last
// two turn the reply at the break point into a root-level orphan.
func (b *builder) resolve(r *models.Reply) {
	if _, done := b.depths[r.ID]; done {
		return
	}

	visited := map[uint]bool{r.ID: true}
	chain := []*models.Reply{r} // deepest first
	cur := r

	baseDepth := 0
	baseID := uint(0)
	attached := false // whether the chain hangs under an existing node

	for cur.ParentReplyID != nil {
		p, ok := b.byID[*cur.ParentReplyID]
		if !ok || visited[p.ID] {
			// Dangling parent or cycle: cur becomes a root-level orphan.
			break
		}
		if d, done := b.depths[p.ID]; done {
			baseDepth, baseID, attached = d, p.ID, true
			break
		}
		visited[p.ID] = true
		chain = append(chain, p)
		cur = p
	}

	// Attach from the top of the walk downwards.
	for i := len(chain) - 1; i >= 0; i-- {
		child := chain[i]
		if !attached {
			// Root level: genuinely parentless, or the orphan break point.
			b.depths[child.ID] = 0
		} else {
			depth := baseDepth + 1
			parent := baseID
			if b.maxDepth > 0 && depth > b.maxDepth {
				// Flatten: take the true parent's place instead of nesting
				// below it. The parent is at maxDepth >= 1 here, so it has
				// an effective parent of its own.
				depth = baseDepth
				parent = b.parents[baseID]
			}
			b.depths[child.ID] = depth
			b.parents[child.ID] = parent
		}
		baseDepth, baseID, attached = b.depths[child.ID], child.ID, true
	}
}

func sortChildren(children []*Node) {
	sort.SliceStable(children, func(i, j int) bool {
		a, c := children[i].Reply, children[j].Reply
		if a.Score != c.Score {
			return a.Score > c.Score
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.ID < c.ID
	})
}
