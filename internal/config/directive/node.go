package directive

// Node is one directive: either a simple `name arg1 arg2;` setting or a
// block `name arg1 { ... }` opening nested directives
type Node struct {
	Name     string
	Args     []string
	Children []*Node
	IsBlock  bool
	File     string
	Line     int
}

// Find returns the first direct child named name.
func (n *Node) Find(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// FindAll returns every direct child named name, in file order.
func (n *Node) FindAll(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Walk calls fn for n and recursively for every descendant, depth-first in
// document order.
func Walk(n *Node, fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		Walk(c, fn)
	}
}
