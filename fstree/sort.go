package fstree

import "sort"

// Sort orders every directory's children alphabetically by name,
// recursively. Serialization formats commit files in this order so two
// runs over the same input tree produce byte-identical output.
// Grounded on original_source/lib/filesystem/fstree/sort.c, whose
// merge sort over a linked list is replaced here with sort.SliceStable
// over Children -- same stable ordering, idiomatic for a Go slice.
func (t *Tree) Sort() {
	sortRecursive(t.Root)
}

func sortRecursive(n *Node) {
	if n.Type != TypeDir {
		return
	}
	sort.SliceStable(n.Children, func(i, j int) bool {
		return n.Children[i].Name < n.Children[j].Name
	})
	for _, c := range n.Children {
		sortRecursive(c)
	}
}
