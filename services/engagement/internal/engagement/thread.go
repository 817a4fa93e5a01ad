package engagement

import "github.com/example/blog-platform/services/engagement/internal/domain"

// BuildThread turns a flat, oldest-first comment list into a forest. Children
// are grouped under their parent in one pass; depth is unbounded. A comment
// whose parent is absent from the list is treated as a root.
func BuildThread(comments []domain.Comment) []*domain.CommentNode {
	nodes := make(map[string]*domain.CommentNode, len(comments))
	for _, c := range comments {
		nodes[c.ID] = &domain.CommentNode{Comment: c, Replies: []*domain.CommentNode{}}
	}

	roots := []*domain.CommentNode{}
	for _, c := range comments {
		n := nodes[c.ID]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok {
				parent.Replies = append(parent.Replies, n)
				continue
			}
		}
		roots = append(roots, n)
	}
	return roots
}

// Subtree returns rootID and the ids of all its descendants found in
// comments, parents before children.
func Subtree(comments []domain.Comment, rootID string) []string {
	children := make(map[string][]string)
	for _, c := range comments {
		if c.ParentID != nil {
			children[*c.ParentID] = append(children[*c.ParentID], c.ID)
		}
	}

	ids := []string{rootID}
	seen := map[string]bool{rootID: true}
	for i := 0; i < len(ids); i++ {
		for _, child := range children[ids[i]] {
			if !seen[child] {
				seen[child] = true
				ids = append(ids, child)
			}
		}
	}
	return ids
}
