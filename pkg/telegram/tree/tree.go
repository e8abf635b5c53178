// Package tree собирает плоский список ответов в дерево комментариев любой глубины.
package tree

import "corecu_go/models"

// LinkFunc строит ссылку на комментарий по его ID. Может быть nil.
type LinkFunc func(id int) string

// parentOf возвращает непосредственного родителя: ответ на сообщение,
// иначе вершину треда, иначе сам корень.
func parentOf(m models.Message, rootID int) int {
	if m.ParentID > 0 {
		return m.ParentID
	}
	if m.ThreadRootID > 0 {
		return m.ThreadRootID
	}
	return rootID
}

// Build возвращает лес комментариев. Корнями становятся ответы прямо на rootID
// и сообщения, чей родитель отсутствует в выборке (удалён или вне окна).
// Порядок детей совпадает с порядком ленты. Привязка, замыкающая цикл,
// делает узел корнем, поэтому обход леса всегда возвращает все входные ID.
func Build(flat []models.Message, rootID int, link LinkFunc) []*models.CommentNode {
	nodes := make(map[int]*models.CommentNode, len(flat))
	for _, m := range flat {
		if _, dup := nodes[m.ID]; dup {
			continue
		}
		nodes[m.ID] = newNode(m, link)
	}

	attachedTo := make(map[int]int, len(flat))
	placed := make(map[int]struct{}, len(flat))
	var roots []*models.CommentNode
	for _, m := range flat {
		if _, done := placed[m.ID]; done {
			continue
		}
		placed[m.ID] = struct{}{}
		node := nodes[m.ID]

		pid := parentOf(m, rootID)
		parent, found := nodes[pid]
		if pid == rootID || !found || closesCycle(attachedTo, m.ID, pid) {
			roots = append(roots, node)
			continue
		}
		attachedTo[m.ID] = pid
		parent.Children = append(parent.Children, node)
	}
	return roots
}

// closesCycle проверяет, приведёт ли привязка id к parent к циклу:
// поднимаемся от parent по уже сделанным привязкам и ищем id.
func closesCycle(attachedTo map[int]int, id, parent int) bool {
	for cur, steps := parent, 0; steps <= len(attachedTo); steps++ {
		if cur == id {
			return true
		}
		next, ok := attachedTo[cur]
		if !ok {
			return false
		}
		cur = next
	}
	return true
}

func newNode(m models.Message, link LinkFunc) *models.CommentNode {
	node := &models.CommentNode{
		ID:        m.ID,
		Timestamp: m.Timestamp,
		Reactions: m.Reactions,
		Children:  []*models.CommentNode{},
	}
	if id := m.AuthorID(); id != 0 {
		node.AuthorID = &id
	}
	if m.Text != "" {
		text := m.Text
		node.Text = &text
	}
	if link != nil {
		node.Link = link(m.ID)
	}
	return node
}

// Flatten обходит лес в прямом порядке и возвращает ID узлов.
func Flatten(forest []*models.CommentNode) []int {
	var ids []int
	var walk func([]*models.CommentNode)
	walk = func(nodes []*models.CommentNode) {
		for _, n := range nodes {
			ids = append(ids, n.ID)
			walk(n.Children)
		}
	}
	walk(forest)
	return ids
}
