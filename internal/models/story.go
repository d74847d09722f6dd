package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoryCharacter - персонаж, предложенный при старте истории.
type StoryCharacter struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

// StoryNode - один фрагмент повествования и выбор, который к нему привел.
type StoryNode struct {
	ID             string   `json:"id"`
	StoryPart      string   `json:"storyPart"`
	ParentID       *string  `json:"parentId"`
	Choice         *string  `json:"choice"`
	BranchingPaths []string `json:"branchingPaths"`
}

// IsRoot сообщает, является ли узел корнем дерева.
func (n *StoryNode) IsRoot() bool {
	return n.ParentID == nil
}

// Story - дерево узлов истории. Узлы хранятся в map по ID, связи - через ParentID.
type Story struct {
	ID            string                `json:"id"`
	Title         string                `json:"title"`
	Genre         string                `json:"genre"`
	Characters    []StoryCharacter      `json:"characters,omitempty"`
	Nodes         map[string]*StoryNode `json:"nodes"`
	RootNodeID    string                `json:"rootNodeId"`
	CurrentNodeID string                `json:"currentNodeId"`
	IsComplete    bool                  `json:"isComplete"`
	FinalTitle    string                `json:"finalTitle,omitempty"`
	Conclusion    string                `json:"conclusion,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// NewNode создает узел с новым UUID.
func NewNode(parentID, choice *string, storyPart string, branchingPaths []string) *StoryNode {
	paths := make([]string, len(branchingPaths))
	copy(paths, branchingPaths)
	return &StoryNode{
		ID:             uuid.NewString(),
		StoryPart:      storyPart,
		ParentID:       parentID,
		Choice:         choice,
		BranchingPaths: paths,
	}
}

// CurrentNode возвращает узел, на котором сейчас находится пользователь.
func (s *Story) CurrentNode() (*StoryNode, error) {
	node, ok := s.Nodes[s.CurrentNodeID]
	if !ok || node == nil {
		return nil, fmt.Errorf("%w: story %s, node %q", ErrCurrentNodeNotFound, s.ID, s.CurrentNodeID)
	}
	return node, nil
}

// AppendNode добавляет потомка текущего узла и переводит currentNodeId на него.
// Существующие узлы не изменяются.
func (s *Story) AppendNode(choice, storyPart string, branchingPaths []string) (*StoryNode, error) {
	if s.IsComplete {
		return nil, fmt.Errorf("%w: story %s", ErrStoryAlreadyComplete, s.ID)
	}
	current, err := s.CurrentNode()
	if err != nil {
		return nil, err
	}

	parentID := current.ID
	node := NewNode(&parentID, &choice, storyPart, branchingPaths)
	if s.Nodes == nil {
		s.Nodes = make(map[string]*StoryNode)
	}
	s.Nodes[node.ID] = node
	s.CurrentNodeID = node.ID
	s.UpdatedAt = time.Now().UTC()
	return node, nil
}

// Complete проставляет итоговые поля истории.
func (s *Story) Complete(finalTitle, conclusion string) error {
	if s.IsComplete {
		return fmt.Errorf("%w: story %s", ErrStoryAlreadyComplete, s.ID)
	}
	s.IsComplete = true
	s.FinalTitle = finalTitle
	s.Conclusion = conclusion
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// History восстанавливает пройденный путь от корня до текущего узла.
// Путь строится только по parentId от currentNodeId, другие ветви игнорируются.
func (s *Story) History() ([]*StoryNode, error) {
	node, err := s.CurrentNode()
	if err != nil {
		return nil, err
	}

	path := make([]*StoryNode, 0, len(s.Nodes))
	for steps := 0; ; steps++ {
		if steps >= len(s.Nodes) {
			return nil, fmt.Errorf("%w: cycle detected in story %s", ErrInvalidStory, s.ID)
		}
		path = append(path, node)
		if node.ParentID == nil {
			break
		}
		parent, ok := s.Nodes[*node.ParentID]
		if !ok || parent == nil {
			return nil, fmt.Errorf("%w: node %s references missing parent %s", ErrInvalidStory, node.ID, *node.ParentID)
		}
		node = parent
	}

	if path[len(path)-1].ID != s.RootNodeID {
		return nil, fmt.Errorf("%w: path does not end at root %s", ErrInvalidStory, s.RootNodeID)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path, nil
}

// StoryParts возвращает тексты пройденного пути в хронологическом порядке.
func (s *Story) StoryParts() ([]string, error) {
	history, err := s.History()
	if err != nil {
		return nil, err
	}
	parts := make([]string, 0, len(history))
	for _, node := range history {
		parts = append(parts, node.StoryPart)
	}
	return parts, nil
}

// Depth - количество узлов на пройденном пути.
func (s *Story) Depth() (int, error) {
	history, err := s.History()
	if err != nil {
		return 0, err
	}
	return len(history), nil
}

// Validate проверяет инварианты дерева:
// ровно один корень и он равен rootNodeId, у остальных узлов родитель существует,
// currentNodeId существует, циклов нет.
func (s *Story) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("%w: story has no nodes", ErrInvalidStory)
	}

	roots := 0
	for id, node := range s.Nodes {
		if node == nil {
			return fmt.Errorf("%w: node %s is nil", ErrInvalidStory, id)
		}
		if node.ID != id {
			return fmt.Errorf("%w: node key %s does not match node id %s", ErrInvalidStory, id, node.ID)
		}
		if node.ParentID == nil {
			roots++
			if id != s.RootNodeID {
				return fmt.Errorf("%w: node %s has no parent but is not the root", ErrInvalidStory, id)
			}
			continue
		}
		if _, ok := s.Nodes[*node.ParentID]; !ok {
			return fmt.Errorf("%w: node %s references missing parent %s", ErrInvalidStory, id, *node.ParentID)
		}
	}
	if roots != 1 {
		return fmt.Errorf("%w: expected exactly one root, got %d", ErrInvalidStory, roots)
	}
	if _, err := s.CurrentNode(); err != nil {
		return err
	}

	for id, node := range s.Nodes {
		steps := 0
		for node.ParentID != nil {
			steps++
			if steps > len(s.Nodes) {
				return fmt.Errorf("%w: cycle detected at node %s", ErrInvalidStory, id)
			}
			node = s.Nodes[*node.ParentID]
		}
	}
	return nil
}

// Clone возвращает глубокую копию истории.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Characters != nil {
		cp.Characters = make([]StoryCharacter, len(s.Characters))
		copy(cp.Characters, s.Characters)
	}
	if s.Nodes != nil {
		cp.Nodes = make(map[string]*StoryNode, len(s.Nodes))
		for id, node := range s.Nodes {
			cp.Nodes[id] = node.clone()
		}
	}
	return &cp
}

func (n *StoryNode) clone() *StoryNode {
	if n == nil {
		return nil
	}
	cp := *n
	if n.ParentID != nil {
		parentID := *n.ParentID
		cp.ParentID = &parentID
	}
	if n.Choice != nil {
		choice := *n.Choice
		cp.Choice = &choice
	}
	if n.BranchingPaths != nil {
		cp.BranchingPaths = make([]string, len(n.BranchingPaths))
		copy(cp.BranchingPaths, n.BranchingPaths)
	}
	return &cp
}
