package graph

import (
	"errors"
	"fmt"
	"time"

	"outreach-engine/internal/models"
)

var (
	ErrNotFound        = errors.New("user not found")
	ErrAlreadyAttached = errors.New("user is already attached to a referrer")
	ErrCycleDetected   = errors.New("referral cycle detected")
)

// UserStore is the persistence boundary of the referral forest.
type UserStore interface {
	GetUser(id uint) (models.User, error)
	CreateUser(user models.User) error
	SaveUser(user models.User) error
	// ChildrenOf returns direct recruits ordered by join time, then id.
	ChildrenOf(id uint) ([]models.User, error)
}

// Ancestor pairs an upline user with its level: the distance in referrer
// hops from the user the walk started at (1 = direct recruiter).
type Ancestor struct {
	User  models.User
	Level int
}

// Node is the downline projection handed to UI callers.
type Node struct {
	User     models.User `json:"user"`
	Children []*Node     `json:"children"`
}

type Graph struct {
	store UserStore
}

func New(store UserStore) *Graph {
	return &Graph{store: store}
}

// Attach creates the node for id under the given referrer, or as a root when
// referrerID is nil. A node that already exists as a root may be attached
// late; a node that already has a referrer never re-attaches. The cycle
// check is defensive: attachment order makes cycles structurally impossible,
// but callers supply arbitrary ids.
func (g *Graph) Attach(id uint, referrerID *uint, t models.Tier, joinedAt time.Time) (models.User, error) {
	existing, err := g.store.GetUser(id)
	switch {
	case err == nil && existing.ReferrerID != nil:
		return models.User{}, ErrAlreadyAttached
	case err != nil && !errors.Is(err, ErrNotFound):
		return models.User{}, err
	}

	if referrerID != nil {
		if *referrerID == id {
			return models.User{}, ErrCycleDetected
		}
		parent, err := g.store.GetUser(*referrerID)
		if err != nil {
			return models.User{}, fmt.Errorf("referrer %d: %w", *referrerID, err)
		}
		// Walk up from the referrer; finding id means the referrer sits in
		// id's own downline. The visited set keeps the walk finite even on
		// corrupt data.
		visited := map[uint]bool{parent.ID: true}
		cur := parent
		for cur.ReferrerID != nil {
			next := *cur.ReferrerID
			if next == id {
				return models.User{}, ErrCycleDetected
			}
			if visited[next] {
				return models.User{}, ErrCycleDetected
			}
			visited[next] = true
			cur, err = g.store.GetUser(next)
			if err != nil {
				return models.User{}, err
			}
		}
	}

	if err == nil {
		// Late attachment of an existing root. The tier is taken from this
		// call so the user row agrees with whatever history the caller
		// records alongside it.
		existing.ReferrerID = referrerID
		existing.Tier = t
		if saveErr := g.store.SaveUser(existing); saveErr != nil {
			return models.User{}, saveErr
		}
		return existing, nil
	}

	user := models.User{
		ID:         id,
		ReferrerID: referrerID,
		Tier:       t,
		Active:     true,
		JoinedAt:   joinedAt,
	}
	if err := g.store.CreateUser(user); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// AncestorsOf walks the referrer chain nearest-first, at most maxDepth hops.
// The loop is iterative with an explicit counter so a violated forest
// invariant can never make it unbounded. The result never contains userID.
func (g *Graph) AncestorsOf(userID uint, maxDepth int) ([]Ancestor, error) {
	cur, err := g.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	ancestors := make([]Ancestor, 0, maxDepth)
	for level := 1; level <= maxDepth; level++ {
		if cur.ReferrerID == nil {
			break
		}
		parent, err := g.store.GetUser(*cur.ReferrerID)
		if err != nil {
			return nil, fmt.Errorf("ancestor at level %d: %w", level, err)
		}
		ancestors = append(ancestors, Ancestor{User: parent, Level: level})
		cur = parent
	}
	return ancestors, nil
}

func (g *Graph) DirectChildrenOf(userID uint) ([]models.User, error) {
	if _, err := g.store.GetUser(userID); err != nil {
		return nil, err
	}
	return g.store.ChildrenOf(userID)
}

// Descendants returns the full downline breadth-first, nearest generation
// first. The forest is finite and acyclic, so the scan terminates.
func (g *Graph) Descendants(userID uint) ([]models.User, error) {
	if _, err := g.store.GetUser(userID); err != nil {
		return nil, err
	}
	var out []models.User
	queue := []uint{userID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		children, err := g.store.ChildrenOf(id)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			out = append(out, c)
			queue = append(queue, c.ID)
		}
	}
	return out, nil
}

// DownlineTree builds the nested downline view rooted at userID.
func (g *Graph) DownlineTree(userID uint) (*Node, error) {
	root, err := g.store.GetUser(userID)
	if err != nil {
		return nil, err
	}
	node := &Node{User: root}
	queue := []*Node{node}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := g.store.ChildrenOf(cur.User.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			child := &Node{User: c}
			cur.Children = append(cur.Children, child)
			queue = append(queue, child)
		}
	}
	return node, nil
}
