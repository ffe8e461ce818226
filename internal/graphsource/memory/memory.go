package memory

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/goccy/go-json"

	"docembed/internal/domain"
)

// Source is an in-memory graph. It is read-only after construction and safe for
// concurrent use; Connector hands out lightweight handles over the same data.
type Source struct {
	docs      map[domain.EntityID]domain.Document
	docOrder  []domain.EntityID
	users     map[domain.EntityID][]domain.User
	userOrder []domain.EntityID
	opened    atomic.Int64
}

// UserRecord is a user as stored in a fixture: ids of liked documents.
type UserRecord struct {
	ID    domain.EntityID   `json:"uid"`
	Likes []domain.EntityID `json:"likes"`
}

// Fixture is the on-disk form of an in-memory graph.
type Fixture struct {
	Documents []domain.Document `json:"documents"`
	Users     []UserRecord      `json:"users"`
}

// New builds a graph from documents and users. A user id listed more than once
// yields several records for that id, and likes naming an unknown document are
// rejected.
func New(docs []domain.Document, users []UserRecord) (*Source, error) {
	s := &Source{
		docs:  make(map[domain.EntityID]domain.Document, len(docs)),
		users: make(map[domain.EntityID][]domain.User, len(users)),
	}
	for _, d := range docs {
		if _, ok := s.docs[d.ID]; ok {
			return nil, fmt.Errorf("duplicate document %q", d.ID)
		}
		s.docs[d.ID] = d
		s.docOrder = append(s.docOrder, d.ID)
	}
	for _, u := range users {
		user := domain.User{ID: u.ID, Likes: make([]domain.Document, 0, len(u.Likes))}
		for _, id := range u.Likes {
			d, ok := s.docs[id]
			if !ok {
				return nil, fmt.Errorf("user %q likes unknown document %q", u.ID, id)
			}
			user.Likes = append(user.Likes, d)
		}
		if _, ok := s.users[u.ID]; !ok {
			s.userOrder = append(s.userOrder, u.ID)
		}
		s.users[u.ID] = append(s.users[u.ID], user)
	}
	return s, nil
}

// Load reads a JSON fixture.
func Load(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse graph fixture %s: %w", path, err)
	}
	return New(f.Documents, f.Users)
}

// Connector returns a Connector handing out handles over s.
func (s *Source) Connector() domain.Connector {
	return func(ctx context.Context) (domain.GraphSource, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.opened.Add(1)
		return &handle{s: s}, nil
	}
}

// Opened returns how many handles Connector has handed out.
func (s *Source) Opened() int { return int(s.opened.Load()) }

func (s *Source) DocumentIDs(ctx context.Context) ([]domain.EntityID, error) {
	out := make([]domain.EntityID, len(s.docOrder))
	copy(out, s.docOrder)
	return out, ctx.Err()
}

func (s *Source) ActiveUserIDs(ctx context.Context, minLikes int) ([]domain.EntityID, error) {
	var out []domain.EntityID
	for _, id := range s.userOrder {
		if len(s.users[id][0].Likes) >= minLikes {
			out = append(out, id)
		}
	}
	return out, ctx.Err()
}

func (s *Source) LookupUser(ctx context.Context, id domain.EntityID) ([]domain.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records := s.users[id]
	out := make([]domain.User, len(records))
	copy(out, records)
	return out, nil
}

func (s *Source) Document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	if err := ctx.Err(); err != nil {
		return domain.Document{}, err
	}
	d, ok := s.docs[id]
	if !ok {
		return domain.Document{}, fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	}
	return d, nil
}

func (s *Source) Close() error { return nil }

// handle is a per-worker view; closing it leaves the shared graph intact.
type handle struct {
	s      *Source
	closed bool
}

func (h *handle) DocumentIDs(ctx context.Context) ([]domain.EntityID, error) {
	if h.closed {
		return nil, errClosed
	}
	return h.s.DocumentIDs(ctx)
}

func (h *handle) ActiveUserIDs(ctx context.Context, minLikes int) ([]domain.EntityID, error) {
	if h.closed {
		return nil, errClosed
	}
	return h.s.ActiveUserIDs(ctx, minLikes)
}

func (h *handle) LookupUser(ctx context.Context, id domain.EntityID) ([]domain.User, error) {
	if h.closed {
		return nil, errClosed
	}
	return h.s.LookupUser(ctx, id)
}

func (h *handle) Document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	if h.closed {
		return domain.Document{}, errClosed
	}
	return h.s.Document(ctx, id)
}

func (h *handle) Close() error {
	h.closed = true
	return nil
}

var errClosed = fmt.Errorf("graph handle closed")
