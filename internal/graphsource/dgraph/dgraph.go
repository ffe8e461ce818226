// Package dgraph reads the user/document graph from a Dgraph cluster over gRPC.
//
// Documents are nodes with a url predicate; users reach them through likes.
package dgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"docembed/internal/domain"
	"docembed/internal/util"
)

type Config struct {
	Addr string
	// MaxRecvMsgSize caps a single gRPC response in bytes; id listings of the
	// whole graph need a generous limit.
	MaxRecvMsgSize int
	// QueryTimeout bounds every call; zero means no bound.
	QueryTimeout time.Duration
}

// Source is one gRPC connection to Dgraph. It is owned by a single worker.
type Source struct {
	conn    *grpc.ClientConn
	dg      *dgo.Dgraph
	timeout time.Duration
}

// Open creates a client for cfg.Addr. The connection is established lazily by gRPC.
func Open(cfg Config) (*Source, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(cfg.MaxRecvMsgSize)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dgraph client %s: %w", cfg.Addr, err)
	}
	return &Source{
		conn:    conn,
		dg:      dgo.NewDgraphClient(api.NewDgraphClient(conn)),
		timeout: cfg.QueryTimeout,
	}, nil
}

// Connector opens a fresh Source per call.
func Connector(cfg Config) domain.Connector {
	return func(context.Context) (domain.GraphSource, error) {
		return Open(cfg)
	}
}

const (
	documentFields = `uid
		title
		wordcount
		reviews
		chapters
		likecount
		complete
		tags`

	docsQuery = `{
		docs(func: has(url)) {
			uid
		}
	}`

	usersQuery = `{
		users(func: ge(count(likes), %d)) {
			uid
		}
	}`

	userQuery = `query user($user: string) {
		user(func: uid($user)) {
			uid
			likes {
				` + documentFields + `
			}
		}
	}`

	docQuery = `query doc($doc: string) {
		doc(func: uid($doc)) @filter(has(url)) {
			` + documentFields + `
		}
	}`
)

func (s *Source) query(ctx context.Context, q string, vars map[string]string, out any) error {
	ctx, cancel := util.WithTimeout(ctx, s.timeout)
	defer cancel()
	txn := s.dg.NewReadOnlyTxn().BestEffort()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, vars)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Json, out); err != nil {
		return fmt.Errorf("decode dgraph response: %w", err)
	}
	return nil
}

func (s *Source) DocumentIDs(ctx context.Context) ([]domain.EntityID, error) {
	var resp struct {
		Docs []struct {
			UID domain.EntityID `json:"uid"`
		} `json:"docs"`
	}
	if err := s.query(ctx, docsQuery, nil, &resp); err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	ids := make([]domain.EntityID, len(resp.Docs))
	for i, d := range resp.Docs {
		ids[i] = d.UID
	}
	return ids, nil
}

func (s *Source) ActiveUserIDs(ctx context.Context, minLikes int) ([]domain.EntityID, error) {
	var resp struct {
		Users []struct {
			UID domain.EntityID `json:"uid"`
		} `json:"users"`
	}
	if err := s.query(ctx, usersQueryFor(minLikes), nil, &resp); err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	ids := make([]domain.EntityID, len(resp.Users))
	for i, u := range resp.Users {
		ids[i] = u.UID
	}
	return ids, nil
}

func usersQueryFor(minLikes int) string { return fmt.Sprintf(usersQuery, minLikes) }

func (s *Source) LookupUser(ctx context.Context, id domain.EntityID) ([]domain.User, error) {
	var resp struct {
		User []domain.User `json:"user"`
	}
	if err := s.query(ctx, userQuery, map[string]string{"$user": string(id)}, &resp); err != nil {
		return nil, err
	}
	return resp.User, nil
}

func (s *Source) Document(ctx context.Context, id domain.EntityID) (domain.Document, error) {
	var resp struct {
		Doc []domain.Document `json:"doc"`
	}
	if err := s.query(ctx, docQuery, map[string]string{"$doc": string(id)}, &resp); err != nil {
		return domain.Document{}, err
	}
	switch len(resp.Doc) {
	case 0:
		return domain.Document{}, fmt.Errorf("%q: %w", id, domain.ErrDocumentNotFound)
	case 1:
		return resp.Doc[0], nil
	default:
		return domain.Document{}, fmt.Errorf("document %q resolved to %d records", id, len(resp.Doc))
	}
}

func (s *Source) Close() error { return s.conn.Close() }
