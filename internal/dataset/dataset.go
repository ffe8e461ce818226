// Package dataset builds signed document pairs from the user/document graph.
//
// A GraphDataset holds the users of one split. Sampling happens on Workers:
// every worker lazily opens its own GraphSource through the dataset's
// Connector and never shares it.
package dataset

import (
	"errors"
	"time"

	"docembed/internal/domain"
	"docembed/internal/features"
	"docembed/internal/partition"
)

// Options tune a GraphDataset.
type Options struct {
	// DocumentCacheSize bounds the per-worker LRU of documents fetched from the
	// global pool. Zero disables caching.
	DocumentCacheSize int
	// ConnectTries is how often a worker tries to open its connection.
	ConnectTries int
	// ConnectBackoff is the base delay between connection attempts.
	ConnectBackoff time.Duration
	// TagTableSize is the number of tag buckets; zero selects features.TagTableSize.
	TagTableSize int
}

// GraphDataset samples pairs for the users of one split.
type GraphDataset struct {
	snapshot *Snapshot
	encoder  *features.Encoder
	users    []domain.EntityID
	training bool
	connect  domain.Connector
	opts     Options
}

// New retains the snapshot users that fall in the requested split. The
// filtering happens once, here.
func New(snapshot *Snapshot, training bool, connect domain.Connector, opts Options) *GraphDataset {
	if opts.ConnectTries <= 0 {
		opts.ConnectTries = 1
	}
	return &GraphDataset{
		snapshot: snapshot,
		encoder:  features.NewEncoder(snapshot.Index, opts.TagTableSize),
		users:    partition.Filter(snapshot.Users, training),
		training: training,
		connect:  connect,
		opts:     opts,
	}
}

// Len returns the number of retained users.
func (d *GraphDataset) Len() int { return len(d.users) }

// Training reports which split the dataset serves.
func (d *GraphDataset) Training() bool { return d.training }

// UserID returns the i-th retained user.
func (d *GraphDataset) UserID(i int) domain.EntityID { return d.users[i] }

// Encoder returns the encoder shared by all workers.
func (d *GraphDataset) Encoder() *features.Encoder { return d.encoder }

func (d *GraphDataset) split() string {
	if d.training {
		return "train"
	}
	return "validation"
}

// Recoverable reports whether err is a data-integrity anomaly that the caller
// may recover from by drawing another user.
func Recoverable(err error) bool {
	return errors.Is(err, domain.ErrMissingUser) || errors.Is(err, domain.ErrNoLikes)
}
