// Package state is the durable issue backlog of the graph optimizer. Issues
// are stored in an embedded badgerhold database keyed by their issue key, so a
// repeated detection of the same problem is rejected by the store itself.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/OFFIS-RIT/kgraph/pkg/common"
	"github.com/OFFIS-RIT/kgraph/pkg/logger"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
)

// ErrNotFound is returned when updating an issue that was never added.
var ErrNotFound = errors.New("issue not found")

type issueRecord struct {
	Key      string           `badgerhold:"key"`
	Type     common.IssueType `badgerhold:"index"`
	Resolved bool             `badgerhold:"index"`
	Seq      int64
	Issue    common.Issue
}

// Store is the badgerhold backed issue store. It is safe for concurrent use.
type Store struct {
	db *badgerhold.Store
}

// Open opens or creates the issue store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil
	// Issues hold free form attribute maps, which gob cannot encode.
	options.Encoder = json.Marshal
	options.Decoder = json.Unmarshal

	db, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open issue store: %w", err)
	}
	logger.Debug("[State] Issue store opened", "dir", dir)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AddIssues inserts issues whose key is not yet stored and returns the ones
// that were added, in input order. Key is filled in when empty.
func (s *Store) AddIssues(ctx context.Context, issues []common.Issue) ([]common.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	added := make([]common.Issue, 0, len(issues))
	now := time.Now().UnixNano()
	err := s.db.Badger().Update(func(tx *badger.Txn) error {
		added = added[:0]
		for i, issue := range issues {
			if issue.Key == "" {
				issue.Key = common.IssueKey(issue.Type, issue.AffectedIDs)
			}
			rec := &issueRecord{
				Key:      issue.Key,
				Type:     issue.Type,
				Resolved: issue.Resolved,
				Seq:      now + int64(i),
				Issue:    issue,
			}
			err := s.db.TxInsert(tx, issue.Key, rec)
			if errors.Is(err, badgerhold.ErrKeyExists) {
				logger.Debug("[State] Skipping duplicate issue", "key", issue.Key)
				continue
			}
			if err != nil {
				return err
			}
			added = append(added, issue)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add issues: %w", err)
	}

	if dup := len(issues) - len(added); dup > 0 {
		logger.Info("[State] Added issues", "added", len(added), "duplicates", dup)
	}
	return added, nil
}

// Issues returns every stored issue in detection order.
func (s *Store) Issues(ctx context.Context) ([]common.Issue, error) {
	return s.find(ctx, badgerhold.Where("Key").Ne("").SortBy("Seq"))
}

// Unresolved returns the issues that still wait for a repair.
func (s *Store) Unresolved(ctx context.Context) ([]common.Issue, error) {
	return s.find(ctx, badgerhold.Where("Resolved").Eq(false).Index("Resolved").SortBy("Seq"))
}

// IssuesByType returns the issues of one type.
func (s *Store) IssuesByType(ctx context.Context, t common.IssueType) ([]common.Issue, error) {
	return s.find(ctx, badgerhold.Where("Type").Eq(t).Index("Type").SortBy("Seq"))
}

func (s *Store) find(ctx context.Context, q *badgerhold.Query) ([]common.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var recs []issueRecord
	if err := s.db.Find(&recs, q); err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	out := make([]common.Issue, len(recs))
	for i, r := range recs {
		out[i] = r.Issue
	}
	return out, nil
}

// Update replaces the stored state of issue, matched by its key.
func (s *Store) Update(ctx context.Context, issue common.Issue) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if issue.Key == "" {
		issue.Key = common.IssueKey(issue.Type, issue.AffectedIDs)
	}

	return s.db.Badger().Update(func(tx *badger.Txn) error {
		var rec issueRecord
		if err := s.db.TxGet(tx, issue.Key, &rec); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, issue.Key)
			}
			return err
		}
		rec.Issue = issue
		rec.Resolved = issue.Resolved
		return s.db.TxUpdate(tx, issue.Key, &rec)
	})
}

// Clear removes every issue.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.DeleteMatching(&issueRecord{}, badgerhold.Where("Key").Ne("")); err != nil {
		return fmt.Errorf("failed to clear issues: %w", err)
	}
	logger.Info("[State] Issue store cleared")
	return nil
}
