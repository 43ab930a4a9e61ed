package arrowengine

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/thanos-io/objstore"

	"github.com/dagframe/dagframe/pkg/execution"
)

// SessionOptions configures a Session.
type SessionOptions struct {
	// Conf is the runtime configuration of the session. It takes
	// precedence over the configuration passed to an engine.
	Conf execution.Conf

	// Bucket holds the data read by LoadDF, written by SaveDF and the
	// partitions of datasets persisted with DISK_ONLY. Defaults to an in
	// memory bucket.
	Bucket objstore.Bucket

	// SpillDir is the bucket directory for persisted partitions. Defaults
	// to "_spill".
	SpillDir string

	Allocator memory.Allocator
}

// Session is the backend session shared by the engines bound to it. It owns
// the view catalog used by the SQL engine. A Session outlives the engines
// using it; stopping an engine does not close its session.
type Session struct {
	conf     execution.Conf
	bucket   objstore.Bucket
	spillDir string
	mem      memory.Allocator

	mut   sync.RWMutex
	views map[string]*Dataset
}

// NewSession creates a session.
func NewSession(opts SessionOptions) *Session {
	s := &Session{
		conf:     maps.Clone(opts.Conf),
		bucket:   opts.Bucket,
		spillDir: opts.SpillDir,
		mem:      opts.Allocator,
		views:    make(map[string]*Dataset),
	}
	if s.bucket == nil {
		s.bucket = objstore.NewInMemBucket()
	}
	if s.spillDir == "" {
		s.spillDir = "_spill"
	}
	if s.mem == nil {
		s.mem = memory.DefaultAllocator
	}
	return s
}

// RuntimeConf returns a copy of the session's runtime configuration.
func (s *Session) RuntimeConf() execution.Conf { return maps.Clone(s.conf) }

// Bucket returns the session storage.
func (s *Session) Bucket() objstore.Bucket { return s.bucket }

// replaceView points name at ds and reports whether the view changed.
func (s *Session) replaceView(name string, ds *Dataset) bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	if s.views[name] == ds {
		return false
	}
	s.views[name] = ds
	return true
}

// View returns the dataset registered under name.
func (s *Session) View(name string) (*Dataset, bool) {
	s.mut.RLock()
	defer s.mut.RUnlock()
	ds, ok := s.views[name]
	return ds, ok
}

// Views returns the names of all registered views in sorted order.
func (s *Session) Views() []string {
	s.mut.RLock()
	defer s.mut.RUnlock()
	return slices.Sorted(maps.Keys(s.views))
}

// Close drops all views and deletes the spilled partitions.
func (s *Session) Close(ctx context.Context) error {
	s.mut.Lock()
	clear(s.views)
	s.mut.Unlock()

	var spilled []string
	if err := s.bucket.Iter(ctx, s.spillDir+objstore.DirDelim, func(name string) error {
		spilled = append(spilled, name)
		return nil
	}, objstore.WithRecursiveIter()); err != nil {
		return err
	}
	for _, name := range spilled {
		if err := s.bucket.Delete(ctx, name); err != nil && !s.bucket.IsObjNotFoundErr(err) {
			return err
		}
	}
	return nil
}
