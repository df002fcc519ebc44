// Package approvalflow implements the Approval Flow (spec §4.6): it turns
// the Tool Runtime's approval.requested events into persisted ApprovalRequest
// records, notifies observers, and resolves them back into
// Runtime.ApproveRequest calls when a human approves or rejects.
package approvalflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// diskDocument is the persisted shape of the approval request store.
type diskDocument struct {
	Version  int                                     `json:"version"`
	Requests map[string]*moonmodels.ApprovalRequest `json:"requests"`
}

// Store persists ApprovalRequests to a single JSON file so they survive a
// process restart long enough to be meaningfully resolved (spec §3: "why
// ApprovalRequest is persisted to disk").
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore returns a Store backed by path. The file is created lazily on
// first write.
func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) read() (*diskDocument, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &diskDocument{Version: 1, Requests: make(map[string]*moonmodels.ApprovalRequest)}, nil
		}
		return nil, err
	}
	var doc diskDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Requests == nil {
		doc.Requests = make(map[string]*moonmodels.ApprovalRequest)
	}
	return &doc, nil
}

// write persists doc atomically: write to a temp file in the same directory,
// then rename over the target (spec §4.10/§4.6's persistence pattern).
func (s *Store) write(doc *diskDocument) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Put persists req, overwriting any prior record with the same ID.
func (s *Store) Put(req *moonmodels.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	doc.Requests[req.ID] = req.Clone()
	return s.write(doc)
}

// Get returns the request with the given id, or false if none exists.
func (s *Store) Get(id string) (*moonmodels.ApprovalRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, false, err
	}
	req, ok := doc.Requests[id]
	if !ok {
		return nil, false, nil
	}
	return req.Clone(), true, nil
}

// ListPending returns every request still in the pending state, excluding
// those whose ExpiresAt has already passed.
func (s *Store) ListPending() ([]*moonmodels.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var pending []*moonmodels.ApprovalRequest
	for _, req := range doc.Requests {
		if req.Status == moonmodels.ApprovalPending && req.ExpiresAt.After(now) {
			pending = append(pending, req.Clone())
		}
	}
	return pending, nil
}

// ExpirePending transitions every pending request whose ExpiresAt has
// passed to ApprovalExpired and persists the change, returning their ids.
func (s *Store) ExpirePending() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var expired []string
	for id, req := range doc.Requests {
		if req.Status == moonmodels.ApprovalPending && !req.ExpiresAt.After(now) {
			req.Status = moonmodels.ApprovalExpired
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		if err := s.write(doc); err != nil {
			return nil, err
		}
	}
	return expired, nil
}
