package testutils

import (
	"context"
	"sync"

	"github.com/engramlabs/engram/pkg/vector"
)

// MockVectorDriver is a test vector driver. Safe for concurrent use so the
// background embedding pool can write into it from multiple workers.
type MockVectorDriver struct {
	mu        sync.Mutex
	documents []vector.Document

	// Results is returned by Query for any embedding.
	Results []vector.QueryResult
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{
		documents: make([]vector.Document, 0),
	}
}

func (m *MockVectorDriver) Add(_ context.Context, docs []vector.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents = append(m.documents, docs...)
	return nil
}

func (m *MockVectorDriver) Query(_ context.Context, _ []float32, topK int) ([]vector.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Results) < topK {
		return m.Results, nil
	}
	return m.Results[:topK], nil
}

func (m *MockVectorDriver) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		for i, doc := range m.documents {
			if doc.ID == id {
				m.documents = append(m.documents[:i], m.documents[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Documents returns a snapshot of everything added so far.
func (m *MockVectorDriver) Documents() []vector.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]vector.Document(nil), m.documents...)
}

func (m *MockVectorDriver) Close() error {
	return nil
}
