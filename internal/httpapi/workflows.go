package httpapi

import (
	"context"
	"sync"

	"github.com/thechillpixel0/tallyra/internal/calculator"
	"github.com/thechillpixel0/tallyra/internal/domain"
)

// workflowFactory builds the calculator for a newly seen session.
type workflowFactory func(ctx context.Context, session domain.Session) (*calculator.Workflow, error)

// workflowRegistry holds one calculator per login session.
type workflowRegistry struct {
	mu    sync.Mutex
	build workflowFactory
	byID  map[string]*calculator.Workflow
}

func newWorkflowRegistry(build workflowFactory) *workflowRegistry {
	return &workflowRegistry{build: build, byID: make(map[string]*calculator.Workflow)}
}

func (r *workflowRegistry) get(ctx context.Context, session domain.Session) (*calculator.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if wf, ok := r.byID[session.ID]; ok {
		return wf, nil
	}
	wf, err := r.build(ctx, session)
	if err != nil {
		return nil, err
	}
	r.byID[session.ID] = wf
	return wf, nil
}

func (r *workflowRegistry) drop(sessionIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range sessionIDs {
		delete(r.byID, id)
	}
}

func (r *workflowRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
