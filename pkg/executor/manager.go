package executor

import (
	"fmt"
	"sync"

	"github.com/smilemakc/dagrun/pkg/httpclient"
	"github.com/smilemakc/dagrun/pkg/models"
)

// Manager is a registry of executors keyed by node type.
type Manager struct {
	mu        sync.RWMutex
	executors map[models.NodeType]Executor
}

// NewManager creates an empty registry.
func NewManager() *Manager {
	return &Manager{executors: make(map[models.NodeType]Executor)}
}

// Register adds an executor for a node type. Registering the same type
// twice is an error.
func (m *Manager) Register(nodeType models.NodeType, exec Executor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.executors[nodeType]; exists {
		return fmt.Errorf("executor already registered for type %q", nodeType)
	}
	m.executors[nodeType] = exec
	return nil
}

// Get returns the executor for a node type.
func (m *Manager) Get(nodeType models.NodeType) (Executor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("no executor for type %q", nodeType)
	}
	return exec, nil
}

// NewDefaultManager returns a registry with every builtin executor
// registered.
func NewDefaultManager(sender httpclient.Sender) *Manager {
	m := NewManager()
	m.Register(models.NodeTypeStart, &StartExecutor{})
	m.Register(models.NodeTypeEnd, &EndExecutor{})
	m.Register(models.NodeTypeNoop, &NoopExecutor{})
	m.Register(models.NodeTypeHTTPRequest, NewHTTPExecutor(sender))
	m.Register(models.NodeTypeCondition, &ConditionExecutor{})
	m.Register(models.NodeTypeLoop, &LoopExecutor{})
	m.Register(models.NodeTypeFork, &ForkExecutor{})
	m.Register(models.NodeTypePath, &PathExecutor{})
	return m
}
