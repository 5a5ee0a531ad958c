package handlers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Taskflow/internal/domain"
)

// Registry — реестр handler'ов по типу задачи.
//
// Заполняется явно при старте процесса. Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]TaskHandler),
	}
}

// DefaultRegistry создаёт реестр со всеми встроенными handler'ами.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(NewStartHandler())
	r.Register(NewEndHandler())
	r.Register(NewSetVariablesHandler())
	r.Register(NewEvaluateHandler())
	r.Register(NewHTTPHandler())
	r.Register(NewApprovalHandler())
	r.Register(NewFormHandler())

	return r
}

// Register регистрирует handler.
// Handler с таким же типом будет перезаписан.
func (r *Registry) Register(h TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.TypeID()] = h
}

// Get возвращает handler по типу.
// Возвращает ErrHandlerNotFound, если тип не зарегистрирован.
func (r *Registry) Get(typeID string) (TaskHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, exists := r.handlers[typeID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, typeID)
	}
	return h, nil
}

// Interactive возвращает интерактивный handler по типу.
func (r *Registry) Interactive(typeID string) (InteractiveHandler, error) {
	h, err := r.Get(typeID)
	if err != nil {
		return nil, err
	}
	ih, ok := h.(InteractiveHandler)
	if !ok || !h.IsInteractive() {
		return nil, fmt.Errorf("%w: %s", ErrNotInteractive, typeID)
	}
	return ih, nil
}

// Has проверяет, зарегистрирован ли тип.
func (r *Registry) Has(typeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.handlers[typeID]
	return exists
}

// IsInteractive возвращает true для интерактивных типов.
func (r *Registry) IsInteractive(typeID string) bool {
	h, err := r.Get(typeID)
	return err == nil && h.IsInteractive()
}

// ValidateNodeConfig проверяет конфигурацию узла handler'ом его типа.
func (r *Registry) ValidateNodeConfig(node *domain.TaskNode) []error {
	h, err := r.Get(node.TypeID)
	if err != nil {
		return nil
	}
	if v, ok := h.(ConfigValidator); ok {
		return v.ValidateConfig(node.Config)
	}
	return nil
}

// Types возвращает отсортированный список зарегистрированных типов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
