package sim

import "sync"

// HookPos names a point at which a Hookable calls its hooks.
type HookPos struct {
	Name string
}

// HookCtx describes the site a hook is invoked from.
type HookCtx struct {
	Domain Hookable
	Pos    *HookPos
	Item   interface{}
}

// Hookable is an object that hooks can be attached to.
type Hookable interface {
	AcceptHook(hook Hook)
}

// Positions the SerialEngine invokes its hooks at.
var (
	HookPosBeforeEvent = &HookPos{Name: "BeforeEvent"}
	HookPosAfterEvent  = &HookPos{Name: "AfterEvent"}
)

// Hook is a short piece of program that can be invoked by a hookable object.
type Hook interface {
	Func(ctx HookCtx)
}

// HookableBase keeps the hooks of its owner. Hooks may be attached while the
// owner is invoking them from other goroutines.
type HookableBase struct {
	mu    sync.RWMutex
	hooks []Hook
}

// NewHookableBase creates a HookableBase with no hooks.
func NewHookableBase() *HookableBase {
	return new(HookableBase)
}

// AcceptHook attaches a hook.
func (h *HookableBase) AcceptHook(hook Hook) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.hooks = append(h.hooks, hook)
}

// Hooked tells whether any hook is attached.
func (h *HookableBase) Hooked() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.hooks) > 0
}

// InvokeHook calls every attached hook in attach order.
func (h *HookableBase) InvokeHook(ctx HookCtx) {
	h.mu.RLock()
	hooks := h.hooks
	h.mu.RUnlock()

	for _, hook := range hooks {
		hook.Func(ctx)
	}
}
