package access

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// Registry maps object kinds to their ordered access strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[Kind][]Access
	decisions  *prometheus.CounterVec
}

// NewRegistry returns an empty registry. Every check against it is denied
// until strategies are registered.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[Kind][]Access)}
}

// Register appends strategies for kind. Earlier strategies are consulted first.
func (r *Registry) Register(kind Kind, strategies ...Access) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[kind] = append(r.strategies[kind], strategies...)
}

// SetDecisionCounter counts every decision on c, labelled kind, action and
// allowed.
func (r *Registry) SetDecisionCounter(c *prometheus.CounterVec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = c
}

// Kinds lists the kinds with at least one strategy, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.strategies))
	for k := range r.strategies {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Check asks each strategy registered for kind in turn. The first one that
// grants wins; a kind with no strategies is denied.
func (r *Registry) Check(ctx context.Context, user *models.User, kind Kind, action Action, obj, data interface{}) Decision {
	if user == nil {
		user = models.AnonymousUser()
	}

	r.mu.RLock()
	strategies := r.strategies[kind]
	r.mu.RUnlock()

	d := Decision{Kind: kind, Action: action}
	if len(strategies) == 0 {
		d.Reason = fmt.Sprintf("no access strategy registered for %s", kind)
		r.observe(d)
		return d
	}

	for _, s := range strategies {
		if allowed(ctx, s, user, action, obj, data) {
			d.Allowed = true
			d.Strategy = strategyName(s)
			d.Reason = fmt.Sprintf("granted by %s", d.Strategy)
			r.observe(d)
			return d
		}
	}
	d.Reason = fmt.Sprintf("%s denied by %d strategies", action, len(strategies))
	r.observe(d)
	return d
}

func allowed(ctx context.Context, s Access, user *models.User, action Action, obj, data interface{}) bool {
	switch action {
	case ActionRead:
		return s.CanRead(ctx, user, obj)
	case ActionAdd:
		return s.CanAdd(ctx, user, data)
	case ActionChange:
		return s.CanChange(ctx, user, obj, data)
	case ActionDelete:
		return s.CanDelete(ctx, user, obj)
	default:
		return false
	}
}

func (r *Registry) observe(d Decision) {
	r.mu.RLock()
	c := r.decisions
	r.mu.RUnlock()
	if c == nil {
		return
	}
	c.WithLabelValues(string(d.Kind), string(d.Action), strconv.FormatBool(d.Allowed)).Inc()
}

func strategyName(s Access) string {
	name := fmt.Sprintf("%T", s)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

// CheckUserAccess reports whether the registry grants action on obj to user.
func (r *Registry) CheckUserAccess(ctx context.Context, user *models.User, kind Kind, action Action, obj, data interface{}) bool {
	return r.Check(ctx, user, kind, action, obj, data).Allowed
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry the server binary registers
// its strategies on.
func Default() *Registry {
	return defaultRegistry
}
