package topic

import (
	"sort"
	"sync"
)

// Delivery is one routed message as seen by a single subscription.
type Delivery struct {
	// Filter is the subscription filter that matched.
	Filter string

	// Topic is the concrete topic the message was published on.
	Topic string

	// Payload is the raw message body, shared between all deliveries of a message.
	Payload []byte

	// QoS is the QoS level of the matching subscription.
	QoS byte
}

// Handler receives deliveries for one subscription.
type Handler func(Delivery)

// Subscription is a registered filter and its QoS level.
type Subscription struct {
	Filter string `json:"topic"`
	QoS    byte   `json:"qos"`
}

type route struct {
	qos     byte
	handler Handler
}

// Change identifies one mutation of a filter. Revert uses it to tell
// whether the filter was touched again, or the router cleared, since.
type Change struct {
	Filter string

	// Prev is the subscription the mutation replaced or removed.
	Prev    Subscription
	Existed bool

	epoch   uint64
	version uint64
}

// Router fans inbound messages out to every subscription whose filter matches.
//
// Filters are unique: adding an existing filter replaces its QoS and handler.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handlers are invoked without the router lock held, so they may call
//     back into the router.
type Router struct {
	mu     sync.RWMutex
	routes map[string]route

	// touched holds the version of the last mutation per filter since the
	// last Clear, removals included.
	touched map[string]uint64
	version uint64
	epoch   uint64
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]route), touched: make(map[string]uint64)}
}

// stamp records a mutation of filter. The caller holds r.mu.
func (r *Router) stamp(filter string) uint64 {
	r.version++
	r.touched[filter] = r.version
	return r.version
}

// Add registers or replaces the subscription for filter.
//
// Returns:
//   - bool: true if filter was already registered (its QoS was replaced)
func (r *Router) Add(filter string, qos byte, handler Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.routes[filter]
	r.routes[filter] = route{qos: qos, handler: handler}
	r.stamp(filter)
	return existed
}

// Swap is Add that also returns the Change needed to undo it.
func (r *Router) Swap(filter string, qos byte, handler Handler) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.routes[filter]
	r.routes[filter] = route{qos: qos, handler: handler}
	return Change{
		Filter:  filter,
		Prev:    Subscription{Filter: filter, QoS: prev.qos},
		Existed: existed,
		epoch:   r.epoch,
		version: r.stamp(filter),
	}
}

// Take is Remove that also returns the Change needed to undo it. Taking an
// unknown filter changes nothing and reports Existed false.
func (r *Router) Take(filter string) Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.routes[filter]
	if !existed {
		return Change{Filter: filter}
	}
	delete(r.routes, filter)
	return Change{
		Filter:  filter,
		Prev:    Subscription{Filter: filter, QoS: prev.qos},
		Existed: true,
		epoch:   r.epoch,
		version: r.stamp(filter),
	}
}

// Revert undoes ch, restoring ch.Prev with handler or removing the filter
// when it did not exist before. Nothing happens if the router was cleared
// or the filter mutated again after ch.
//
// Returns:
//   - bool: true if the change was undone
func (r *Router) Revert(ch Change, handler Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch.version == 0 || ch.epoch != r.epoch || r.touched[ch.Filter] != ch.version {
		return false
	}
	if ch.Existed {
		r.routes[ch.Filter] = route{qos: ch.Prev.QoS, handler: handler}
	} else {
		delete(r.routes, ch.Filter)
	}
	r.stamp(ch.Filter)
	return true
}

// Remove drops the subscription for filter. Removing an unknown filter is a no-op.
//
// Returns:
//   - bool: true if a subscription was removed
func (r *Router) Remove(filter string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, existed := r.routes[filter]
	if existed {
		delete(r.routes, filter)
		r.stamp(filter)
	}
	return existed
}

// Clear removes every subscription.
func (r *Router) Clear() {
	r.mu.Lock()
	r.routes = make(map[string]route)
	r.touched = make(map[string]uint64)
	r.epoch++
	r.mu.Unlock()
}

// Has reports whether filter is registered. This is an exact filter lookup,
// not a match.
func (r *Router) Has(filter string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[filter]
	return ok
}

// Get returns the subscription registered for filter.
func (r *Router) Get(filter string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[filter]
	if !ok {
		return Subscription{}, false
	}
	return Subscription{Filter: filter, QoS: rt.qos}, true
}

// Len returns the number of registered subscriptions.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Subscriptions returns the registered subscriptions sorted by filter.
func (r *Router) Subscriptions() []Subscription {
	r.mu.RLock()
	subs := make([]Subscription, 0, len(r.routes))
	for filter, rt := range r.routes {
		subs = append(subs, Subscription{Filter: filter, QoS: rt.qos})
	}
	r.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].Filter < subs[j].Filter })
	return subs
}

// Route delivers a message to every subscription matching topic, in filter
// order, and returns the number of deliveries made.
func (r *Router) Route(topic string, payload []byte) int {
	type target struct {
		filter string
		route
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.routes))
	for filter, rt := range r.routes {
		if Match(filter, topic) {
			targets = append(targets, target{filter: filter, route: rt})
		}
	}
	r.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].filter < targets[j].filter })

	for _, t := range targets {
		if t.handler != nil {
			t.handler(Delivery{Filter: t.filter, Topic: topic, Payload: payload, QoS: t.qos})
		}
	}
	return len(targets)
}
