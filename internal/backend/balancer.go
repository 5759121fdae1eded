package backend

import "sync"

// Method names the load-balancing policy (§6's `load_balance_method`).
type Method string

const (
	RoundRobin     Method = "round_robin"
	LeastConnected Method = "least_connected"
)

// LoadBalancer selects a server from a live list under one of the two
// policies. Policy state (the Round-Robin cursor) lives inside the
// balancer, not on the server list, so an in-place server-list update
// that keeps the same method does not disturb it (§9 "Policy state
// inside the balancer, not the data").
type LoadBalancer struct {
	mu     sync.Mutex
	method Method
	cursor int
}

// NewLoadBalancer returns a balancer defaulting to Round-Robin.
func NewLoadBalancer() *LoadBalancer {
	return &LoadBalancer{method: RoundRobin}
}

// Method returns the active policy.
func (b *LoadBalancer) Method() Method {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.method
}

// SetMethod changes the active policy. It is idempotent when the new
// method matches the current one; otherwise the cursor resets to zero,
// the same effect as building a fresh instance (§4.4).
func (b *LoadBalancer) SetMethod(m Method) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.method == m {
		return
	}
	b.method = m
	b.cursor = 0
}

// aliveFilter computes the alive-aware visibility rule shared by both
// policies: if any server is alive, only alive servers are visible; if
// none are alive, the rule is disabled entirely so a transient health
// fault never denies all service.
func aliveFilter(servers []*Server) func(*Server) bool {
	aliveCount := 0
	for _, s := range servers {
		if s.Alive() {
			aliveCount++
		}
	}
	if aliveCount == 0 {
		return func(*Server) bool { return true }
	}
	return func(s *Server) bool { return s.Alive() }
}

// Next selects a server according to the active policy, or
// ErrNoServerAvailable wrapped in a PolicyError if none qualifies.
func (b *LoadBalancer) Next(servers []*Server) (*Server, error) {
	b.mu.Lock()
	method := b.method
	b.mu.Unlock()

	switch method {
	case LeastConnected:
		return b.nextLeastConnected(servers)
	default:
		return b.nextRoundRobin(servers)
	}
}

func (b *LoadBalancer) nextRoundRobin(servers []*Server) (*Server, error) {
	if len(servers) == 0 {
		return nil, &PolicyError{Err: ErrNoServerAvailable}
	}
	allow := aliveFilter(servers)

	b.mu.Lock()
	defer b.mu.Unlock()

	for attempt := 0; attempt < len(servers); attempt++ {
		idx := b.cursor % len(servers)
		candidate := servers[idx]
		b.cursor = (b.cursor + 1) % len(servers)
		if allow(candidate) {
			return candidate, nil
		}
	}
	return nil, &PolicyError{Err: ErrNoServerAvailable}
}

func (b *LoadBalancer) nextLeastConnected(servers []*Server) (*Server, error) {
	if len(servers) == 0 {
		return nil, &PolicyError{Err: ErrNoServerAvailable}
	}
	allow := aliveFilter(servers)

	var best *Server
	var bestLoad int64
	for _, s := range servers {
		if !allow(s) {
			continue
		}
		load := s.LoadScore()
		if best == nil || load < bestLoad {
			best = s
			bestLoad = load
		}
	}
	if best == nil {
		return nil, &PolicyError{Err: ErrNoServerAvailable}
	}
	return best, nil
}
