package transport

import "sync"

// Pool shares one Client per endpoint. Devices configured against the
// same TCP gateway or serial bus get the same session and therefore
// the same request serialization.
type Pool struct {
	mu      sync.Mutex
	clients map[string]*Client
	logger  Logger
}

// NewPool creates an empty pool. The logger, when set, is attached to
// every client the pool creates.
func NewPool(logger Logger) *Pool {
	return &Pool{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Get returns the client for the config's endpoint, creating it on
// first use. Later callers with the same endpoint share the first
// caller's session settings.
func (p *Pool) Get(cfg Config) (*Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := cfg.Endpoint()
	if client, ok := p.clients[key]; ok {
		return client, nil
	}

	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if p.logger != nil {
		client.SetLogger(p.logger)
	}
	p.clients[key] = client
	return client, nil
}

// Stats snapshots every endpoint's counters, keyed by endpoint.
func (p *Pool) Stats() map[string]Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]Stats, len(p.clients))
	for key, client := range p.clients {
		out[key] = client.Stats()
	}
	return out
}

// CloseAll tears down every session. The first close error is
// returned; all sessions are closed regardless.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var first error
	for _, client := range p.clients {
		if err := client.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
