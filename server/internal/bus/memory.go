package bus

import (
	"sync"
)

const memoryBufferSize = 1024

// MemoryNetwork is a process-local bus. Peers joined to the same network see
// each other's publishes, including their own.
type MemoryNetwork struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Message
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{subs: make(map[string]map[int]chan Message)}
}

// Join returns a transport endpoint on n identified by id.
func (n *MemoryNetwork) Join(id string) *MemoryPeer {
	return &MemoryPeer{network: n, id: id, cancels: make(map[int]func())}
}

func (n *MemoryNetwork) publish(from, topic string, payload []byte) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs[topic] {
		msg := Message{Topic: topic, Payload: append([]byte(nil), payload...), From: from}
		select {
		case ch <- msg:
		default:
			// Non-blocking send to avoid one slow subscriber stalling all publishers.
		}
	}
}

func (n *MemoryNetwork) subscribe(topic string) (int, chan Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[topic]; !ok {
		n.subs[topic] = make(map[int]chan Message)
	}
	id := n.nextID
	n.nextID++
	ch := make(chan Message, memoryBufferSize)
	n.subs[topic][id] = ch
	return id, ch
}

func (n *MemoryNetwork) unsubscribe(topic string, id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if subsByTopic, ok := n.subs[topic]; ok {
		if sub, exists := subsByTopic[id]; exists {
			delete(subsByTopic, id)
			close(sub)
		}
		if len(subsByTopic) == 0 {
			delete(n.subs, topic)
		}
	}
}

// MemoryPeer is one endpoint of a MemoryNetwork.
type MemoryPeer struct {
	network *MemoryNetwork
	id      string

	mu      sync.Mutex
	closed  bool
	cancels map[int]func()
	next    int
}

func (p *MemoryPeer) ID() string { return p.id }

func (p *MemoryPeer) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrTransportClosed
	}
	p.network.publish(p.id, topic, payload)
	return nil
}

func (p *MemoryPeer) Subscribe(topic string) (<-chan Message, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, nil, ErrTransportClosed
	}
	subID, ch := p.network.subscribe(topic)
	key := p.next
	p.next++

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.network.unsubscribe(topic, subID)
			p.mu.Lock()
			delete(p.cancels, key)
			p.mu.Unlock()
		})
	}
	p.cancels[key] = func() {
		once.Do(func() { p.network.unsubscribe(topic, subID) })
	}
	return ch, cancel, nil
}

// Close ends every subscription of p. Subscribers observe their channel
// closing, exactly as when a network transport goes away.
func (p *MemoryPeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	cancels := p.cancels
	p.cancels = make(map[int]func())
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}
