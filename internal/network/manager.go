// Package network implements the Network Manager: peer identity, a TCP
// listener that accepts inbound peers, outbound connections to
// bootstrap peers, and the newline-delimited JSON wire protocol that
// carries sync and CRDT-operation traffic between them.
package network

import (
	"net"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/knirv/knirvbase/internal/types"
)

// MessageHandler receives a ProtocolMessage delivered by any connection.
type MessageHandler func(types.ProtocolMessage)

// connection wraps a TCP connection with the mutex that serializes
// writes to it — framed messages must not interleave on the wire.
type connection struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Manager is the Network Manager: it owns the peer id, known networks,
// known peers, live connections, per-network stats, and the message
// handler registry. Every map is guarded by its own RWMutex so that
// unrelated operations (say, a broadcast and a stats read) never
// contend with each other.
type Manager struct {
	peerID string

	mu       sync.RWMutex
	networks map[string]types.NetworkConfig

	peersMu sync.RWMutex
	peers   map[string]types.PeerInfo

	connMu      sync.RWMutex
	connections map[string]*connection

	statsMu sync.RWMutex
	stats   map[string]types.NetworkStats

	handlersMu sync.RWMutex
	handlers   map[types.MessageType][]MessageHandler

	initMu      sync.Mutex
	initialized bool
	listener    net.Listener
	listenAddr  string

	wg sync.WaitGroup

	validate *validator.Validate
}

// New returns an uninitialized Manager. If peerID is empty a random
// UUID is generated, matching the default peer-identity rule.
func New(peerID string) *Manager {
	if peerID == "" {
		peerID = uuid.NewString()
	}
	return &Manager{
		peerID:      peerID,
		networks:    make(map[string]types.NetworkConfig),
		peers:       make(map[string]types.PeerInfo),
		connections: make(map[string]*connection),
		stats:       make(map[string]types.NetworkStats),
		handlers:    make(map[types.MessageType][]MessageHandler),
		validate:    validator.New(),
	}
}

// PeerID returns this process's stable peer identifier.
func (m *Manager) PeerID() string {
	return m.peerID
}

// Initialize starts the TCP listener and the accept loop. Calling it
// more than once is a no-op — CreateNetwork (once its config has passed
// validation) and JoinNetwork call it before touching the network
// tables.
func (m *Manager) Initialize(addr string) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}
	if addr == "" {
		addr = "127.0.0.1:0"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return types.NewIOError("listen", err)
	}

	m.listener = listener
	m.listenAddr = listener.Addr().String()
	m.initialized = true

	m.wg.Add(1)
	go m.acceptLoop(listener)

	return nil
}

func (m *Manager) isInitialized() bool {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.initialized
}

// ListenAddr returns the address the accept loop is bound to, useful
// for tests and for telling bootstrap peers where to dial back.
func (m *Manager) ListenAddr() string {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	return m.listenAddr
}

// CreateNetwork registers a new logical network, idempotently — calling
// it again with a network id that already exists just returns that id.
// cfg is validated first (networkId and name are required) so a typo'd
// or zero-value config fails loudly instead of creating an unusable
// network.
func (m *Manager) CreateNetwork(cfg types.NetworkConfig) (string, error) {
	if err := m.validate.Struct(cfg); err != nil {
		return "", types.NewValidationError("invalid network config", err)
	}
	if err := m.Initialize(""); err != nil {
		return "", err
	}

	m.mu.Lock()
	if _, exists := m.networks[cfg.NetworkID]; exists {
		m.mu.Unlock()
		return cfg.NetworkID, nil
	}
	cfg.Collections = make(map[string]bool)
	m.networks[cfg.NetworkID] = cfg
	m.mu.Unlock()

	m.statsMu.Lock()
	m.stats[cfg.NetworkID] = types.NetworkStats{NetworkID: cfg.NetworkID}
	m.statsMu.Unlock()

	return cfg.NetworkID, nil
}

// JoinNetwork registers networkID if unknown, then dials every bootstrap
// peer concurrently. Each dial runs the same handshake an inbound
// connection goes through and, on success, starts the same read loop.
// A peer that never answers is dropped after its retries are
// exhausted; JoinNetwork itself never blocks on that.
func (m *Manager) JoinNetwork(networkID string, bootstrapPeers []string) error {
	if err := m.Initialize(""); err != nil {
		return err
	}

	m.mu.Lock()
	if _, exists := m.networks[networkID]; !exists {
		m.networks[networkID] = types.NetworkConfig{
			NetworkID:        networkID,
			Name:             "Network " + networkID,
			Collections:      make(map[string]bool),
			PrivateByDefault: true,
		}
		m.statsMu.Lock()
		m.stats[networkID] = types.NetworkStats{NetworkID: networkID}
		m.statsMu.Unlock()
	}
	m.mu.Unlock()

	for _, addr := range bootstrapPeers {
		addr := addr
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.dialBootstrapPeer(addr)
		}()
	}

	return nil
}

// dialBootstrapPeer connects with bounded retries and exponential
// backoff (matching the retry idiom used elsewhere in this pack for
// flaky peer connections), runs the handshake, and on success hands the
// connection to the shared read loop.
func (m *Manager) dialBootstrapPeer(addr string) {
	const maxAttempts = 3
	backoff := 100 * time.Millisecond

	var conn net.Conn
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		conn, err = net.DialTimeout("tcp", addr, 5*time.Second)
		if err == nil {
			break
		}
		if attempt == maxAttempts {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		logf("network: giving up connecting to bootstrap peer %s after %d attempts: %v", addr, maxAttempts, err)
		return
	}

	remotePeerID, reader, err := m.outboundHandshake(conn)
	if err != nil {
		logf("network: handshake with %s failed: %v", addr, err)
		conn.Close()
		return
	}

	m.registerConnection(remotePeerID, conn, []string{addr})
	m.readLoop(remotePeerID, conn, reader)
}

// LeaveNetwork forgets a network and its stats. Live connections are
// left open — they may still serve other networks.
func (m *Manager) LeaveNetwork(networkID string) error {
	m.mu.Lock()
	delete(m.networks, networkID)
	m.mu.Unlock()

	m.statsMu.Lock()
	delete(m.stats, networkID)
	m.statsMu.Unlock()

	return nil
}

// Shutdown stops accepting new connections, closes every live
// connection, and marks the manager uninitialized. Safe to call more
// than once.
func (m *Manager) Shutdown() error {
	m.initMu.Lock()
	if !m.initialized {
		m.initMu.Unlock()
		return nil
	}
	m.initialized = false
	listener := m.listener
	m.listener = nil
	m.initMu.Unlock()

	if listener != nil {
		listener.Close()
	}

	m.connMu.Lock()
	for _, c := range m.connections {
		c.conn.Close()
	}
	m.connections = make(map[string]*connection)
	m.connMu.Unlock()

	m.wg.Wait()
	return nil
}
