package network

import (
	"encoding/json"
	"time"

	"github.com/knirv/knirvbase/internal/types"
)

// AddCollectionToNetwork marks collection as shared on networkID and
// broadcasts a CollectionAnnounce so connected peers learn about it.
func (m *Manager) AddCollectionToNetwork(networkID, collection string) error {
	m.mu.Lock()
	cfg, ok := m.networks[networkID]
	if ok {
		if cfg.Collections == nil {
			cfg.Collections = make(map[string]bool)
		}
		cfg.Collections[collection] = true
		m.networks[networkID] = cfg
	}
	m.mu.Unlock()

	if ok {
		m.statsMu.Lock()
		if stat, ok := m.stats[networkID]; ok {
			stat.CollectionsShared = len(cfg.Collections)
			m.stats[networkID] = stat
		}
		m.statsMu.Unlock()
	}

	msg := types.ProtocolMessage{
		Type:      types.MsgCollectionAnnounce,
		NetworkID: networkID,
		SenderID:  m.peerID,
		Timestamp: time.Now().Unix(),
		Payload:   types.CollectionAnnouncePayload{Collection: collection},
	}
	return m.BroadcastMessage(networkID, msg)
}

// RemoveCollectionFromNetwork stops sharing collection on networkID.
func (m *Manager) RemoveCollectionFromNetwork(networkID, collection string) error {
	m.mu.Lock()
	cfg, ok := m.networks[networkID]
	if ok {
		delete(cfg.Collections, collection)
		m.networks[networkID] = cfg
	}
	m.mu.Unlock()

	if ok {
		m.statsMu.Lock()
		if stat, ok := m.stats[networkID]; ok {
			stat.CollectionsShared = len(cfg.Collections)
			m.stats[networkID] = stat
		}
		m.statsMu.Unlock()
	}
	return nil
}

// GetNetworkCollections lists the collections shared on networkID.
func (m *Manager) GetNetworkCollections(networkID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg, ok := m.networks[networkID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(cfg.Collections))
	for name := range cfg.Collections {
		out = append(out, name)
	}
	return out
}

// BroadcastMessage sends msg to every live connection. The connection
// map is snapshotted under a read lock and the writes happen outside
// it, so a slow peer never holds up the lock for the others. A failed
// write to one peer is logged and does not abort delivery to the rest.
func (m *Manager) BroadcastMessage(networkID string, msg types.ProtocolMessage) error {
	if !m.isInitialized() {
		return types.NewNotInitializedError("network manager not initialized")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return types.NewProtocolError("marshal message", err)
	}
	framed := append(data, '\n')

	m.connMu.RLock()
	targets := make(map[string]*connection, len(m.connections))
	for peerID, c := range m.connections {
		targets[peerID] = c
	}
	m.connMu.RUnlock()

	sent := 0
	for peerID, c := range targets {
		if err := writeFramed(c, framed); err != nil {
			logf("network: broadcast to %s failed: %v", peerID, err)
			continue
		}
		sent++
	}

	m.statsMu.Lock()
	if stat, ok := m.stats[networkID]; ok {
		stat.OperationsSent += int64(sent)
		stat.BytesTransferred += int64(len(framed) * sent)
		m.stats[networkID] = stat
	}
	m.statsMu.Unlock()

	return nil
}

// SendToPeer sends msg to a single connected peer.
func (m *Manager) SendToPeer(peerID, networkID string, msg types.ProtocolMessage) error {
	if !m.isInitialized() {
		return types.NewNotInitializedError("network manager not initialized")
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return types.NewProtocolError("marshal message", err)
	}

	m.connMu.RLock()
	c, ok := m.connections[peerID]
	m.connMu.RUnlock()
	if !ok {
		return types.NewNotFoundError("peer not connected: " + peerID)
	}

	if err := writeFramed(c, append(data, '\n')); err != nil {
		return types.NewIOError("write to peer", err)
	}

	m.statsMu.Lock()
	if stat, ok := m.stats[networkID]; ok {
		stat.OperationsSent++
		stat.BytesTransferred += int64(len(data) + 1)
		m.stats[networkID] = stat
	}
	m.statsMu.Unlock()

	return nil
}

func writeFramed(c *connection, framed []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(framed)
	return err
}

// OnMessage registers handler to run whenever a message of type mt is
// received on any connection.
func (m *Manager) OnMessage(mt types.MessageType, handler MessageHandler) {
	m.handlersMu.Lock()
	defer m.handlersMu.Unlock()
	m.handlers[mt] = append(m.handlers[mt], handler)
}

// GetNetworkStats returns the running counters for networkID.
func (m *Manager) GetNetworkStats(networkID string) (types.NetworkStats, bool) {
	m.statsMu.RLock()
	defer m.statsMu.RUnlock()
	stat, ok := m.stats[networkID]
	return stat, ok
}

// GetNetworks lists every network this manager knows about.
func (m *Manager) GetNetworks() []types.NetworkConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.NetworkConfig, 0, len(m.networks))
	for _, cfg := range m.networks {
		out = append(out, cfg)
	}
	return out
}
