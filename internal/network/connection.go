package network

import (
	"bufio"
	"encoding/json"
	"log"
	"net"
	"strings"
	"time"

	"github.com/knirv/knirvbase/internal/types"
)

const handshakePrefix = "KNIRV:"

func logf(format string, args ...any) {
	log.Printf(format, args...)
}

// acceptLoop accepts inbound connections until the listener is closed by
// Shutdown. Accept errors after a deliberate close are expected and end
// the loop quietly; unexpected errors are logged and the loop continues
// so one bad accept doesn't take the listener down.
func (m *Manager) acceptLoop(listener net.Listener) {
	defer m.wg.Done()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if !m.isInitialized() {
				return
			}
			logf("network: accept error: %v", err)
			continue
		}

		m.wg.Add(1)
		go m.handleInboundConnection(conn)
	}
}

// handleInboundConnection runs the inbound handshake and, on success,
// joins the same read loop an outbound connection uses.
func (m *Manager) handleInboundConnection(conn net.Conn) {
	defer m.wg.Done()

	remotePeerID, reader, err := m.inboundHandshake(conn)
	if err != nil {
		logf("network: inbound handshake failed: %v", err)
		conn.Close()
		return
	}

	addr := conn.RemoteAddr().String()
	m.registerConnection(remotePeerID, conn, []string{addr})
	m.readLoop(remotePeerID, conn, reader)
}

// inboundHandshake reads the peer's greeting line and answers with our
// own, per the wire handshake: both sides send "KNIRV:<peerId>\n". The
// bufio.Reader used to read the greeting is returned so readLoop can
// keep reading from it — any bytes the kernel coalesced past the
// handshake's newline are already sitting in this reader's buffer, and
// would be silently lost if readLoop started a second one on conn.
func (m *Manager) inboundHandshake(conn net.Conn) (string, *bufio.Reader, error) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, types.NewProtocolError("read handshake", err)
	}

	remotePeerID, err := parseHandshake(line)
	if err != nil {
		return "", nil, err
	}

	if _, err := conn.Write([]byte(handshakePrefix + m.peerID + "\n")); err != nil {
		return "", nil, types.NewProtocolError("write handshake response", err)
	}

	return remotePeerID, reader, nil
}

// outboundHandshake sends our greeting first and waits for the peer's
// reply — the mirror image of inboundHandshake. See inboundHandshake
// for why the reader is returned alongside the peer id.
func (m *Manager) outboundHandshake(conn net.Conn) (string, *bufio.Reader, error) {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write([]byte(handshakePrefix + m.peerID + "\n")); err != nil {
		return "", nil, types.NewProtocolError("write handshake", err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", nil, types.NewProtocolError("read handshake response", err)
	}

	remotePeerID, err := parseHandshake(line)
	if err != nil {
		return "", nil, err
	}
	return remotePeerID, reader, nil
}

func parseHandshake(line string) (string, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, handshakePrefix) {
		return "", types.NewProtocolError("malformed handshake greeting: "+line, nil)
	}
	remotePeerID := strings.TrimPrefix(line, handshakePrefix)
	if remotePeerID == "" {
		return "", types.NewProtocolError("empty peer id in handshake", nil)
	}
	return remotePeerID, nil
}

func (m *Manager) registerConnection(peerID string, conn net.Conn, addrs []string) {
	m.connMu.Lock()
	m.connections[peerID] = &connection{conn: conn}
	m.connMu.Unlock()

	m.peersMu.Lock()
	m.peers[peerID] = types.PeerInfo{
		PeerID:   peerID,
		Addrs:    addrs,
		LastSeen: time.Now().UTC(),
	}
	m.peersMu.Unlock()
}

func (m *Manager) unregisterConnection(peerID string) {
	m.connMu.Lock()
	delete(m.connections, peerID)
	m.connMu.Unlock()
}

// readLoop reads newline-delimited JSON ProtocolMessages from reader
// until the connection errors or closes, dispatching each to registered
// handlers in order. Messages on one connection are processed strictly
// FIFO; different connections may run concurrently. reader must be the
// same bufio.Reader the handshake read from, so bytes the peer sent
// right after its greeting aren't stranded in a buffer nobody reads
// from again.
func (m *Manager) readLoop(remotePeerID string, conn net.Conn, reader *bufio.Reader) {
	defer func() {
		conn.Close()
		m.unregisterConnection(remotePeerID)
	}()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg types.ProtocolMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			logf("network: malformed message from %s: %v", remotePeerID, err)
			continue
		}

		m.statsMu.Lock()
		if stat, ok := m.stats[msg.NetworkID]; ok {
			stat.OperationsReceived++
			stat.BytesTransferred += int64(len(line))
			m.stats[msg.NetworkID] = stat
		}
		m.statsMu.Unlock()

		m.dispatch(msg)
	}
}

func (m *Manager) dispatch(msg types.ProtocolMessage) {
	m.handlersMu.RLock()
	handlers := append([]MessageHandler(nil), m.handlers[msg.Type]...)
	m.handlersMu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}
