package p2p

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"governance-ledger/encryption"
	"governance-ledger/ledger"
	"governance-ledger/models"
)

// DefaultPort is the replication listen port when none is configured.
const DefaultPort = 4000

// maxFrame bounds a single wire line; a full chain response has to fit.
const maxFrame = 64 << 20

// peerConn is one live connection. Writes are serialized per connection;
// the JSON encoder terminates every frame with the protocol's newline.
type peerConn struct {
	conn net.Conn
	enc  *json.Encoder

	mu            sync.Mutex
	id            string
	sentHandshake bool
}

func (p *peerConn) send(m *Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(m)
}

// Node replicates a ledger with peers over newline-delimited JSON frames.
// It gossips new entries and blocks, answers chain requests, and adopts any
// strictly longer valid chain it is shown.
type Node struct {
	id     string
	port   int
	ledger *ledger.Ledger
	crypto *encryption.CryptoService
	logger *zap.Logger

	mu         sync.RWMutex
	peers      map[string]*peerConn
	conns      map[net.Conn]*peerConn
	knownAddrs map[string]struct{}
	listener   net.Listener

	events     chan Event
	group      errgroup.Group
	shutdownCh chan struct{}
	stopOnce   sync.Once
}

func NewNode(cs *encryption.CryptoService, l *ledger.Ledger, port int, logger *zap.Logger) *Node {
	if logger == nil {
		logger = zap.NewNop()
	}
	if port < 0 {
		port = DefaultPort
	}
	return &Node{
		id:         cs.GenerateID(),
		port:       port,
		ledger:     l,
		crypto:     cs,
		logger:     logger,
		peers:      make(map[string]*peerConn),
		conns:      make(map[net.Conn]*peerConn),
		knownAddrs: make(map[string]struct{}),
		events:     make(chan Event, 64),
		shutdownCh: make(chan struct{}),
	}
}

// ID returns the node's random identifier.
func (n *Node) ID() string {
	return n.id
}

// Events surfaces replication activity. The channel is buffered; events are
// dropped rather than blocking the network path.
func (n *Node) Events() <-chan Event {
	return n.events
}

// Addr returns the bound listen address, valid after Start.
func (n *Node) Addr() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.listener == nil {
		return ""
	}
	return n.listener.Addr().String()
}

// Start binds the listen socket and begins accepting peers.
func (n *Node) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", n.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", n.port, err)
	}

	n.mu.Lock()
	n.listener = listener
	if addr, ok := listener.Addr().(*net.TCPAddr); ok {
		n.port = addr.Port
	}
	n.mu.Unlock()

	n.logger.Info("replication node listening",
		zap.String("nodeId", n.id),
		zap.String("addr", listener.Addr().String()))

	n.group.Go(func() error {
		for {
			conn, err := listener.Accept()
			if err != nil {
				select {
				case <-n.shutdownCh:
					return nil
				default:
					return err
				}
			}
			n.adoptConn(conn, false)
		}
	})
	return nil
}

// Connect dials a peer and initiates the handshake.
func (n *Node) Connect(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	pc := n.adoptConn(conn, true)
	return pc.send(&Message{Type: MsgHandshake, NodeID: n.id, Port: n.port})
}

// adoptConn registers a connection and spawns its reader.
func (n *Node) adoptConn(conn net.Conn, initiated bool) *peerConn {
	pc := &peerConn{
		conn:          conn,
		enc:           json.NewEncoder(conn),
		sentHandshake: initiated,
	}
	n.mu.Lock()
	n.conns[conn] = pc
	n.mu.Unlock()

	n.group.Go(func() error {
		n.readLoop(pc)
		return nil
	})
	return pc
}

// readLoop accumulates newline-delimited frames. Malformed lines are logged
// and dropped; the connection survives them.
func (n *Node) readLoop(pc *peerConn) {
	defer n.dropConn(pc)

	scanner := bufio.NewScanner(pc.conn)
	scanner.Buffer(make([]byte, 64<<10), maxFrame)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			n.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		n.handleMessage(pc, &msg)
	}
}

func (n *Node) dropConn(pc *peerConn) {
	pc.conn.Close()
	n.mu.Lock()
	delete(n.conns, pc.conn)
	if pc.id != "" && n.peers[pc.id] == pc {
		delete(n.peers, pc.id)
	}
	n.mu.Unlock()
}

func (n *Node) handleMessage(pc *peerConn, msg *Message) {
	switch msg.Type {
	case MsgHandshake:
		n.handleHandshake(pc, msg)

	case MsgRequestChain:
		snapshot, err := n.ledger.ToJSON()
		if err != nil {
			n.logger.Warn("failed to serialize chain", zap.Error(err))
			return
		}
		if err := pc.send(&Message{Type: MsgChainResponse, NodeID: n.id, Chain: snapshot}); err != nil {
			n.logger.Debug("failed to send chain response", zap.Error(err))
		}

	case MsgChainResponse:
		n.handleChainResponse(pc, msg)

	case MsgNewBlock:
		n.handleNewBlock(pc, msg)

	case MsgNewEntry:
		if msg.Entry == nil {
			return
		}
		if err := n.ledger.AddEntry(msg.Entry); err != nil {
			n.logger.Debug("rejected gossiped entry", zap.Error(err))
			return
		}
		n.emit(Event{Kind: EventEntryReceived, PeerID: pc.id, Detail: msg.Entry.ID})

	case MsgRequestPeers:
		if err := pc.send(&Message{Type: MsgPeerList, NodeID: n.id, Peers: n.KnownPeers()}); err != nil {
			n.logger.Debug("failed to send peer list", zap.Error(err))
		}

	case MsgPeerList:
		n.mu.Lock()
		for _, addr := range msg.Peers {
			n.knownAddrs[addr] = struct{}{}
		}
		n.mu.Unlock()

	default:
		n.logger.Debug("dropping message of unknown type", zap.String("type", string(msg.Type)))
	}
}

func (n *Node) handleHandshake(pc *peerConn, msg *Message) {
	pc.mu.Lock()
	pc.id = msg.NodeID
	needReply := !pc.sentHandshake
	pc.sentHandshake = true
	pc.mu.Unlock()

	n.mu.Lock()
	n.peers[msg.NodeID] = pc
	if host, _, err := net.SplitHostPort(pc.conn.RemoteAddr().String()); err == nil && msg.Port > 0 {
		n.knownAddrs[net.JoinHostPort(host, fmt.Sprintf("%d", msg.Port))] = struct{}{}
	}
	n.mu.Unlock()

	n.emit(Event{Kind: EventPeerConnected, PeerID: msg.NodeID})
	n.logger.Info("peer connected", zap.String("peerId", msg.NodeID))

	if needReply {
		if err := pc.send(&Message{Type: MsgHandshake, NodeID: n.id, Port: n.port}); err != nil {
			n.logger.Debug("failed to answer handshake", zap.Error(err))
		}
	}
}

func (n *Node) handleChainResponse(pc *peerConn, msg *Message) {
	var snapshot models.LedgerSnapshot
	if err := json.Unmarshal(msg.Chain, &snapshot); err != nil {
		n.logger.Debug("dropping malformed chain response", zap.Error(err))
		return
	}
	adopted, err := n.ledger.AdoptChain(&snapshot)
	if err != nil {
		n.logger.Warn("rejected peer chain", zap.String("peerId", pc.id), zap.Error(err))
		return
	}
	if adopted {
		n.emit(Event{Kind: EventChainAdopted, PeerID: pc.id,
			Detail: fmt.Sprintf("height %d", len(snapshot.Chain))})
		n.logger.Info("adopted longer chain",
			zap.String("peerId", pc.id),
			zap.Int("height", len(snapshot.Chain)))
	}
}

func (n *Node) handleNewBlock(pc *peerConn, msg *Message) {
	if msg.Block == nil {
		return
	}
	err := n.ledger.ApplyBlock(msg.Block)
	if err == nil {
		n.emit(Event{Kind: EventBlockAppended, PeerID: pc.id,
			Detail: fmt.Sprintf("block %d", msg.Block.Index)})
		return
	}
	if errors.Is(err, models.ErrState) {
		// Out of sequence; the peer may simply be ahead of us.
		n.logger.Debug("gossiped block does not extend tip, requesting sync",
			zap.Int("index", msg.Block.Index))
		if sendErr := pc.send(&Message{Type: MsgRequestChain, NodeID: n.id}); sendErr != nil {
			n.logger.Debug("failed to request sync", zap.Error(sendErr))
		}
		return
	}
	n.logger.Warn("rejected gossiped block", zap.Error(err))
}

func (n *Node) emit(ev Event) {
	select {
	case n.events <- ev:
	default:
	}
}

// BroadcastBlock gossips a sealed block to every connected peer.
func (n *Node) BroadcastBlock(b *models.Block) {
	n.broadcast(&Message{Type: MsgNewBlock, NodeID: n.id, Block: b})
}

// BroadcastEntry gossips a pending entry to every connected peer.
func (n *Node) BroadcastEntry(e *models.LedgerEntry) {
	n.broadcast(&Message{Type: MsgNewEntry, NodeID: n.id, Entry: e})
}

// RequestChain asks every connected peer for its full chain.
func (n *Node) RequestChain() {
	n.broadcast(&Message{Type: MsgRequestChain, NodeID: n.id})
}

func (n *Node) broadcast(msg *Message) {
	n.mu.RLock()
	peers := make([]*peerConn, 0, len(n.peers))
	for _, pc := range n.peers {
		peers = append(peers, pc)
	}
	n.mu.RUnlock()

	for _, pc := range peers {
		if err := pc.send(msg); err != nil {
			n.logger.Debug("broadcast failed",
				zap.String("peerId", pc.id),
				zap.Error(err))
		}
	}
}

// KnownPeers returns the discovered peer addresses.
func (n *Node) KnownPeers() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	addrs := make([]string, 0, len(n.knownAddrs))
	for addr := range n.knownAddrs {
		addrs = append(addrs, addr)
	}
	return addrs
}

// PeerCount returns the number of handshaken peers.
func (n *Node) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.peers)
}

// Stop closes the listener and all connections and waits for the readers.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.shutdownCh)
		n.mu.Lock()
		if n.listener != nil {
			n.listener.Close()
		}
		for conn := range n.conns {
			conn.Close()
		}
		n.mu.Unlock()
		_ = n.group.Wait()
	})
}
