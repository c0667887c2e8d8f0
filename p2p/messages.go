package p2p

import (
	"encoding/json"

	"governance-ledger/models"
)

// MessageType discriminates wire messages.
type MessageType string

const (
	MsgHandshake     MessageType = "HANDSHAKE"
	MsgRequestChain  MessageType = "REQUEST_CHAIN"
	MsgChainResponse MessageType = "CHAIN_RESPONSE"
	MsgNewBlock      MessageType = "NEW_BLOCK"
	MsgNewEntry      MessageType = "NEW_ENTRY"
	MsgRequestPeers  MessageType = "REQUEST_PEERS"
	MsgPeerList      MessageType = "PEER_LIST"
)

// Message is one frame of the replication protocol: a JSON object followed
// by a newline. Only the fields relevant to the type are populated.
type Message struct {
	Type   MessageType         `json:"type"`
	NodeID string              `json:"nodeId,omitempty"`
	Port   int                 `json:"port,omitempty"`
	Chain  json.RawMessage     `json:"chain,omitempty"`
	Block  *models.Block       `json:"block,omitempty"`
	Entry  *models.LedgerEntry `json:"entry,omitempty"`
	Peers  []string            `json:"peers,omitempty"`
}

// Event kinds surfaced to node consumers.
const (
	EventPeerConnected = "peer_connected"
	EventChainAdopted  = "chain_adopted"
	EventBlockAppended = "block_appended"
	EventEntryReceived = "entry_received"
)

// Event notifies a node consumer of replication activity.
type Event struct {
	Kind   string `json:"kind"`
	PeerID string `json:"peerId,omitempty"`
	Detail string `json:"detail,omitempty"`
}
