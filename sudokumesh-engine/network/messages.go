package network

import (
	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/sudoku"
)

// Command tags a message on the wire.
type Command string

// Message kinds.
const (
	CmdJoinRequest    Command = "join_req"
	CmdJoinAnswer     Command = "join_ans"
	CmdUpdate         Command = "update"
	CmdNodeRequest    Command = "node_req"
	CmdNodeAnswer     Command = "node_ans"
	CmdNodeDown       Command = "node_down"
	CmdAlive          Command = "alive"
	CmdStatsRequest   Command = "stats_req"
	CmdStatsAnswer    Command = "stats_ans"
	CmdStatsHistory   Command = "stats_hist"
	CmdNetworkRequest Command = "network_req"
	CmdNetworkAnswer  Command = "network_ans"
	CmdSolveRequest   Command = "solve_req"
	CmdSolveAnswer    Command = "solve_ans"
	CmdSolved         Command = "solved"
)

// AnswerACK is the only join answer a node ever sends.
const AnswerACK = "ACK"

// Message is one of the closed set of protocol records below. The unexported
// accept method seals the set: Dispatch hands every kind to exactly one
// Handler method, so adding a kind without handling it does not compile.
type Message interface {
	Command() Command
	accept(h Handler, from Address) error
}

// Handler receives decoded messages from Dispatch.
type Handler interface {
	HandleJoinRequest(from Address, m *JoinRequest) error
	HandleJoinAnswer(from Address, m *JoinAnswer) error
	HandleUpdate(from Address, m *Update) error
	HandleNodeRequest(from Address, m *NodeRequest) error
	HandleNodeAnswer(from Address, m *NodeAnswer) error
	HandleNodeDown(from Address, m *NodeDown) error
	HandleAlive(from Address, m *Alive) error
	HandleStatsRequest(from Address, m *StatsRequest) error
	HandleStatsAnswer(from Address, m *StatsAnswer) error
	HandleStatsHistory(from Address, m *StatsHistory) error
	HandleNetworkRequest(from Address, m *NetworkRequest) error
	HandleNetworkAnswer(from Address, m *NetworkAnswer) error
	HandleSolveRequest(from Address, m *SolveRequest) error
	HandleSolveAnswer(from Address, m *SolveAnswer) error
	HandleSolved(from Address, m *Solved) error
}

// Dispatch routes msg to the matching Handler method.
func Dispatch(h Handler, from Address, msg Message) error {
	return msg.accept(h, from)
}

// JoinRequest asks an anchor to admit the sender into the overlay.
type JoinRequest struct{}

// JoinAnswer acknowledges a join and carries the anchor's node count.
type JoinAnswer struct {
	Answer   string `json:"answer"`
	NodesNum int    `json:"NodesNum"`
}

// Update reconciles the node-count estimate across the overlay.
type Update struct {
	NodesNum int       `json:"NodesNum"`
	NodeSent []Address `json:"NodeSent"`
}

// NodeRequest asks a peer for another node to connect to.
type NodeRequest struct{}

// NodeAnswer carries a discovered peer, or nil when the answerer has none.
type NodeAnswer struct {
	Address *Address `json:"address"`
}

// NodeDown announces the departure of Address.
type NodeDown struct {
	Address  Address   `json:"address"`
	NodeSent []Address `json:"NodeSent"`
}

// Alive is the keep-alive heartbeat.
type Alive struct{}

// StatsRequest asks every node to report its counters to Address.
type StatsRequest struct {
	Address  Address   `json:"address"`
	NodeSent []Address `json:"NodeSent"`
	ReqID    RequestID `json:"req_id"`
}

// StatsAnswer is one node's contribution to a stats query.
type StatsAnswer struct {
	Validation int64     `json:"validation"`
	Solved     int64     `json:"solved"`
	ReqID      RequestID `json:"req_id"`
}

// StatsHistory floods the merged stats ledger. History maps "host:port" to
// [validations, solved].
type StatsHistory struct {
	History  map[string][2]int64 `json:"history"`
	NodeSent []Address           `json:"NodeSent"`
}

// NetworkRequest asks every node to report its adjacency to Address.
type NetworkRequest struct {
	Address  Address   `json:"address"`
	NodeSent []Address `json:"NodeSent"`
	ReqID    RequestID `json:"req_id"`
}

// NetworkAnswer is one node's adjacency: {"host:port": ["host:port", ...]}.
type NetworkAnswer struct {
	Network map[string][]string `json:"network"`
	ReqID   RequestID           `json:"req_id"`
}

// SolveRequest starts a solve race for Sudoku on every node it reaches.
type SolveRequest struct {
	Sudoku   sudoku.Grid `json:"sudoku"`
	Address  Address     `json:"address"`
	NodeSent []Address   `json:"NodeSent"`
	ReqID    RequestID   `json:"req_id"`
}

// SolveAnswer reports a valid completion back to the race origin.
type SolveAnswer struct {
	Sudoku sudoku.Grid `json:"sudoku"`
	ReqID  RequestID   `json:"req_id"`
}

// Solved stops every attempt of the race ReqID.
type Solved struct {
	NodeSent []Address `json:"NodeSent"`
	ReqID    RequestID `json:"req_id"`
}

func (*JoinRequest) Command() Command    { return CmdJoinRequest }
func (*JoinAnswer) Command() Command     { return CmdJoinAnswer }
func (*Update) Command() Command         { return CmdUpdate }
func (*NodeRequest) Command() Command    { return CmdNodeRequest }
func (*NodeAnswer) Command() Command     { return CmdNodeAnswer }
func (*NodeDown) Command() Command       { return CmdNodeDown }
func (*Alive) Command() Command          { return CmdAlive }
func (*StatsRequest) Command() Command   { return CmdStatsRequest }
func (*StatsAnswer) Command() Command    { return CmdStatsAnswer }
func (*StatsHistory) Command() Command   { return CmdStatsHistory }
func (*NetworkRequest) Command() Command { return CmdNetworkRequest }
func (*NetworkAnswer) Command() Command  { return CmdNetworkAnswer }
func (*SolveRequest) Command() Command   { return CmdSolveRequest }
func (*SolveAnswer) Command() Command    { return CmdSolveAnswer }
func (*Solved) Command() Command         { return CmdSolved }

func (m *JoinRequest) accept(h Handler, from Address) error  { return h.HandleJoinRequest(from, m) }
func (m *JoinAnswer) accept(h Handler, from Address) error   { return h.HandleJoinAnswer(from, m) }
func (m *Update) accept(h Handler, from Address) error       { return h.HandleUpdate(from, m) }
func (m *NodeRequest) accept(h Handler, from Address) error  { return h.HandleNodeRequest(from, m) }
func (m *NodeAnswer) accept(h Handler, from Address) error   { return h.HandleNodeAnswer(from, m) }
func (m *NodeDown) accept(h Handler, from Address) error     { return h.HandleNodeDown(from, m) }
func (m *Alive) accept(h Handler, from Address) error        { return h.HandleAlive(from, m) }
func (m *StatsRequest) accept(h Handler, from Address) error { return h.HandleStatsRequest(from, m) }
func (m *StatsAnswer) accept(h Handler, from Address) error  { return h.HandleStatsAnswer(from, m) }
func (m *StatsHistory) accept(h Handler, from Address) error { return h.HandleStatsHistory(from, m) }
func (m *NetworkRequest) accept(h Handler, from Address) error {
	return h.HandleNetworkRequest(from, m)
}
func (m *NetworkAnswer) accept(h Handler, from Address) error { return h.HandleNetworkAnswer(from, m) }
func (m *SolveRequest) accept(h Handler, from Address) error  { return h.HandleSolveRequest(from, m) }
func (m *SolveAnswer) accept(h Handler, from Address) error   { return h.HandleSolveAnswer(from, m) }
func (m *Solved) accept(h Handler, from Address) error        { return h.HandleSolved(from, m) }

// MembershipCritical reports whether messages of this kind may still be sent
// while the node is recovering from a lost peer.
func MembershipCritical(c Command) bool {
	switch c {
	case CmdNodeRequest, CmdNodeAnswer, CmdNodeDown, CmdUpdate, CmdAlive:
		return true
	}
	return false
}
