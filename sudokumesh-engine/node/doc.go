// Package node implements a SudokuMesh overlay node.
//
// A Node owns one transport and runs a single receive loop that decodes
// datagrams and dispatches them to:
//   - membership: join, node discovery, keep-alive and departure handling
//   - queries: network-wide stats and topology collection
//   - the solve race: flooded guess-and-check attempts on every node
//
// When a send reports an unreachable peer the node enters disconnect
// recovery. Until the departure is handled only membership messages leave
// the node; everything else waits.
package node
