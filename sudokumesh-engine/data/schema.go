package data

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// LedgerSchema returns the Arrow schema for the stats ledger.
//
// Fields:
//   - address: string - Node address, "host:port"
//   - validations: int64 - Validations the node has spent
//   - solved: int64 - Puzzles the node has solved
func LedgerSchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "address", Type: arrow.BinaryTypes.String},
			{Name: "validations", Type: arrow.PrimitiveTypes.Int64},
			{Name: "solved", Type: arrow.PrimitiveTypes.Int64},
		},
		nil,
	)
}

// TopologySchema returns the Arrow schema for an overlay adjacency map.
//
// Fields:
//   - node: string - Node address
//   - peers: list<string> - Addresses in that node's peer set
func TopologySchema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "node", Type: arrow.BinaryTypes.String},
			{Name: "peers", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		},
		nil,
	)
}
