package data

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	json "github.com/goccy/go-json"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/ledger"
)

// Converter turns ledger and topology snapshots into Arrow records and back.
type Converter struct {
	allocator memory.Allocator
}

// NewConverter creates a new Converter with the default memory allocator.
func NewConverter() *Converter {
	return &Converter{allocator: memory.DefaultAllocator}
}

// NewConverterWithAllocator creates a Converter using alloc.
func NewConverterWithAllocator(alloc memory.Allocator) *Converter {
	return &Converter{allocator: alloc}
}

// LedgerToArrowBatch converts a ledger snapshot to a record, one row per
// address in ascending order.
func (c *Converter) LedgerToArrowBatch(entries map[string]ledger.Entry) (arrow.Record, error) {
	builder := array.NewRecordBuilder(c.allocator, LedgerSchema())
	defer builder.Release()

	addrBuilder := builder.Field(0).(*array.StringBuilder)
	validationsBuilder := builder.Field(1).(*array.Int64Builder)
	solvedBuilder := builder.Field(2).(*array.Int64Builder)

	for _, addr := range ledger.SortedKeys(entries) {
		e := entries[addr]
		addrBuilder.Append(addr)
		validationsBuilder.Append(e.Validations)
		solvedBuilder.Append(e.Solved)
	}

	return builder.NewRecord(), nil
}

// ArrowBatchToLedger converts a ledger record back to a snapshot.
func (c *Converter) ArrowBatchToLedger(record arrow.Record) (map[string]ledger.Entry, error) {
	if err := ValidateSchema(record, LedgerSchema()); err != nil {
		return nil, err
	}

	addrCol, ok := record.Column(0).(*array.String)
	if !ok {
		return nil, errors.New("column 0 (address) is not a String array")
	}
	validationsCol, ok := record.Column(1).(*array.Int64)
	if !ok {
		return nil, errors.New("column 1 (validations) is not an Int64 array")
	}
	solvedCol, ok := record.Column(2).(*array.Int64)
	if !ok {
		return nil, errors.New("column 2 (solved) is not an Int64 array")
	}

	out := make(map[string]ledger.Entry, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		out[addrCol.Value(i)] = ledger.Entry{
			Validations: validationsCol.Value(i),
			Solved:      solvedCol.Value(i),
		}
	}
	return out, nil
}

// TopologyToArrowBatch converts an adjacency map to a record, one row per
// node in ascending order.
func (c *Converter) TopologyToArrowBatch(topology map[string][]string) (arrow.Record, error) {
	builder := array.NewRecordBuilder(c.allocator, TopologySchema())
	defer builder.Release()

	nodeBuilder := builder.Field(0).(*array.StringBuilder)
	peersBuilder := builder.Field(1).(*array.ListBuilder)
	peerBuilder := peersBuilder.ValueBuilder().(*array.StringBuilder)

	nodes := make([]string, 0, len(topology))
	for n := range topology {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	for _, n := range nodes {
		nodeBuilder.Append(n)
		peers := topology[n]
		if peers == nil {
			peersBuilder.AppendNull()
			continue
		}
		peersBuilder.Append(true)
		for _, p := range peers {
			peerBuilder.Append(p)
		}
	}

	return builder.NewRecord(), nil
}

// ArrowBatchToTopology converts a topology record back to an adjacency map.
func (c *Converter) ArrowBatchToTopology(record arrow.Record) (map[string][]string, error) {
	if err := ValidateSchema(record, TopologySchema()); err != nil {
		return nil, err
	}

	nodeCol, ok := record.Column(0).(*array.String)
	if !ok {
		return nil, errors.New("column 0 (node) is not a String array")
	}
	peersCol, ok := record.Column(1).(*array.List)
	if !ok {
		return nil, errors.New("column 1 (peers) is not a List array")
	}
	values, ok := peersCol.ListValues().(*array.String)
	if !ok {
		return nil, errors.New("column 1 (peers) does not hold strings")
	}

	out := make(map[string][]string, record.NumRows())
	for i := 0; i < int(record.NumRows()); i++ {
		if peersCol.IsNull(i) {
			out[nodeCol.Value(i)] = nil
			continue
		}
		start, end := peersCol.ValueOffsets(i)
		peers := make([]string, 0, end-start)
		for j := start; j < end; j++ {
			peers = append(peers, values.Value(int(j)))
		}
		out[nodeCol.Value(i)] = peers
	}
	return out, nil
}

// LedgerJSONToArrowBatch converts a JSON object of address -> {validations,
// solved} to a record.
func (c *Converter) LedgerJSONToArrowBatch(jsonData []byte) (arrow.Record, error) {
	var entries map[string]ledger.Entry
	if err := json.Unmarshal(jsonData, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return c.LedgerToArrowBatch(entries)
}

// ValidateSchema checks if a record matches the expected schema.
func ValidateSchema(record arrow.Record, expected *arrow.Schema) error {
	if record == nil {
		return errors.New("record is nil")
	}

	actual := record.Schema()
	if actual.NumFields() != expected.NumFields() {
		return fmt.Errorf("field count mismatch: got %d, expected %d",
			actual.NumFields(), expected.NumFields())
	}

	for i := 0; i < actual.NumFields(); i++ {
		actualField := actual.Field(i)
		expectedField := expected.Field(i)

		if actualField.Name != expectedField.Name {
			return fmt.Errorf("field %d name mismatch: got %s, expected %s",
				i, actualField.Name, expectedField.Name)
		}

		if !arrow.TypeEqual(actualField.Type, expectedField.Type) {
			return fmt.Errorf("field %s type mismatch: got %s, expected %s",
				actualField.Name, actualField.Type, expectedField.Type)
		}
	}

	return nil
}
