package data

import (
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/VanDung-dev/SudokuMesh-Engine/sudokumesh-engine/ledger"
)

func TestLedgerSchema(t *testing.T) {
	schema := LedgerSchema()

	expectedNames := []string{"address", "validations", "solved"}
	if schema.NumFields() != len(expectedNames) {
		t.Fatalf("Expected %d fields, got %d", len(expectedNames), schema.NumFields())
	}
	for i, name := range expectedNames {
		if schema.Field(i).Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, schema.Field(i).Name)
		}
	}
}

func TestTopologySchema(t *testing.T) {
	schema := TopologySchema()

	if schema.NumFields() != 2 {
		t.Errorf("Expected 2 fields, got %d", schema.NumFields())
	}

	peersField := schema.Field(1)
	if peersField.Name != "peers" {
		t.Errorf("Expected field 1 to be 'peers', got %s", peersField.Name)
	}
	if peersField.Type.ID() != arrow.LIST {
		t.Errorf("Expected 'peers' to be List type, got %s", peersField.Type.ID())
	}
}

func TestLedgerArrowRoundTrip(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	converter := NewConverterWithAllocator(alloc)
	entries := map[string]ledger.Entry{
		"10.0.0.2:5001": {Validations: 7},
		"10.0.0.1:5000": {Validations: 40, Solved: 2},
	}

	record, err := converter.LedgerToArrowBatch(entries)
	if err != nil {
		t.Fatalf("LedgerToArrowBatch failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 2 {
		t.Errorf("Expected 2 rows, got %d", record.NumRows())
	}

	back, err := converter.ArrowBatchToLedger(record)
	if err != nil {
		t.Fatalf("ArrowBatchToLedger failed: %v", err)
	}
	if !reflect.DeepEqual(back, entries) {
		t.Errorf("Expected %v, got %v", entries, back)
	}
}

func TestTopologyArrowIPCRoundTrip(t *testing.T) {
	converter := NewConverter()
	topology := map[string][]string{
		"10.0.0.1:5000": {"10.0.0.2:5001", "10.0.0.3:5002"},
		"10.0.0.2:5001": {"10.0.0.1:5000"},
		"10.0.0.3:5002": {},
	}

	record, err := converter.TopologyToArrowBatch(topology)
	if err != nil {
		t.Fatalf("TopologyToArrowBatch failed: %v", err)
	}
	defer record.Release()

	w := NewIPCWriter()
	payload, err := w.SerializeToIPC(record)
	if err != nil {
		t.Fatalf("SerializeToIPC failed: %v", err)
	}

	decoded, err := w.DeserializeFromIPC(payload)
	if err != nil {
		t.Fatalf("DeserializeFromIPC failed: %v", err)
	}
	defer decoded.Release()

	back, err := converter.ArrowBatchToTopology(decoded)
	if err != nil {
		t.Fatalf("ArrowBatchToTopology failed: %v", err)
	}
	if !reflect.DeepEqual(back, topology) {
		t.Errorf("Expected %v, got %v", topology, back)
	}
}

func TestEmptyLedgerExports(t *testing.T) {
	converter := NewConverter()
	record, err := converter.LedgerToArrowBatch(nil)
	if err != nil {
		t.Fatalf("LedgerToArrowBatch failed: %v", err)
	}
	defer record.Release()

	if record.NumRows() != 0 {
		t.Errorf("Expected empty record, got %d rows", record.NumRows())
	}
	if _, err := NewIPCWriter().SerializeToIPC(record); err != nil {
		t.Errorf("Expected empty record to serialize, got %v", err)
	}
}

func TestValidateSchemaMismatch(t *testing.T) {
	converter := NewConverter()
	record, _ := converter.TopologyToArrowBatch(map[string][]string{"a:1": nil})
	defer record.Release()

	if err := ValidateSchema(record, LedgerSchema()); err == nil {
		t.Error("Expected schema mismatch error")
	}
	if _, err := converter.ArrowBatchToLedger(record); err == nil {
		t.Error("Expected ArrowBatchToLedger to reject a topology record")
	}
	if err := ValidateSchema(nil, LedgerSchema()); err == nil {
		t.Error("Expected error for nil record")
	}
}
