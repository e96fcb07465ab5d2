package storage

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"artmarket/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events", "out.jsonl")
	sink := NewJsonlStorage(path)

	first := []model.AuctionEventRecord{
		{ChainID: 1337, EventName: "BidPlaced", TokenID: 7, AmountEther: "1.2", BlockNumber: 100, TxHash: "0x01"},
	}
	second := []model.AuctionEventRecord{
		{ChainID: 1337, EventName: "AuctionEnded", TokenID: 7, AmountEther: "2", BlockNumber: 200, TxHash: "0x02"},
	}

	if err := sink.PutEventBatch(first); err != nil {
		t.Fatalf("put first batch: %v", err)
	}
	if err := sink.PutEventBatch(second); err != nil {
		t.Fatalf("put second batch: %v", err)
	}
	if err := sink.PutEventBatch(nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer file.Close()

	var records []model.AuctionEventRecord
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var record model.AuctionEventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("parse line: %v", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}

	if len(records) != 2 {
		t.Fatalf("record count = %d", len(records))
	}
	if records[0].EventName != "BidPlaced" || records[1].EventName != "AuctionEnded" {
		t.Fatalf("order mismatch: %+v", records)
	}
}
