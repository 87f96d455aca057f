// Package jsonl 异步写入器测试
package jsonl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestWriter_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tops.jsonl")

	w, err := NewWriter(path, 100)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	for i := 0; i < 10; i++ {
		rec := TopOfBookRecord{
			Ts:         int64(1700000000000 + i),
			Instrument: "WILL-X-WIN-2026",
			Sequence:   uint64(i + 1),
			BestBid:    "0.50",
			BestAsk:    "0.52",
			SpreadBps:  392.15,
		}
		if err := w.Write(rec); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.EncodeFailed() != 0 {
		t.Fatalf("encode_failed=%d, want 0", w.EncodeFailed())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("打开输出文件失败: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec TopOfBookRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("第 %d 行不是合法 JSON: %v", lines+1, err)
		}
		if rec.Instrument != "WILL-X-WIN-2026" {
			t.Fatalf("instrument=%s", rec.Instrument)
		}
		lines++
	}
	if lines != 10 {
		t.Fatalf("lines=%d, want 10", lines)
	}
}

func TestWriter_WriteAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.jsonl")
	w, err := NewWriter(path, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Write(TopOfBookRecord{}); err == nil {
		t.Fatalf("关闭后写入应报错")
	}
	// Close 幂等
	if err := w.Close(); err != nil {
		t.Fatalf("重复 Close: %v", err)
	}
}

func TestWriter_FlushVisible(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	w, err := NewWriter(path, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(MetricsRecord{Ts: 1, Books: 2, Applied: 3}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取输出文件失败: %v", err)
	}
	var rec MetricsRecord
	if err := json.Unmarshal(data[:len(data)-1], &rec); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if rec.Books != 2 || rec.Applied != 3 {
		t.Fatalf("rec=%+v", rec)
	}
}

func TestWriter_EncodeFailureCounted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	w, err := NewWriter(path, 10)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	// channel 无法被 JSON 编码
	if err := w.Write(make(chan int)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if w.EncodeFailed() != 1 {
		t.Fatalf("encode_failed=%d, want 1", w.EncodeFailed())
	}
	data, _ := os.ReadFile(path)
	if len(data) != 0 {
		t.Fatalf("编码失败的记录不应写入文件: %q", data)
	}
}

func TestTopOfBookRecord_EmptySideOmitted(t *testing.T) {
	rec := TopOfBookRecord{Ts: 1, Instrument: "X", Sequence: 2, BestBid: "0.50"}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"ts", "instrument", "sequence", "best_bid"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("缺少字段 %s: %s", key, data)
		}
	}
	// 空边字段省略
	for _, key := range []string{"best_ask", "best_ask_size", "spread_bps"} {
		if _, ok := m[key]; ok {
			t.Fatalf("空边字段 %s 不应出现: %s", key, data)
		}
	}
}
