// Package metadata 元数据获取测试
package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchMarkets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept=%s", r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"markets": [
				{"instrument": "WILL-X-WIN-2026", "question": "Will X win?", "active": true,
				 "tick_size": "0.0001", "size_scale": 6, "min_tick": 1, "max_tick": 9999},
				{"instrument": "WILL-Y-WIN-2026", "active": false,
				 "tick_size": "0.001", "size_scale": 4, "min_tick": 1, "max_tick": 999}
			]
		}`))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(5000)
	markets, err := fetcher.FetchMarkets(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("FetchMarkets: %v", err)
	}

	if len(markets) != 2 {
		t.Fatalf("markets=%d, want 2", len(markets))
	}
	if markets[0].Instrument != "WILL-X-WIN-2026" || !markets[0].Active {
		t.Fatalf("markets[0]=%+v", markets[0])
	}
	if markets[0].TickSize != "0.0001" || markets[0].SizeScale != 6 {
		t.Fatalf("markets[0] 描述符=%+v", markets[0])
	}
	if markets[1].Active {
		t.Fatalf("markets[1] 应不可交易")
	}
}

func TestFetchMarkets_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(5000)
	if _, err := fetcher.FetchMarkets(context.Background(), srv.URL); err == nil {
		t.Fatalf("非 200 状态码应报错")
	}
}

func TestFetchMarkets_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	fetcher := NewHTTPFetcher(5000)
	if _, err := fetcher.FetchMarkets(context.Background(), srv.URL); err == nil {
		t.Fatalf("非法响应体应报错")
	}
}

func TestFetchMarkets_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := NewHTTPFetcher(5000)
	if _, err := fetcher.FetchMarkets(ctx, srv.URL); err == nil {
		t.Fatalf("已取消的上下文应报错")
	}
}
