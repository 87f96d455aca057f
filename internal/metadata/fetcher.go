// Package metadata 负责从行情网关获取市场元数据并解析 tick 描述符。
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Fetcher 元数据获取器接口
// 定义从网关获取市场元数据的方法
type Fetcher interface {
	// FetchMarkets 获取市场列表
	FetchMarkets(ctx context.Context, url string) ([]Market, error)
}

// HTTPFetcher HTTP 元数据获取器
// 通过 HTTP 请求获取网关的市场元数据
type HTTPFetcher struct {
	// client HTTP 客户端
	client *http.Client
}

// NewHTTPFetcher 创建 HTTP 元数据获取器
// 参数 timeoutMs: HTTP 请求超时时间（毫秒）
func NewHTTPFetcher(timeoutMs int) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(timeoutMs) * time.Millisecond,
		},
	}
}

// FetchMarkets 获取市场列表
// 参数 ctx: 上下文，用于取消请求
// 参数 url: 市场元数据 API 地址
// 返回: 市场列表
func (f *HTTPFetcher) FetchMarkets(ctx context.Context, url string) ([]Market, error) {
	body, err := f.doRequest(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("请求市场元数据失败: %w", err)
	}

	var resp MarketsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("解析市场元数据失败: %w", err)
	}

	return resp.Markets, nil
}

// doRequest 执行 HTTP GET 请求
// 参数 ctx: 上下文
// 参数 url: 请求地址
// 返回: 响应体字节数组
func (f *HTTPFetcher) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}

	// 设置请求头
	req.Header.Set("User-Agent", "prediction-book-engine/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP 状态码错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	return body, nil
}
