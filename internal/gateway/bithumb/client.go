// Package bithumb 封装 Bithumb REST API 2.0 的行情与下单访问。
package bithumb

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"maru/internal/config"
	"maru/internal/pkg/circuit"
	"maru/internal/pkg/text"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// Client wraps the Bithumb API 2.0 endpoints required by maru.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	accessKey  string
	secretKey  string
	limiter    *rate.Limiter
	breaker    *circuit.Breaker
}

// ErrCircuitOpen 在熔断器打开期间快速失败，调用方按交易所不可用处理。
var ErrCircuitOpen = errors.New("bithumb 熔断中，请求被拒绝")

const maxResponseBytes = 1 << 20

// NewClient constructs a Bithumb client from configuration.
func NewClient(cfg config.ExchangeConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("exchange.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 exchange.base_url 失败: %w", err)
	}
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := cfg.RateLimitPerSec
	if limit <= 0 {
		limit = 8
	}
	burst := int(limit)
	if burst < 1 {
		burst = 1
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.BreakerCooldown()
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		accessKey:  strings.TrimSpace(cfg.AccessKey),
		secretKey:  strings.TrimSpace(cfg.SecretKey),
		limiter:    rate.NewLimiter(rate.Limit(limit), burst),
		breaker:    circuit.NewBreaker("bithumb", threshold, cooldown),
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Breaker 暴露熔断器，供健康检查读取状态。
func (c *Client) Breaker() *circuit.Breaker {
	return c.breaker
}

func (c *Client) hasCredentials() bool {
	return c.accessKey != "" && c.secretKey != ""
}

// HasCredentials 报告是否配置了私有接口密钥。
// 没有密钥时公共行情仍可用，下单和余额查询会失败。
func (c *Client) HasCredentials() bool {
	return c.hasCredentials()
}

// signToken 生成私有接口的 JWT。带参数的请求附加 query_hash，
// 哈希内容是参数的 urlencode 形式。
func (c *Client) signToken(params url.Values) (string, error) {
	if !c.hasCredentials() {
		return "", fmt.Errorf("exchange.access_key/secret_key 未配置")
	}
	claims := jwt.MapClaims{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
		"timestamp":  time.Now().UnixMilli(),
	}
	if len(params) > 0 {
		sum := sha512.Sum512([]byte(params.Encode()))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.secretKey))
	if err != nil {
		return "", fmt.Errorf("签发 bithumb JWT 失败: %w", err)
	}
	return token, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, signed bool) ([]byte, error) {
	endpoint, err := c.resolveEndpoint(path, query)
	if err != nil {
		return nil, err
	}
	token := ""
	if signed {
		token, err = c.signToken(query)
		if err != nil {
			return nil, err
		}
	}
	status, data, err := c.send(ctx, http.MethodGet, endpoint, nil, token)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, apiError(status, data)
	}
	return data, nil
}

func (c *Client) send(ctx context.Context, method string, endpoint *url.URL, body []byte, token string) (int, []byte, error) {
	if c == nil || c.httpClient == nil {
		return 0, nil, fmt.Errorf("bithumb client 未初始化")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, err
	}
	if !c.breaker.Allow() {
		return 0, nil, ErrCircuitOpen
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return 0, nil, fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		return 0, nil, fmt.Errorf("调用 bithumb 失败: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return resp.StatusCode, nil, fmt.Errorf("读取 bithumb 响应失败: %w", err)
	}
	// 5xx 计入熔断；4xx 是交易所正常应答（含拒单），不触发熔断。
	if resp.StatusCode >= http.StatusInternalServerError {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	return resp.StatusCode, data, nil
}

func (c *Client) resolveEndpoint(path string, query url.Values) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("bithumb API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		trimmed = "/"
	}
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.RawQuery = ""
	if len(query) > 0 {
		base.RawQuery = query.Encode()
	}
	base.Fragment = ""
	return &base, nil
}

func apiError(status int, data []byte) error {
	msg := gjson.GetBytes(data, "error.message").String()
	if msg == "" {
		msg = strings.TrimSpace(text.Truncate(string(data), 256))
	}
	if msg == "" {
		return fmt.Errorf("bithumb 返回错误: HTTP %d", status)
	}
	return fmt.Errorf("bithumb 返回错误(HTTP %d): %s", status, msg)
}
