package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/referral-next/internal/cache"
	"github.com/referral-next/internal/config"
)

var (
	ErrConfigInvalid = errors.New("ledger config invalid")
	// ErrLedger 账本服务通用错误
	ErrLedger = errors.New("ledger request failed")
	// ErrDuplicateTransaction 相同引用的交易已被账本处理过。
	// 对调用方而言等价于成功，不是致命错误。
	ErrDuplicateTransaction = errors.New("ledger transaction reference already processed")
	// ErrInsufficientBalance 余额不足，可恢复
	ErrInsufficientBalance = errors.New("ledger balance insufficient")
	// ErrUnknownProduct 商品不在账本目录中
	ErrUnknownProduct = errors.New("ledger product unknown")
)

const (
	catalogCacheKey   = "ledger:topup_options"
	catalogPageLimit  = 200
	defaultTimeoutSec = 10
)

// API 账本服务调用契约。
// 两个操作都以调用方提供的 reference 做幂等键，重试必须复用同一 reference。
type API interface {
	TopUp(ctx context.Context, userID, productSlug, reference string, amount int64) error
	PurchaseProduct(ctx context.Context, userID, productSlug, reference string) error
}

// TopUpOption 账本充值商品目录项
type TopUpOption struct {
	Slug  string `json:"slug"`
	Title string `json:"title"`
	Cost  int64  `json:"cost"`
}

// Client 账本服务 HTTP 客户端
type Client struct {
	baseURL    string
	authToken  string
	catalogTTL time.Duration
	httpClient *http.Client
}

// NewClient 创建账本客户端
func NewClient(cfg *config.LedgerConfig) (*Client, error) {
	if cfg == nil || strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("%w: base_url is required", ErrConfigInvalid)
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = defaultTimeoutSec
	}
	catalogTTL := time.Duration(cfg.CatalogTTL) * time.Second
	if catalogTTL <= 0 {
		catalogTTL = 5 * time.Minute
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		catalogTTL: catalogTTL,
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

// ListTopUpOptions 拉取充值商品目录，结果缓存于 Redis
func (c *Client) ListTopUpOptions(ctx context.Context) ([]TopUpOption, error) {
	var cached []TopUpOption
	if hit, err := cache.GetJSON(ctx, catalogCacheKey, &cached); err == nil && hit {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/topup/options?offset=0&limit=%d", c.baseURL, catalogPageLimit)
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var options []TopUpOption
	if err := json.Unmarshal(body, &options); err != nil {
		return nil, fmt.Errorf("%w: decode topup options: %v", ErrLedger, err)
	}
	_ = cache.SetJSON(ctx, catalogCacheKey, options, c.catalogTTL)
	return options, nil
}

// TopUp 以幂等引用给用户充值。
// 目录中不存在的 productSlug 返回 ErrUnknownProduct；
// 账本已处理过相同引用时返回 ErrDuplicateTransaction。
func (c *Client) TopUp(ctx context.Context, userID, productSlug, reference string, amount int64) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(reference) == "" {
		return fmt.Errorf("%w: user id and reference are required", ErrConfigInvalid)
	}
	options, err := c.ListTopUpOptions(ctx)
	if err != nil {
		return err
	}
	found := false
	for _, opt := range options {
		if opt.Slug == productSlug {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownProduct, productSlug)
	}

	endpoint := fmt.Sprintf("%s/topup/custom/%s", c.baseURL, url.PathEscape(userID))
	payload := map[string]interface{}{
		"product_id": productSlug,
		"reference":  reference,
		"amount":     amount,
	}
	_, err = c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

// PurchaseProduct 尝试为用户购买商品。
// 余额不足返回 ErrInsufficientBalance，由调用方决定是否吞掉。
func (c *Client) PurchaseProduct(ctx context.Context, userID, productSlug, reference string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(productSlug) == "" {
		return fmt.Errorf("%w: user id and product slug are required", ErrConfigInvalid)
	}
	endpoint := fmt.Sprintf("%s/user/%s/purchase/%s",
		c.baseURL, url.PathEscape(userID), url.PathEscape(productSlug))
	payload := map[string]interface{}{}
	if strings.TrimSpace(reference) != "" {
		payload["reference"] = reference
	}
	_, err := c.do(ctx, http.MethodPost, endpoint, payload)
	return err
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: marshal request: %v", ErrLedger, err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedger, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrLedger, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}
	// 错误种类由状态码决定，不解析错误文案
	switch resp.StatusCode {
	case http.StatusConflict:
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTransaction, strings.TrimSpace(string(body)))
	case http.StatusPaymentRequired:
		return nil, fmt.Errorf("%w: %s", ErrInsufficientBalance, strings.TrimSpace(string(body)))
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, strings.TrimSpace(string(body)))
	default:
		return nil, fmt.Errorf("%w: status %d: %s", ErrLedger, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
