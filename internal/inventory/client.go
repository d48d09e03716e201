package inventory

import (
	"context"
	"fmt"
	"time"

	resty "github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/QingMing-Bot/clore-ops-bot/internal/domain"
)

const (
	DefaultBaseURL = "https://api.clore.ai"
	ordersPath     = "v1/my_orders"
	authHeader     = "auth"
)

// Client 读取管理服务上的实例列表
type Client struct {
	restyClient *resty.Client
	log         *zap.Logger
}

func NewClient(baseURL, token string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	rc := resty.New()
	rc.SetBaseURL(baseURL)
	rc.SetHeader(authHeader, token)
	rc.SetTimeout(30 * time.Second)
	return &Client{restyClient: rc, log: log}
}

type ordersResponse struct {
	Code   int               `json:"code"`
	Orders []domain.Instance `json:"orders"`
}

// APIError 管理服务在响应体中返回了非零 code
type APIError struct {
	Code int
}

func (e APIError) Error() string { return fmt.Sprintf("inventory api returned code %d", e.Code) }

// HTTPResponseError 非 2xx 响应
type HTTPResponseError struct {
	response *resty.Response
}

func (e HTTPResponseError) Error() string {
	return fmt.Sprintf("%s %s", e.response.Request.URL, e.response.Status())
}

// ListInstances 返回当前实例列表。传输错误、HTTP 错误或非零 code 都记日志并返回空列表。
func (c *Client) ListInstances(ctx context.Context) []domain.Instance {
	orders, err := c.FetchInstances(ctx)
	if err != nil {
		c.log.Error("fetch orders failed", zap.Error(err))
		return []domain.Instance{}
	}
	return orders
}

// FetchInstances 与 ListInstances 相同，但把错误交给调用方。
func (c *Client) FetchInstances(ctx context.Context) ([]domain.Instance, error) {
	var result ordersResponse
	res, err := c.restyClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetResult(&result).
		Get(ordersPath)
	if err != nil {
		return nil, errors.Wrap(err, "get orders")
	}
	if res.IsError() {
		return nil, errors.WithStack(HTTPResponseError{response: res})
	}
	if result.Code != 0 {
		return nil, errors.WithStack(APIError{Code: result.Code})
	}
	if result.Orders == nil {
		return []domain.Instance{}, nil
	}
	return result.Orders, nil
}
