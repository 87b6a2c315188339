package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Cache is the read-through cache surface the client needs. Satisfied by
// redisclient.Client.
type Cache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Config holds the item store endpoint and credentials.
type Config struct {
	URL      string
	Username string
	Password string
	APIKey   string
	CacheTTL time.Duration
}

// Client talks to the remote item store (CRM REST API). It is the
// authoritative source for product pricing, tax and packaging data; reads go
// through the redis cache with a short TTL.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  Cache
	logger *zap.Logger
}

// NewClient creates a new catalog gateway client. cache may be nil, in which
// case every read hits the item store.
func NewClient(cfg Config, cache Cache) *Client {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 15 * time.Second},
		cache:  cache,
		logger: util.GetLogger(),
	}
}

type apiResponse struct {
	Status string    `json:"status"`
	Data   []rawItem `json:"data"`
}

// FetchProducts resolves products by id. Ids the item store does not know are
// absent from the result; the caller decides how to treat the gap. Each
// product is cached under its own key so Touch can invalidate precisely.
func (c *Client) FetchProducts(ctx context.Context, ids []int64) ([]Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	products := make([]Product, 0, len(sorted))
	missing := sorted
	if c.cache != nil {
		missing = make([]int64, 0, len(sorted))
		for _, id := range sorted {
			var cached Product
			hit, err := c.cache.Get(ctx, productKey(id), &cached)
			if err != nil {
				c.logger.Warn("Catalog cache read failed", zap.Error(err))
				missing = append(missing, id)
				continue
			}
			if hit {
				products = append(products, cached)
			} else {
				missing = append(missing, id)
			}
		}
	}
	if len(missing) == 0 {
		return products, nil
	}

	items, err := c.call(ctx, "select", EntityProducts, map[string]string{
		"items[id]": joinIDs(missing),
	})
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		product, err := decodeProduct(item)
		if err != nil {
			c.logger.Warn("Skipping undecodable catalog record", zap.Error(err))
			continue
		}
		products = append(products, product)

		if c.cache != nil {
			if err := c.cache.Set(ctx, productKey(product.ID), product, c.cfg.CacheTTL); err != nil {
				c.logger.Warn("Catalog cache write failed", zap.Error(err))
			}
		}
	}
	return products, nil
}

func productKey(id int64) string {
	return "catalog:products:" + strconv.FormatInt(id, 10)
}

// FetchOrderExtra reads the CRM's own view of an order, returning the raw
// field map for event enrichment. ErrNotConsistent signals the CRM has not
// caught up with a freshly committed order yet.
func (c *Client) FetchOrderExtra(ctx context.Context, orderID int64) (map[string]string, error) {
	items, err := c.call(ctx, "select", EntityOrders, map[string]string{
		"items[id]": strconv.FormatInt(orderID, 10),
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNotConsistent
	}

	extra := make(map[string]string, len(items[0]))
	for key := range items[0] {
		extra[key] = items[0].stringOf(key)
	}
	return extra, nil
}

// Touch informs the item store that an externally-tracked entity changed so
// it can refresh its derived data. Touching products also drops the local
// product cache.
func (c *Client) Touch(ctx context.Context, entity Entity, id int64) error {
	_, err := c.call(ctx, "touch", entity, map[string]string{
		"items[id]": strconv.FormatInt(id, 10),
	})
	if err != nil {
		return err
	}

	if entity == EntityProducts && c.cache != nil {
		if err := c.cache.Invalidate(ctx, productKey(id)); err != nil {
			c.logger.Warn("Catalog cache invalidation failed", zap.Error(err))
		}
	}
	return nil
}

// ErrNotConsistent is returned when a read-after-write against the item store
// does not yet see the written entity.
var ErrNotConsistent = fmt.Errorf("item store not yet consistent")

func (c *Client) call(ctx context.Context, action string, entity Entity, params map[string]string) ([]rawItem, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	fields := map[string]string{
		"username":  c.cfg.Username,
		"password":  c.cfg.Password,
		"key":       c.cfg.APIKey,
		"action":    action,
		"entity_id": strconv.Itoa(int(entity)),
	}
	for k, v := range params {
		fields[k] = v
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", action, err)
		}
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("catalog %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/api/rest.php", &body)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", action, err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog %s: unexpected status %d", action, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", action, err)
	}

	var parsed apiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("catalog %s: bad response: %w", action, err)
	}
	return parsed.Data, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
