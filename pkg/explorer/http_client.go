package explorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/obytehq/walletsrv/pkg/config"
	"go.uber.org/zap"
)

// HTTPClient talks to an explorer node over its JSON API.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	log      *zap.Logger
}

// NewHTTPClient creates an explorer client for the configured endpoint.
func NewHTTPClient(cfg config.Explorer, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint: strings.TrimSuffix(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.RequestTimeout},
		log:      log,
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal explorer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("explorer call %s: %w", path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("explorer response %s: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer call %s: status %d: %s", path, resp.StatusCode, data)
	}
	if response != nil {
		if err := json.Unmarshal(data, response); err != nil {
			return fmt.Errorf("explorer response %s: %w", path, err)
		}
	}
	return nil
}

// GetUtxos implements the Client interface.
func (c *HTTPClient) GetUtxos(ctx context.Context, addresses []string, asset string) ([]UTXO, error) {
	var utxos []UTXO
	err := c.post(ctx, "/get_utxos", map[string]any{
		"addresses": addresses,
		"asset":     asset,
	}, &utxos)
	return utxos, err
}

// GetBalance implements the Client interface.
func (c *HTTPClient) GetBalance(ctx context.Context, addresses []string, asset string) (map[string]Balance, error) {
	balances := make(map[string]Balance)
	err := c.post(ctx, "/get_balance", map[string]any{
		"addresses": addresses,
		"asset":     asset,
	}, &balances)
	return balances, err
}

// GetTxHistory implements the Client interface.
func (c *HTTPClient) GetTxHistory(ctx context.Context, addresses []string, opts HistoryOptions) ([]HistoryItem, error) {
	var items []HistoryItem
	err := c.post(ctx, "/get_history", map[string]any{
		"addresses":   addresses,
		"asset":       opts.Asset,
		"limit":       opts.Limit,
		"last_row_id": opts.LastRowID,
		"since_mci":   opts.SinceMCI,
		"unit":        opts.Unit,
	}, &items)
	return items, err
}

// GetAddressActivity implements the Client interface.
func (c *HTTPClient) GetAddressActivity(ctx context.Context, address string) (bool, error) {
	var res struct {
		HasActivity bool `json:"has_activity"`
	}
	err := c.post(ctx, "/get_address_activity", map[string]any{"address": address}, &res)
	return res.HasActivity, err
}

// GetTransaction implements the Client interface. A missing unit is not an
// error: the record is nil.
func (c *HTTPClient) GetTransaction(ctx context.Context, unit string) (*TxRecord, error) {
	var res struct {
		Tx *TxRecord `json:"tx"`
	}
	if err := c.post(ctx, "/get_transaction", map[string]any{"unit": unit}, &res); err != nil {
		return nil, err
	}
	return res.Tx, nil
}
