package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GatewayConfig configures the bank/QR provider client. The provider is
// an opaque collaborator: we send an order code and an amount, it hands
// back transfer metadata and a QR image for the payer's banking app.
type GatewayConfig struct {
	BaseURL  string
	ClientID string
	APIKey   string

	BankAccount   string
	BankName      string
	AccountHolder string

	Timeout time.Duration
}

type QRGatewayClient struct {
	cfg  GatewayConfig
	http *http.Client
}

func NewQRGatewayClient(cfg GatewayConfig) *QRGatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &QRGatewayClient{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type CreateQRRequest struct {
	OrderCode   int64
	Amount      int64
	Description string
}

type CreateQRResponse struct {
	// QRCodeURL is the provider-hosted image; QRImage carries the decoded
	// PNG when the provider inlines it.
	QRCodeURL       string
	QRImage         []byte
	TransferContent string
	BankAccount     string
}

type createQRPayload struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BankAccount string `json:"bankAccount"`
	BankName    string `json:"bankName"`
	AccountName string `json:"accountName"`
}

type createQRReply struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		QRCodeURL       string `json:"qrCodeUrl"`
		QRImageBase64   string `json:"qrImageBase64"`
		TransferContent string `json:"transferContent"`
		BankAccount     string `json:"bankAccount"`
	} `json:"data"`
}

// CreatePaymentQR asks the provider for a transfer reference. Callers own
// the retry policy; a non-2xx reply or an unparseable body is an error.
func (c *QRGatewayClient) CreatePaymentQR(ctx context.Context, req CreateQRRequest) (*CreateQRResponse, error) {
	payload := createQRPayload{
		OrderCode:   req.OrderCode,
		Amount:      req.Amount,
		Description: req.Description,
		BankAccount: c.cfg.BankAccount,
		BankName:    c.cfg.BankName,
		AccountName: c.cfg.AccountHolder,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v2/payment-requests", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-client-id", c.cfg.ClientID)
	httpReq.Header.Set("x-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("qr request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("qr response read failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qr request returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var reply createQRReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("qr response decode failed: %w", err)
	}
	if reply.Code != "" && reply.Code != "00" {
		return nil, fmt.Errorf("qr request rejected: code=%s desc=%s", reply.Code, reply.Desc)
	}

	out := &CreateQRResponse{
		QRCodeURL:       reply.Data.QRCodeURL,
		TransferContent: reply.Data.TransferContent,
		BankAccount:     reply.Data.BankAccount,
	}
	if out.BankAccount == "" {
		out.BankAccount = c.cfg.BankAccount
	}
	if reply.Data.QRImageBase64 != "" {
		img, err := base64.StdEncoding.DecodeString(reply.Data.QRImageBase64)
		if err == nil {
			out.QRImage = img
		}
	}
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
