package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/nvthai0611/doan-build-sub011/internal/domain"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type CreateIntentRequest struct {
	FeeRecordIDs []string `json:"fee_record_ids"`
}

func ValidateCreateIntentRequest(r *http.Request) (*CreateIntentRequest, error) {
	var req CreateIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		return nil, err
	}
	if len(req.FeeRecordIDs) == 0 {
		return nil, &ValidationError{Field: "fee_record_ids", Message: "fee_record_ids is required and must be a non-empty array"}
	}
	for _, id := range req.FeeRecordIDs {
		if strings.TrimSpace(id) == "" {
			return nil, &ValidationError{Field: "fee_record_ids", Message: "fee_record_ids must not contain empty ids"}
		}
	}
	return &req, nil
}

// WebhookRequest is the gateway callback after boundary validation: a
// closed set of statuses and concrete numeric types, whatever shape the
// provider sent them in.
type WebhookRequest struct {
	OrderCode       int64
	TransactionCode string
	Amount          int64
	Status          domain.CallbackStatus
}

type rawWebhookRequest struct {
	OrderCode       interface{} `json:"orderCode"`
	TransactionCode interface{} `json:"transactionCode"`
	Amount          interface{} `json:"amount"`
	Status          interface{} `json:"status"`
}

func ValidateWebhookRequest(r *http.Request) (*WebhookRequest, error) {
	var raw rawWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	orderCode, err := toInt64(raw.OrderCode)
	if err != nil || orderCode <= 0 {
		return nil, &ValidationError{Field: "orderCode", Message: "orderCode must be a positive integer"}
	}

	txnCode, err := toTrimmedString(raw.TransactionCode)
	if err != nil || txnCode == "" {
		return nil, &ValidationError{Field: "transactionCode", Message: "transactionCode is required"}
	}

	amount, err := toInt64(raw.Amount)
	if err != nil || amount < 0 {
		return nil, &ValidationError{Field: "amount", Message: "amount must be a non-negative integer"}
	}

	statusStr, err := toTrimmedString(raw.Status)
	if err != nil {
		return nil, &ValidationError{Field: "status", Message: "status must be a string"}
	}
	status, ok := normalizeCallbackStatus(statusStr)
	if !ok {
		return nil, &ValidationError{Field: "status", Message: "status must be one of success, failed"}
	}
	if status == domain.CallbackSuccess && amount == 0 {
		return nil, &ValidationError{Field: "amount", Message: "a success callback must carry a positive amount"}
	}

	return &WebhookRequest{
		OrderCode:       orderCode,
		TransactionCode: txnCode,
		Amount:          amount,
		Status:          status,
	}, nil
}

// normalizeCallbackStatus maps provider spellings onto the closed
// callback set before anything reaches the state machine.
func normalizeCallbackStatus(s string) (domain.CallbackStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "success", "succeeded", "paid", "00":
		return domain.CallbackSuccess, true
	case "failed", "fail", "error":
		return domain.CallbackFailed, true
	}
	return "", false
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, fmt.Errorf("missing")
	case float64:
		return int64(val), nil
	case string:
		if val == "" {
			return 0, fmt.Errorf("empty")
		}
		return strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	case json.Number:
		return val.Int64()
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func toTrimmedString(v interface{}) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(val), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("not a string")
	}
}
