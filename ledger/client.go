package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to a remote ledger service over HTTP. The wire contract is a
// single POST /transfers endpoint; rejections come back with a machine code
// that maps onto ErrorCode.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a ledger client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 30 * time.Second}}
}

type transferPayload struct {
	FromOwner      string `json:"from_owner"`
	FromSubaccount string `json:"from_subaccount,omitempty"`
	ToOwner        string `json:"to_owner"`
	ToSubaccount   string `json:"to_subaccount,omitempty"`
	Amount         uint64 `json:"amount"`
	Fee            uint64 `json:"fee"`
	Memo           string `json:"memo,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

type transferResult struct {
	SettlementRef uint64 `json:"settlement_ref"`
	Code          string `json:"code"`
	Message       string `json:"message"`
}

// Transfer submits the transfer and returns the settlement reference.
// A transport-level failure is returned as-is; such errors carry no
// guarantee about whether the transfer was applied.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (uint64, error) {
	payload := transferPayload{
		FromOwner: req.From.Owner,
		ToOwner:   req.To.Owner,
		Amount:    req.Amount,
		Fee:       req.Fee,
		Memo:      req.Memo,
	}
	if req.From.Subaccount != nil {
		payload.FromSubaccount = hex.EncodeToString(req.From.Subaccount[:])
	}
	if req.To.Subaccount != nil {
		payload.ToSubaccount = hex.EncodeToString(req.To.Subaccount[:])
	}
	if !req.CreatedAt.IsZero() {
		payload.CreatedAt = req.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("ledger: marshal transfer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/transfers", bytes.NewReader(b))
	if err != nil {
		return 0, fmt.Errorf("ledger: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("ledger: transfer call: %w", err)
	}
	defer resp.Body.Close()

	var out transferResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("ledger: decode response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode == http.StatusOK {
		return out.SettlementRef, nil
	}
	return 0, NewTransferError(codeFromWire(out.Code), out.Message)
}

func codeFromWire(code string) ErrorCode {
	switch ErrorCode(code) {
	case CodeInsufficientFunds, CodeBadFee, CodeDuplicate, CodeTooOld,
		CodeCreatedInFuture, CodeUnavailable:
		return ErrorCode(code)
	default:
		return CodeGeneric
	}
}
