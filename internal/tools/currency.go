package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// DefaultCurrencyBaseURL is the open exchange-rate API endpoint.
const DefaultCurrencyBaseURL = "https://open.er-api.com/v6"

const currencyUnavailableText = "The exchange-rate service isn't available right now, please try again in a bit."

// CurrencyHandler converts an amount between currencies using live
// exchange rates. The rate API is keyless.
type CurrencyHandler struct {
	baseURL string
	client  *http.Client
}

// CurrencyOption configures a CurrencyHandler.
type CurrencyOption func(*CurrencyHandler)

// WithCurrencyBaseURL overrides the service endpoint, primarily for tests.
func WithCurrencyBaseURL(u string) CurrencyOption {
	return func(h *CurrencyHandler) { h.baseURL = u }
}

// NewCurrencyHandler creates the convert_currency handler.
func NewCurrencyHandler(opts ...CurrencyOption) *CurrencyHandler {
	h := &CurrencyHandler{
		baseURL: DefaultCurrencyBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spec declares the convert_currency contract.
func (h *CurrencyHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolConvertCurrency,
		Description: "Convert an amount from one currency to another using current exchange rates. Currencies are ISO 4217 codes such as USD or EUR.",
		Required:    []string{"amount", "from", "to"},
	}
}

// ratesResponse is the subset of the er-api payload we use.
type ratesResponse struct {
	Result string             `json:"result"`
	Rates  map[string]float64 `json:"rates"`
}

// Execute converts the amount. Unknown currency codes get a corrective
// message; service failures degrade to a fixed fallback text.
func (h *CurrencyHandler) Execute(ctx context.Context, req Request) models.ToolResult {
	amount, err := strconv.ParseFloat(strings.ReplaceAll(req.Parameters["amount"], ",", ""), 64)
	if err != nil {
		return models.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("invalid amount %q: %v", req.Parameters["amount"], err),
			Text:    fmt.Sprintf("I couldn't read %q as an amount. Try something like \"convert 100 USD to EUR\".", req.Parameters["amount"]),
		}
	}
	from := strings.ToUpper(strings.TrimSpace(req.Parameters["from"]))
	to := strings.ToUpper(strings.TrimSpace(req.Parameters["to"]))

	endpoint := fmt.Sprintf("%s/latest/%s", h.baseURL, from)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error(), Text: currencyUnavailableText}
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		slog.Warn("CurrencyHandler.Execute: request failed", "from", from, "error", err)
		return models.ToolResult{Success: true, Text: currencyUnavailableText}
	}
	defer resp.Body.Close()

	var payload ratesResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Warn("CurrencyHandler.Execute: failed to decode response", "from", from, "error", err)
		return models.ToolResult{Success: true, Text: currencyUnavailableText}
	}
	if resp.StatusCode != http.StatusOK || payload.Result != "success" {
		// The API reports unknown base currencies as an error result.
		return models.ToolResult{
			Success: true,
			Text:    fmt.Sprintf("I don't recognize the currency code %q. Please use ISO codes like USD, EUR or GBP.", from),
		}
	}
	rate, ok := payload.Rates[to]
	if !ok {
		return models.ToolResult{
			Success: true,
			Text:    fmt.Sprintf("I don't recognize the currency code %q. Please use ISO codes like USD, EUR or GBP.", to),
		}
	}

	converted := amount * rate
	return models.ToolResult{
		Success: true,
		Text:    fmt.Sprintf("%.2f %s = %.2f %s (rate %.4f)", amount, from, converted, to, rate),
	}
}
