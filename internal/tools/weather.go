package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/analystiq/analystiq/internal/models"
)

// DefaultWeatherBaseURL is the OpenWeatherMap current-weather endpoint.
const DefaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"

const weatherUnavailableText = "The weather service isn't available right now, please try again in a bit."

// WeatherHandler answers current-weather questions via OpenWeatherMap.
type WeatherHandler struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// WeatherOption configures a WeatherHandler.
type WeatherOption func(*WeatherHandler)

// WithWeatherBaseURL overrides the service endpoint, primarily for tests.
func WithWeatherBaseURL(u string) WeatherOption {
	return func(h *WeatherHandler) { h.baseURL = u }
}

// WithWeatherHTTPClient overrides the HTTP client.
func WithWeatherHTTPClient(c *http.Client) WeatherOption {
	return func(h *WeatherHandler) { h.client = c }
}

// NewWeatherHandler creates the get_weather handler. An empty API key is
// allowed at construction; invocations then degrade to the fallback text.
func NewWeatherHandler(apiKey string, opts ...WeatherOption) *WeatherHandler {
	h := &WeatherHandler{
		apiKey:  apiKey,
		baseURL: DefaultWeatherBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Spec declares the get_weather contract.
func (h *WeatherHandler) Spec() models.ToolSpec {
	return models.ToolSpec{
		Name:        models.ToolGetWeather,
		Description: "Get the current weather for a city.",
		Required:    []string{"city"},
		Defaults:    map[string]string{"units": "metric"},
	}
}

// weatherResponse is the subset of the OpenWeatherMap payload we render.
type weatherResponse struct {
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Execute fetches current conditions for the requested city. Service
// failures degrade to a fixed fallback text; an unknown city gets a
// corrective message.
func (h *WeatherHandler) Execute(ctx context.Context, req Request) models.ToolResult {
	city := req.Parameters["city"]
	if h.apiKey == "" {
		slog.Warn("WeatherHandler.Execute: no API key configured")
		return models.ToolResult{Success: true, Text: weatherUnavailableText}
	}

	q := url.Values{}
	q.Set("q", city)
	q.Set("appid", h.apiKey)
	q.Set("units", req.Parameters["units"])
	endpoint := fmt.Sprintf("%s/weather?%s", h.baseURL, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.ToolResult{Success: false, Error: err.Error(), Text: weatherUnavailableText}
	}
	resp, err := h.client.Do(httpReq)
	if err != nil {
		slog.Warn("WeatherHandler.Execute: request failed", "city", city, "error", err)
		return models.ToolResult{Success: true, Text: weatherUnavailableText}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return models.ToolResult{
			Success: true,
			Text:    fmt.Sprintf("I couldn't find a city called %q. Could you check the spelling?", city),
		}
	}
	if resp.StatusCode != http.StatusOK {
		slog.Warn("WeatherHandler.Execute: unexpected status", "city", city, "status", resp.StatusCode)
		return models.ToolResult{Success: true, Text: weatherUnavailableText}
	}

	var payload weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		slog.Warn("WeatherHandler.Execute: failed to decode response", "city", city, "error", err)
		return models.ToolResult{Success: true, Text: weatherUnavailableText}
	}

	description := "unknown conditions"
	if len(payload.Weather) > 0 {
		description = payload.Weather[0].Description
	}
	unitSymbol := "°C"
	if req.Parameters["units"] == "imperial" {
		unitSymbol = "°F"
	}
	return models.ToolResult{
		Success: true,
		Text: fmt.Sprintf("Weather in %s: %s, %.1f%s (feels like %.1f%s), humidity %d%%, wind %.1f m/s.",
			payload.Name, description,
			payload.Main.Temp, unitSymbol,
			payload.Main.FeelsLike, unitSymbol,
			payload.Main.Humidity, payload.Wind.Speed),
	}
}
