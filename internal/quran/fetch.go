package quran

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/adnsalim/murattil/internal/resilience"
)

// Fetcher retrieves canonical text from a remote source. Used only during
// cache population; foreground correction never calls out to the network.
type Fetcher interface {
	// Fetch returns the text for a single ayah. A reference the source does
	// not know is an error here, unlike [Lookup.Resolve]; the populator
	// should only ask for references it believes exist.
	Fetch(ctx context.Context, ref Reference) (string, error)
}

// HTTPFetcherConfig configures an [HTTPFetcher].
type HTTPFetcherConfig struct {
	// BaseURL is the API root, e.g. "https://api.alquran.cloud/v1".
	BaseURL string

	// Edition selects the text edition. Defaults to "quran-simple".
	Edition string

	// Timeout bounds each request. Defaults to 10s.
	Timeout time.Duration

	// Breaker tunes the circuit breaker guarding the remote source.
	Breaker resilience.CircuitBreakerConfig
}

// HTTPFetcher retrieves ayah text over HTTP, guarded by a circuit breaker so
// a flapping remote source fails fast during population instead of hammering
// it with doomed requests.
type HTTPFetcher struct {
	baseURL string
	edition string
	client  *http.Client
	breaker *resilience.CircuitBreaker
}

// Compile-time interface check.
var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTP-backed fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.Edition == "" {
		cfg.Edition = "quran-simple"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "quran-fetch"
	}
	return &HTTPFetcher{
		baseURL: cfg.BaseURL,
		edition: cfg.Edition,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}
}

// ayahResponse is the subset of the source's payload we care about.
type ayahResponse struct {
	Data struct {
		Text string `json:"text"`
	} `json:"data"`
}

// Fetch implements [Fetcher].
func (f *HTTPFetcher) Fetch(ctx context.Context, ref Reference) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	if ref.EndAyah != 0 && ref.EndAyah != ref.Ayah {
		return "", fmt.Errorf("quran: fetch resolves single ayahs, got range %s", ref)
	}

	var text string
	err := f.breaker.Execute(func() error {
		var ferr error
		text, ferr = f.fetchOne(ctx, ref)
		return ferr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (f *HTTPFetcher) fetchOne(ctx context.Context, ref Reference) (string, error) {
	url := fmt.Sprintf("%s/ayah/%d:%d/%s", f.baseURL, ref.Surah, ref.Ayah, f.edition)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("quran: build request for %s: %w", ref, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("quran: fetch %s: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("quran: fetch %s: unexpected status %d", ref, resp.StatusCode)
	}

	var body ayahResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("quran: decode %s: %w", ref, err)
	}
	if body.Data.Text == "" {
		return "", fmt.Errorf("quran: fetch %s: empty text in response", ref)
	}
	return body.Data.Text, nil
}
