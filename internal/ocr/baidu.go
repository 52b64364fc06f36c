package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultBaiduURL = "https://aip.baidubce.com"

// Baidu implements the Client interface against the Baidu cloud OCR
// VAT-invoice endpoint.
type Baidu struct {
	baseURL string
	creds   Credentials
	client  *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewBaidu creates a new Baidu Client instance. baseURL overrides the
// production endpoint, mainly for tests.
func NewBaidu(creds Credentials, baseURL string) *Baidu {
	if baseURL == "" {
		baseURL = defaultBaiduURL
	}
	return &Baidu{
		baseURL: baseURL,
		creds:   creds,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// BaiduFactory returns a Factory producing Baidu clients against baseURL.
func BaiduFactory(baseURL string) Factory {
	return func(creds Credentials) Client {
		return NewBaidu(creds, baseURL)
	}
}

type baiduTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	ErrorDesc   string `json:"error_description"`
}

type baiduOCRResponse struct {
	WordsResult Fields `json:"words_result"`
	ErrorCode   int    `json:"error_code"`
	ErrorMsg    string `json:"error_msg"`
}

// accessToken returns a cached OAuth token, exchanging client credentials
// for a fresh one when the cache is empty or about to expire.
func (b *Baidu) accessToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.token != "" && time.Now().Before(b.tokenExpiry) {
		return b.token, nil
	}

	q := url.Values{}
	q.Set("grant_type", "client_credentials")
	q.Set("client_id", b.creds.APIKey)
	q.Set("client_secret", b.creds.SecretKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/oauth/2.0/token?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading token response: %w", err)
	}

	var tok baiduTokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("unmarshaling token response: %w", err)
	}
	if tok.Error != "" {
		return "", fmt.Errorf("token exchange failed: %s: %s", tok.Error, tok.ErrorDesc)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access token (status %d)", resp.StatusCode)
	}

	b.token = tok.AccessToken
	// Renew a minute early so an in-flight call never carries a stale token.
	b.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return b.token, nil
}

// RecognizeVATInvoice submits an invoice image for structured extraction.
// A provider-reported failure comes back as *ProviderError.
func (b *Baidu) RecognizeVATInvoice(ctx context.Context, image []byte) (Fields, error) {
	token, err := b.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("image", base64.StdEncoding.EncodeToString(image))

	endpoint := fmt.Sprintf("%s/rest/2.0/ocr/v1/vat_invoice?access_token=%s", b.baseURL, url.QueryEscape(token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating recognition request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling ocr provider: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading ocr response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr provider returned status %d: %s", resp.StatusCode, string(body))
	}

	var out baiduOCRResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("unmarshaling ocr response: %w", err)
	}
	if out.ErrorCode != 0 {
		return nil, &ProviderError{Code: out.ErrorCode, Message: out.ErrorMsg}
	}

	if out.WordsResult == nil {
		out.WordsResult = Fields{}
	}
	return out.WordsResult, nil
}
