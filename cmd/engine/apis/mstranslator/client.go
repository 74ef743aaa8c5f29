// Package mstranslator implements the request/response text translation
// adapter for the Microsoft Translator API. User-supplied endpoints come in
// two generations with different wire shapes, so the client inspects the
// endpoint host, path and api-version hint to pick the right one, defaulting
// to the stable v3 shape.
package mstranslator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultEndpoint     = "https://api.cognitive.microsofttranslator.com"
	stableAPIVersion    = "3.0"
	inputsAPIVersion    = "2025-05-01-preview"
	testConnectTimeout  = 12 * time.Second
	testConnectSample   = "ping"
	legacyHostSuffix    = ".api.cognitive.microsoft.com"
	inputsPathIndicator = "/translator"
)

var (
	// ErrMissingCredentials is returned before any network call when the
	// subscription key is absent.
	ErrMissingCredentials = errors.New("translator subscription key is missing")
	// ErrUnexpectedShape is returned when a 2xx response matches neither
	// known result layout.
	ErrUnexpectedShape = errors.New("translator response has an unexpected shape")
)

// apiShape selects the wire format used against the resolved endpoint.
type apiShape int

const (
	// shapeStable is the versioned v3 API: from/to query parameters and an
	// array-of-texts body.
	shapeStable apiShape = iota
	// shapeInputs is the newer API: a nested inputs[] body carrying the
	// language pair, selected by path or api-version hint.
	shapeInputs
)

type endpointPlan struct {
	requestURL string // without language/query parameters
	shape      apiShape
	apiVersion string
}

// Config configures the translator client.
type Config struct {
	APIKey string
	Region string
	// Endpoint is the user-supplied base endpoint; empty selects the
	// global one.
	Endpoint string
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	plan       endpointPlan
}

func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	plan, err := resolveEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		plan:       plan,
	}, nil
}

// resolveEndpoint validates the user-supplied endpoint and decides which
// wire shape it serves.
func resolveEndpoint(raw string) (endpointPlan, error) {
	if raw == "" {
		raw = defaultEndpoint
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpointPlan{}, fmt.Errorf("failed to parse translator endpoint: %w", err)
	}

	if u.Scheme != "https" {
		return endpointPlan{}, fmt.Errorf("translator endpoint must use https, got %q", u.Scheme)
	}

	// The legacy regional Cognitive Services hosts do not serve the
	// Translator API at all; fail early with something actionable rather
	// than a confusing 404 from the service.
	if strings.HasSuffix(strings.ToLower(u.Host), legacyHostSuffix) {
		return endpointPlan{}, fmt.Errorf("endpoint host %q does not serve the Translator API; "+
			"use api.cognitive.microsofttranslator.com or a *.cognitiveservices.azure.com resource endpoint", u.Host)
	}

	versionHint := u.Query().Get("api-version")

	shape := shapeStable
	apiVersion := stableAPIVersion
	switch {
	case strings.Contains(strings.ToLower(u.Path), inputsPathIndicator):
		shape = shapeInputs
		apiVersion = inputsAPIVersion
		if versionHint != "" {
			apiVersion = versionHint
		}
	case versionHint != "" && versionHint != stableAPIVersion:
		shape = shapeInputs
		apiVersion = versionHint
	case versionHint != "":
		apiVersion = versionHint
	}

	path := strings.TrimSuffix(u.Path, "/")
	if shape == shapeStable && !strings.HasSuffix(path, "/translate") {
		path += "/translate"
	}

	return endpointPlan{
		requestURL: u.Scheme + "://" + u.Host + path,
		shape:      shape,
		apiVersion: apiVersion,
	}, nil
}

// Translate translates one text. Empty input short-circuits to an empty
// result without a network call.
func (c *Client) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	if c.cfg.APIKey == "" {
		return "", ErrMissingCredentials
	}

	from := NormalizeLanguage(sourceLang)
	to := NormalizeLanguage(targetLang)

	var (
		reqURL string
		body   []byte
		err    error
	)

	switch c.plan.shape {
	case shapeInputs:
		reqURL = c.plan.requestURL + "?api-version=" + url.QueryEscape(c.plan.apiVersion)
		body, err = json.Marshal(map[string]any{
			"inputs": []map[string]any{{
				"text":     text,
				"language": from,
				"targets":  []map[string]any{{"language": to}},
			}},
		})
	default:
		qs := url.Values{}
		qs.Set("api-version", c.plan.apiVersion)
		qs.Set("from", from)
		qs.Set("to", to)
		reqURL = c.plan.requestURL + "?" + qs.Encode()
		body, err = json.Marshal([]map[string]string{{"Text": text}})
	}
	if err != nil {
		return "", fmt.Errorf("failed to marshal translate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build translate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.APIKey)
	if c.cfg.Region != "" {
		req.Header.Set("Ocp-Apim-Subscription-Region", c.cfg.Region)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("translate request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read translate response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("translate request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	return extractFirstTranslation(raw)
}

type translationResult struct {
	Translations []struct {
		Text string `json:"text"`
	} `json:"translations"`
}

// extractFirstTranslation accepts either a top-level array of results or a
// {value:[...]} wrapper and returns the first candidate's text.
func extractFirstTranslation(raw []byte) (string, error) {
	var asArray []translationResult
	if err := json.Unmarshal(raw, &asArray); err == nil {
		if text, ok := firstText(asArray); ok {
			return text, nil
		}
		return "", ErrUnexpectedShape
	}

	var asWrapper struct {
		Value []translationResult `json:"value"`
	}
	if err := json.Unmarshal(raw, &asWrapper); err == nil {
		if text, ok := firstText(asWrapper.Value); ok {
			return text, nil
		}
	}

	return "", ErrUnexpectedShape
}

func firstText(results []translationResult) (string, bool) {
	if len(results) == 0 || len(results[0].Translations) == 0 {
		return "", false
	}
	return results[0].Translations[0].Text, true
}

// TestConnection translates a short sample under an explicit timeout. Only
// used by settings diagnostics; live sessions have no hard timeout.
func (c *Client) TestConnection(ctx context.Context, sourceLang, targetLang string) error {
	ctx, cancel := context.WithTimeout(ctx, testConnectTimeout)
	defer cancel()

	_, err := c.Translate(ctx, testConnectSample, sourceLang, targetLang)
	return err
}
