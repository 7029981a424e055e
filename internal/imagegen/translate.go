package imagegen

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

const DefaultTranslateURL = "https://translation.googleapis.com/language/translate/v2"

var nonWordPattern = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)

// GoogleTranslator calls the Google Translate v2 REST API.
type GoogleTranslator struct {
	key      string
	endpoint string
	httpc    *http.Client
}

// NewGoogleTranslator returns a translator; endpoint defaults to DefaultTranslateURL.
func NewGoogleTranslator(key, endpoint string, httpc *http.Client) (*GoogleTranslator, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrMissingKey
	}
	if endpoint == "" {
		endpoint = DefaultTranslateURL
	}
	return &GoogleTranslator{key: key, endpoint: endpoint, httpc: httpClientOrDefault(httpc)}, nil
}

type translateResponse struct {
	Data struct {
		Translations []struct {
			TranslatedText         string `json:"translatedText"`
			DetectedSourceLanguage string `json:"detectedSourceLanguage"`
		} `json:"translations"`
	} `json:"data"`
}

// Translate returns text in English with punctuation stripped.
func (t *GoogleTranslator) Translate(ctx context.Context, text string) (string, error) {
	form := url.Values{"q": {text}, "target": {"en"}, "key": {t.key}}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &UpstreamError{Provider: "translate", Stage: "request", Err: err}
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, err := t.httpc.Do(request)
	if err != nil {
		return "", &UpstreamError{Provider: "translate", Stage: "request", Err: scrubKey(err, t.key)}
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return "", &UpstreamError{Provider: "translate", Stage: "request", Err: fmt.Errorf("unexpected status %d", response.StatusCode)}
	}

	var decoded translateResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return "", &UpstreamError{Provider: "translate", Stage: "decode", Err: err}
	}
	if len(decoded.Data.Translations) == 0 {
		return "", &UpstreamError{Provider: "translate", Stage: "decode", Err: ErrEmptyResponse}
	}
	translated := html.UnescapeString(decoded.Data.Translations[0].TranslatedText)
	return strings.TrimSpace(nonWordPattern.ReplaceAllString(translated, "")), nil
}

func scrubKey(err error, key string) error {
	return errors.New(strings.ReplaceAll(err.Error(), key, "[KEY]"))
}
