// Package translate is a thin client for the remote translation service:
// text in, text out. Speech recognition and synthesis stay on the client.
package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Translate sends one text to the service. Language arguments are base codes
// ("en", not "en-US").
func (c *Client) Translate(text, sourceLang, targetLang string) (string, error) {
	reqBody, err := json.Marshal(map[string]string{
		"text":        text,
		"source_lang": sourceLang,
		"target_lang": targetLang,
	})
	if err != nil {
		return "", err
	}

	resp, err := c.http.Post(c.baseURL+"/translate", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("translation service error: %s", string(body))
	}

	var result struct {
		Translation string `json:"translation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Translation, nil
}

// TranslateParallel translates text into every target language concurrently.
// A failed target falls back to the original text.
func (c *Client) TranslateParallel(text, sourceLang string, targetLangs []string) map[string]string {
	results := make(map[string]string, len(targetLangs))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, targetLang := range targetLangs {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()

			if lang == sourceLang {
				mu.Lock()
				results[lang] = text
				mu.Unlock()
				return
			}

			translation, err := c.Translate(text, sourceLang, lang)
			if err != nil {
				log.Warn().Err(err).Str("module", "translate").Str("target", lang).Msg("translation failed")
				translation = text
			}

			mu.Lock()
			results[lang] = translation
			mu.Unlock()
		}(targetLang)
	}

	wg.Wait()
	return results
}

// BaseLang strips the region from a BCP 47 tag: "en-US" -> "en".
func BaseLang(tag string) string {
	if i := strings.IndexByte(tag, '-'); i > 0 {
		return tag[:i]
	}
	return tag
}
