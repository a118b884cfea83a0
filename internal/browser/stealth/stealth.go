package stealth

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// EvasionsJS holds the embedded JavaScript used for browser fingerprint evasion.
//
//go:embed evasions.js
var EvasionsJS string

// Persona is the browser identity presented to pages. Empty fields keep the
// browser's own values.
type Persona struct {
	UserAgent string   `json:"userAgent,omitempty"`
	Platform  string   `json:"platform,omitempty"`
	Languages []string `json:"languages,omitempty"`
}

// Apply returns an action that overrides the user agent (stripping the
// headless marker when none is given) and installs the evasion script on
// every new document.
func Apply(persona Persona, logger *zap.Logger) chromedp.Action {
	if logger == nil {
		logger = zap.NewNop()
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		logger.Debug("Applying stealth evasions")

		ua := persona.UserAgent
		if ua == "" {
			_, _, _, native, _, err := browser.GetVersion().Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to read browser version: %w", err)
			}
			ua = NormalizeUserAgent(native)
		}

		override := emulation.SetUserAgentOverride(ua)
		if len(persona.Languages) > 0 {
			override = override.WithAcceptLanguage(strings.Join(persona.Languages, ","))
		}
		if persona.Platform != "" {
			override = override.WithPlatform(persona.Platform)
		}
		if err := override.Do(ctx); err != nil {
			return fmt.Errorf("failed to override user agent: %w", err)
		}

		script, err := Script(persona)
		if err != nil {
			return err
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
			return fmt.Errorf("failed to install evasion script: %w", err)
		}
		return nil
	})
}

// Script prefixes the evasion script with the persona it should present.
func Script(persona Persona) (string, error) {
	data, err := json.Marshal(persona)
	if err != nil {
		return "", fmt.Errorf("failed to encode persona: %w", err)
	}
	return fmt.Sprintf("(function(persona){\n%s\n})(%s);", EvasionsJS, data), nil
}

// NormalizeUserAgent removes the headless marker Chrome adds to its user agent.
func NormalizeUserAgent(ua string) string {
	return strings.ReplaceAll(ua, "HeadlessChrome", "Chrome")
}
