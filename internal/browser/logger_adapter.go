package browser

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/observability"
)

// ZapAdapter routes chromedp's printf-style log hooks into zap.
type ZapAdapter struct {
	logger *zap.SugaredLogger
}

// NewZapAdapter wraps logger for use with chromedp.WithLogf and friends.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	return &ZapAdapter{logger: observability.Component(logger, "cdp").Sugar()}
}

// benignCDPErrors are protocol messages chromedp reports as errors although
// the session carries on unaffected. They come from the browser speaking a
// newer protocol revision than cdproto knows about.
var benignCDPErrors = []string{
	"could not unmarshal event",
	"unhandled page event",
}

func (z *ZapAdapter) Logf(format string, args ...interface{}) {
	z.logger.Debugf(format, args...)
}

func (z *ZapAdapter) Debugf(format string, args ...interface{}) {
	z.logger.Debugf(format, args...)
}

// Errorf logs at error level, except for known benign protocol noise, which is
// demoted to debug.
func (z *ZapAdapter) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	for _, benign := range benignCDPErrors {
		if strings.Contains(msg, benign) {
			z.logger.Debug(msg)
			return
		}
	}
	z.logger.Error(msg)
}
