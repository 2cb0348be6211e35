package webhook

import (
	"strings"

	"github.com/halcyonsec/OpForge/internal/port/notifier"
)

func init() {
	notifier.Register(providerName, func(config map[string]string) (notifier.Notifier, error) {
		headers := make(map[string]string)
		for k, v := range config {
			if name, ok := strings.CutPrefix(k, "header."); ok {
				headers[name] = v
			}
		}
		return NewNotifier(config["url"], headers), nil
	})
}
