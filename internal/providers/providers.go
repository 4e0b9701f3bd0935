// Package providers wires every mailbox page source into one registry.
package providers

import (
	"github.com/Martian-dev/watchlane/internal/config"
	"github.com/Martian-dev/watchlane/internal/model"
	"github.com/Martian-dev/watchlane/internal/providers/gmail"
	"github.com/Martian-dev/watchlane/internal/providers/imapmail"
	"github.com/Martian-dev/watchlane/internal/providers/outlook"
	"github.com/Martian-dev/watchlane/internal/sync"
)

// Sources returns the page source for each supported provider
func Sources(cfg config.Config) sync.Sources {
	return sync.Sources{
		model.ProviderMicrosoft: outlook.New(),
		model.ProviderGoogle:    gmail.New(),
		model.ProviderIMAP:      imapmail.New(cfg.IMAP),
	}
}
