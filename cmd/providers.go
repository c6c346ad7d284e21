package cmd

import (
	"context"
	"fmt"

	"github.com/blacktop/xpostd/internal/config"
	"github.com/blacktop/xpostd/internal/logutil"
	"github.com/blacktop/xpostd/internal/orchestrator"
	"github.com/blacktop/xpostd/internal/store"
	"github.com/blacktop/xpostd/internal/token"
	"github.com/blacktop/xpostd/internal/xpost"
	"github.com/blacktop/xpostd/internal/xpost/bluesky"
	"github.com/blacktop/xpostd/internal/xpost/facebook"
	"github.com/blacktop/xpostd/internal/xpost/instagram"
	"github.com/blacktop/xpostd/internal/xpost/mastodon"
	"github.com/blacktop/xpostd/internal/xpost/twitter"
	"github.com/blacktop/xpostd/internal/xpost/youtube"
)

// providerOrder is the order used when "all" platforms are requested.
var providerOrder = []string{"facebook", "twitter", "instagram", "youtube", "mastodon", "bluesky"}

// buildRegistry constructs one publisher per supported provider. Providers
// with incomplete configuration are registered as unavailable so requests for
// them still get a recorded failure. The token manager is nil when YouTube has
// no OAuth client.
func buildRegistry(cfg *config.Config) (orchestrator.Registry, *token.Manager) {
	constructors := map[string]func() (xpost.Publisher, error){
		"facebook":  func() (xpost.Publisher, error) { return facebook.New(cfg.Facebook) },
		"twitter":   func() (xpost.Publisher, error) { return twitter.New(cfg.Twitter) },
		"instagram": func() (xpost.Publisher, error) { return instagram.New(cfg.Instagram) },
		"mastodon":  func() (xpost.Publisher, error) { return mastodon.New(cfg.Mastodon) },
		"bluesky":   func() (xpost.Publisher, error) { return bluesky.New(cfg.Bluesky) },
	}

	var manager *token.Manager
	constructors["youtube"] = func() (xpost.Publisher, error) {
		if !cfg.YouTubeConfigured() {
			return nil, xpost.MissingEnvError{
				Provider:  "youtube",
				Variables: []string{"XPOSTD_YOUTUBE_CLIENT_ID", "XPOSTD_YOUTUBE_CLIENT_SECRET"},
			}
		}
		manager = token.NewManager(cfg.YouTube)
		if !manager.HasRefreshToken() {
			logutil.Warnf("youtube: no refresh token configured; authorize via /oauth/youtube/authorize")
		}
		return youtube.New(manager), nil
	}

	publishers := make([]xpost.Publisher, 0, len(providerOrder))
	for _, name := range providerOrder {
		publisher, err := constructors[name]()
		if err != nil {
			logutil.Warnf("%s: disabled: %v", name, err)
			publisher = xpost.Unavailable{Provider: name, Err: err}
		} else {
			logutil.Debugf("%s: enabled", name)
		}
		publishers = append(publishers, publisher)
	}
	return orchestrator.NewRegistry(publishers...), manager
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store {
	case config.StoreMongo:
		logutil.Infof("using mongo store db=%s", cfg.MongoDB)
		return store.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDB)
	case config.StoreSQLite:
		logutil.Infof("using sqlite store path=%s", cfg.DatabasePath)
		return store.OpenSQLite(ctx, cfg.DatabasePath)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
