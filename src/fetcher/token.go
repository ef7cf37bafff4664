package fetcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mohamjad/n8n-ecommerce-reporting/src/config"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/logger"
	"github.com/mohamjad/n8n-ecommerce-reporting/src/platforms"
)

// oauthTokenProvider exchanges platform credentials for access tokens and
// caches them until shortly before expiry. Amazon platforms use the LWA
// refresh-token grant; Walmart uses client credentials.
type oauthTokenProvider struct {
	mu     sync.Mutex
	cache  *cache.Cache
	amazon map[string]*oauth2.Config // platform -> LWA config
	tokens map[string]string         // platform -> refresh token
	wcc    *clientcredentials.Config
}

// NewTokenProvider builds the production token provider from configuration.
func NewTokenProvider(cfg *config.AppConfig) TokenProvider {
	p := &oauthTokenProvider{
		cache:  cache.New(50*time.Minute, 10*time.Minute),
		amazon: map[string]*oauth2.Config{},
		tokens: map[string]string{},
	}
	p.amazon[platforms.AmazonSP] = &oauth2.Config{
		ClientID:     cfg.AmazonSP.ClientID,
		ClientSecret: cfg.AmazonSP.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.AmazonSP.TokenURL},
	}
	p.tokens[platforms.AmazonSP] = cfg.AmazonSP.RefreshToken
	p.amazon[platforms.AmazonAds] = &oauth2.Config{
		ClientID:     cfg.AmazonAds.ClientID,
		ClientSecret: cfg.AmazonAds.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.AmazonAds.TokenURL},
	}
	p.tokens[platforms.AmazonAds] = cfg.AmazonAds.RefreshToken
	p.wcc = &clientcredentials.Config{
		ClientID:     cfg.Walmart.ClientID,
		ClientSecret: cfg.Walmart.ClientSecret,
		TokenURL:     cfg.Walmart.TokenURL,
	}
	return p
}

func cacheKey(platform, accountID string) string {
	return platform + "|" + accountID
}

func (p *oauthTokenProvider) Token(ctx context.Context, platform, accountID string) (string, error) {
	key := cacheKey(platform, accountID)
	if tok, found := p.cache.Get(key); found {
		return tok.(string), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-check under the lock; another triple may have refreshed already.
	if tok, found := p.cache.Get(key); found {
		return tok.(string), nil
	}

	var tok *oauth2.Token
	var err error
	switch platform {
	case platforms.Walmart, platforms.WalmartAds:
		tok, err = p.wcc.Token(ctx)
	default:
		lwa, ok := p.amazon[platform]
		if !ok {
			return "", fmt.Errorf("no credentials configured for platform %s", platform)
		}
		src := lwa.TokenSource(ctx, &oauth2.Token{RefreshToken: p.tokens[platform]})
		tok, err = src.Token()
	}
	if err != nil {
		return "", fmt.Errorf("token refresh failed for %s: %w", platform, err)
	}

	ttl := cache.DefaultExpiration
	if !tok.Expiry.IsZero() {
		// Refresh a minute early rather than race the expiry.
		ttl = time.Until(tok.Expiry) - time.Minute
		if ttl <= 0 {
			ttl = time.Minute
		}
	}
	p.cache.Set(key, tok.AccessToken, ttl)
	logger.L.Debug("Access token refreshed", "platform", platform, "accountID", accountID)
	return tok.AccessToken, nil
}

func (p *oauthTokenProvider) Invalidate(platform, accountID string) {
	p.cache.Delete(cacheKey(platform, accountID))
}
