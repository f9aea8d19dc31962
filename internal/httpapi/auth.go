package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/config"
)

// UserResolver turns a bearer token into a verified UserContext. The real
// identity provider lives outside this process; Resolve only consumes its
// verdict.
type UserResolver interface {
	Resolve(ctx context.Context, token string) (authctx.UserContext, error)
}

// userinfoResolver verifies tokens against an OAuth2 userinfo endpoint.
type userinfoResolver struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// devResolver accepts any non-empty token and derives an identity from it.
// Used when no userinfo endpoint is configured, so the service is
// exercisable locally without a live identity provider.
type devResolver struct{}

func NewUserResolver(cfg config.AuthConfig, logger *zap.Logger) UserResolver {
	if cfg.DevBypass || cfg.UserinfoURL == "" {
		logger.Warn("auth running in dev-bypass mode, any bearer token is accepted")
		return devResolver{}
	}
	return &userinfoResolver{
		url:    cfg.UserinfoURL,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

func (r *userinfoResolver) Resolve(ctx context.Context, token string) (authctx.UserContext, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return authctx.UserContext{}, apperr.Wrap(apperr.AuthFailInvalidToken, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := r.client.Do(req)
	if err != nil {
		return authctx.UserContext{}, apperr.Wrap(apperr.AuthFailInvalidToken, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return authctx.UserContext{}, apperr.New(apperr.AuthFailInvalidToken, resp.Status)
	}

	var info struct {
		Sub     string `json:"sub"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return authctx.UserContext{}, apperr.Wrap(apperr.AuthFailInvalidToken, err)
	}
	if info.Sub == "" {
		return authctx.UserContext{}, apperr.New(apperr.AuthFailInvalidToken, "userinfo response missing sub")
	}
	return authctx.UserContext{ID: info.Sub, Name: info.Name, Picture: info.Picture}, nil
}

func (devResolver) Resolve(_ context.Context, token string) (authctx.UserContext, error) {
	return authctx.UserContext{ID: "dev:" + token, Name: token, Picture: ""}, nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	if cookie, err := r.Cookie("token"); err == nil {
		return cookie.Value
	}
	return ""
}

// requireUser wraps a control handler: a missing or unverifiable token is
// rejected before the handler runs.
func (a *API) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			a.writeError(w, apperr.New(apperr.AuthFailNoToken, "no bearer token"))
			return
		}
		user, err := a.resolver.Resolve(r.Context(), token)
		if err != nil {
			a.writeError(w, err)
			return
		}
		next(w, r.WithContext(authctx.WithUser(r.Context(), user)))
	}
}

// optionalUser wraps a listener handler: a missing token degrades to the
// anonymous identity instead of rejecting the request.
func (a *API) optionalUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := authctx.Anonymous()
		if token := bearerToken(r); token != "" {
			if resolved, err := a.resolver.Resolve(r.Context(), token); err == nil {
				user = resolved
			}
		}
		next(w, r.WithContext(authctx.WithUser(r.Context(), user)))
	}
}

// userFrom fetches the identity the middleware installed. Reaching a handler
// without the middleware is a routing bug, reported as AuthFailCtxNotFound.
func userFrom(r *http.Request) (authctx.UserContext, error) {
	user, ok := authctx.FromContext(r.Context())
	if !ok {
		return authctx.UserContext{}, apperr.New(apperr.AuthFailCtxNotFound, "no user in request context")
	}
	return user, nil
}
