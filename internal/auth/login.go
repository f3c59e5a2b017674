package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/strxno/ha-laddel/internal/config"
	"github.com/strxno/ha-laddel/internal/util"
)

// OAuth configuration constants for the Laddel identity provider.
const (
	AuthBaseURL  = "https://id.laddel.no/realms/laddel-app-prod"
	AuthorizeURL = AuthBaseURL + "/protocol/openid-connect/auth"
	TokenURL     = AuthBaseURL + "/protocol/openid-connect/token"
	ClientID     = "laddel-app-prod"
	Scope        = "openid profile email offline_access"
	RedirectURI  = "laddel://oauth/callback"

	// authenticatePathMarker identifies the login form among everything else
	// on the rendered page. This is the one markup detail the extractor
	// depends on; drift here must fail loudly, not silently.
	authenticatePathMarker = "login-actions/authenticate"

	// browserUserAgent makes the credential POST resemble a generic browser.
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// FlowState tracks the enrollment state machine. A failed attempt is terminal;
// the caller must restart from StateInit with a fresh PKCE/session pair since
// the provider-side login session is single-use.
type FlowState string

const (
	StateInit                 FlowState = "INIT"
	StateParamsFetched        FlowState = "PARAMS_FETCHED"
	StateCredentialsSubmitted FlowState = "CREDENTIALS_SUBMITTED"
	StateCodeReceived         FlowState = "CODE_RECEIVED"
	StateTokensExchanged      FlowState = "TOKENS_EXCHANGED"
	StateFailed               FlowState = "FAILED"
)

// SessionParams are the session-binding parameters Keycloak embeds in the
// login form's action URL. All four must be non-empty before credentials are
// submitted. AuthenticateURL is the absolute submission endpoint resolved
// from the form action, without its query string; the submission path is
// taken from the page, never hardcoded.
type SessionParams struct {
	SessionCode string
	Execution   string
	TabID       string
	ClientData  string

	AuthenticateURL string
}

// LoginFlow performs one browser-emulating enrollment attempt. The page fetch
// and the credential POST share one cookie jar so provider-side session
// affinity is preserved; the submit client never follows redirects because
// the authorization code must be read off the Location header.
type LoginFlow struct {
	pageClient   *http.Client
	submitClient *http.Client

	authorizeURL string
	tokenURL     string
	origin       string

	state    FlowState
	failKind Kind
}

// NewLoginFlow creates a flow with a fresh cookie jar and proxy-configured
// HTTP clients.
func NewLoginFlow(cfg *config.Config) (*LoginFlow, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("auth: create cookie jar failed: %w", err)
	}
	timeout := cfg.RequestTimeout()
	pageClient := util.SetProxy(cfg, &http.Client{Jar: jar, Timeout: timeout})
	submitClient := util.SetProxy(cfg, &http.Client{
		Jar:     jar,
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	})
	return &LoginFlow{
		pageClient:   pageClient,
		submitClient: submitClient,
		authorizeURL: AuthorizeURL,
		tokenURL:     TokenURL,
		origin:       "https://id.laddel.no",
		state:        StateInit,
	}, nil
}

// State returns the current enrollment state.
func (f *LoginFlow) State() FlowState { return f.state }

// FailureKind returns the error kind that moved the flow to StateFailed.
func (f *LoginFlow) FailureKind() Kind { return f.failKind }

func (f *LoginFlow) fail(err error) error {
	f.state = StateFailed
	f.failKind = KindOf(err)
	return err
}

// Login runs the whole enrollment sequence: generate PKCE, scrape the login
// page, submit credentials, and exchange the recovered authorization code for
// tokens. On any failure the flow is terminal and must be restarted.
func (f *LoginFlow) Login(ctx context.Context, username, password string) (*TokenSet, error) {
	defer f.closeIdleConnections()

	pkce, err := GeneratePKCEParams()
	if err != nil {
		return nil, f.fail(wrapErr(KindNetworkFailure, err, "pkce generation failed"))
	}

	params, err := f.FetchSessionParams(ctx, pkce)
	if err != nil {
		return nil, f.fail(err)
	}
	f.state = StateParamsFetched

	code, err := f.SubmitCredentials(ctx, params, pkce, username, password)
	if err != nil {
		return nil, f.fail(err)
	}
	f.state = StateCodeReceived

	tokens, err := exchangeAuthorizationCode(ctx, f.pageClient, f.tokenURL, code, pkce.Verifier)
	if err != nil {
		return nil, f.fail(err)
	}
	f.state = StateTokensExchanged
	log.Info("enrollment succeeded, token set obtained")
	return tokens, nil
}

// FetchSessionParams issues the authorization request and extracts the
// session-binding parameters from the rendered login form.
func (f *LoginFlow) FetchSessionParams(ctx context.Context, pkce *PKCEParams) (*SessionParams, error) {
	authURL := f.authorizeURL + "?" + f.authorizeQuery(pkce).Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, authURL, nil)
	if err != nil {
		return nil, wrapErr(KindNetworkFailure, err, "create authorize request failed")
	}
	req.Header.Set("User-Agent", browserUserAgent)

	resp, err := f.pageClient.Do(req)
	if err != nil {
		return nil, wrapErr(KindNetworkFailure, err, "authorize request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FlowError{
			Kind:   KindParseFailure,
			Msg:    "authorization page fetch returned unexpected status",
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}

	action, err := extractFormAction(resp.Body)
	if err != nil {
		return nil, err
	}

	params, err := parseSessionParams(action, authURL)
	if err != nil {
		return nil, err
	}
	log.Debugf("extracted login session parameters: session_code=%t execution=%t tab_id=%t client_data=%t",
		params.SessionCode != "", params.Execution != "", params.TabID != "", params.ClientData != "")
	return params, nil
}

// SubmitCredentials POSTs the credential pair against the extracted form
// target without following redirects, and recovers the authorization code
// from the redirect Location header. Any non-redirect response, or a redirect
// lacking a code, is an authentication failure as opposed to a network one.
func (f *LoginFlow) SubmitCredentials(ctx context.Context, params *SessionParams, pkce *PKCEParams, username, password string) (string, error) {
	authQuery := url.Values{
		"session_code": {params.SessionCode},
		"execution":    {params.Execution},
		"client_id":    {ClientID},
		"tab_id":       {params.TabID},
		"client_data":  {params.ClientData},
	}
	submitURL := params.AuthenticateURL + "?" + authQuery.Encode()

	form := url.Values{
		"username":     {username},
		"password":     {password},
		"credentialId": {""},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", wrapErr(KindNetworkFailure, err, "create authenticate request failed")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Origin", f.origin)
	req.Header.Set("Referer", f.authorizeURL+"?"+f.authorizeQuery(pkce).Encode())

	f.state = StateCredentialsSubmitted

	resp, err := f.submitClient.Do(req)
	if err != nil {
		return "", wrapErr(KindNetworkFailure, err, "authenticate request failed")
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		location := resp.Header.Get("Location")
		if code := extractAuthCode(location); code != "" {
			return code, nil
		}
		return "", &FlowError{
			Kind:   KindAuthenticationFailed,
			Msg:    "redirect location carries no authorization code",
			Status: resp.StatusCode,
		}
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return "", &FlowError{
		Kind:   KindAuthenticationFailed,
		Msg:    "provider rejected credentials",
		Status: resp.StatusCode,
		Body:   string(body),
	}
}

func (f *LoginFlow) authorizeQuery(pkce *PKCEParams) url.Values {
	return url.Values{
		"redirect_uri":          {RedirectURI},
		"client_id":             {ClientID},
		"response_type":         {"code"},
		"ui_locales":            {"en"},
		"state":                 {pkce.State},
		"nonce":                 {pkce.Nonce},
		"scope":                 {Scope},
		"code_challenge":        {pkce.Challenge},
		"code_challenge_method": {"S256"},
	}
}

// closeIdleConnections drops the provider-side session unconditionally after
// one attempt, success or failure.
func (f *LoginFlow) closeIdleConnections() {
	f.pageClient.CloseIdleConnections()
	f.submitClient.CloseIdleConnections()
}

// extractFormAction walks the rendered login page looking for a form whose
// action targets the authentication-submission path. The HTML parser already
// decodes entity-encoded ampersands in attribute values.
func extractFormAction(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", wrapErr(KindParseFailure, err, "login page is not parseable HTML")
	}

	var action string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if action != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "form" {
			for _, attr := range n.Attr {
				if attr.Key == "action" && strings.Contains(attr.Val, authenticatePathMarker) {
					action = attr.Val
					return
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if action == "" {
		return "", flowErr(KindParseFailure, "no login form targeting %s found", authenticatePathMarker)
	}
	return action, nil
}

// parseSessionParams resolves the form action against the page it was served
// from and pulls the four session-binding parameters out of its query string.
func parseSessionParams(action, pageURL string) (*SessionParams, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, wrapErr(KindParseFailure, err, "page URL %q is not a valid URL", pageURL)
	}
	ref, err := url.Parse(action)
	if err != nil {
		return nil, wrapErr(KindParseFailure, err, "form action %q is not a valid URL", action)
	}
	u := base.ResolveReference(ref)
	q := u.Query()
	endpoint := *u
	endpoint.RawQuery = ""
	endpoint.Fragment = ""
	params := &SessionParams{
		SessionCode:     q.Get("session_code"),
		Execution:       q.Get("execution"),
		TabID:           q.Get("tab_id"),
		ClientData:      q.Get("client_data"),
		AuthenticateURL: endpoint.String(),
	}
	if params.SessionCode == "" || params.Execution == "" || params.TabID == "" || params.ClientData == "" {
		return nil, flowErr(KindSessionParamsMissing,
			"login form is missing session parameters: session_code=%t execution=%t tab_id=%t client_data=%t",
			params.SessionCode != "", params.Execution != "", params.TabID != "", params.ClientData != "")
	}
	return params, nil
}

// extractAuthCode pulls the authorization code out of a redirect location,
// verbatim up to the next parameter separator.
func extractAuthCode(location string) string {
	idx := strings.Index(location, "code=")
	if idx < 0 {
		return ""
	}
	code := location[idx+len("code="):]
	if amp := strings.IndexByte(code, '&'); amp >= 0 {
		code = code[:amp]
	}
	return code
}
