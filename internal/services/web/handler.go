// Package web hosts the browser-facing handout service: OAuth login, session
// cookies, and the distribution pages.
package web

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/handout-dev/handout/internal/auth"
	"github.com/handout-dev/handout/internal/distribution"
	"github.com/handout-dev/handout/internal/distribution/service"
	apperrors "github.com/handout-dev/handout/internal/errors"
	"github.com/handout-dev/handout/internal/id"
	"github.com/handout-dev/handout/internal/services/web/templates"
)

// maxTrustLevel is the highest trust level the provider assigns.
const maxTrustLevel = 4

// Handler routes handout web requests.
type Handler struct {
	ledger        *service.Ledger
	sessions      *auth.Sessions
	oauth         *auth.OAuthClient
	pendingFlows  *pendingFlowStore
	secureCookies bool
}

// NewHandler builds the web handler and its route table.
func NewHandler(ledger *service.Ledger, sessions *auth.Sessions, oauth *auth.OAuthClient, secureCookies bool) (*Handler, http.Handler, error) {
	if ledger == nil {
		return nil, nil, errors.New("ledger is required")
	}
	if sessions == nil {
		return nil, nil, errors.New("session service is required")
	}
	if oauth == nil {
		return nil, nil, errors.New("oauth client is required")
	}

	h := &Handler{
		ledger:        ledger,
		sessions:      sessions,
		oauth:         oauth,
		pendingFlows:  newPendingFlowStore(),
		secureCookies: secureCookies,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.home)
	mux.HandleFunc("GET /login", h.login)
	mux.HandleFunc("GET /oauth2/callback", h.oauthCallback)
	mux.HandleFunc("GET /logout", h.logout)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("GET /create-distribution", h.createDistributionForm)
	mux.HandleFunc("POST /create-distribution", h.createDistribution)
	mux.HandleFunc("GET /distribution/{id}", h.distributionDetail)
	mux.HandleFunc("POST /distribution/{id}", h.claimItem)
	mux.HandleFunc("GET /up", h.up)
	mux.Handle("GET /static/", http.StripPrefix("/static/", staticHandler()))

	return h, mux, nil
}

func viewerFor(identity *auth.Identity) templates.Viewer {
	if identity == nil {
		return templates.Viewer{}
	}
	return templates.Viewer{
		SignedIn:    true,
		DisplayName: identity.DisplayName(),
		TrustLevel:  identity.TrustLevel,
	}
}

func renderPage(w http.ResponseWriter, r *http.Request, component templ.Component, statusCode int) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := component.Render(r.Context(), w); err != nil {
		log.Printf("render page: %v", err)
	}
}

func (h *Handler) renderError(w http.ResponseWriter, r *http.Request, identity *auth.Identity, statusCode int, message string) {
	renderPage(w, r, templates.ErrorPage(templates.ErrorPageView{
		Viewer:     viewerFor(identity),
		StatusCode: statusCode,
		Message:    message,
		HomeURL:    "/",
	}), statusCode)
}

func (h *Handler) home(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFromRequest(r)
	view := templates.HomePageView{
		Viewer:    viewerFor(identity),
		LoginURL:  "/login",
		CreateURL: "/create-distribution",
	}
	if identity == nil {
		renderPage(w, r, templates.HomePage(view), http.StatusOK)
		return
	}

	created, err := h.ledger.DistributionsForIdentity(r.Context(), identity.ID)
	if err != nil {
		log.Printf("list distributions for %d: %v", identity.ID, err)
		h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong loading your distributions.")
		return
	}
	for _, dist := range created {
		claims, err := h.ledger.ClaimsForDistribution(r.Context(), dist.ID)
		if err != nil {
			log.Printf("list claims for %s: %v", dist.ID, err)
			h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong loading your distributions.")
			return
		}
		view.Created = append(view.Created, templates.DistributionRow{
			ID:           dist.ID,
			Title:        dist.Title,
			ItemCount:    strconv.Itoa(len(dist.Content)),
			ClaimedCount: strconv.Itoa(len(claims)),
			CreatedDate:  dist.CreatedAt.Format("2006-01-02"),
		})
	}

	held, err := h.ledger.ClaimsForIdentity(r.Context(), identity.ID)
	if err != nil {
		log.Printf("list claims for identity %d: %v", identity.ID, err)
		h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong loading your claims.")
		return
	}
	for _, claim := range held {
		row := templates.ClaimRow{
			DistributionID: claim.DistributionID,
			ClaimedDate:    claim.ClaimedAt.Format("2006-01-02"),
		}
		dist, err := h.ledger.GetDistribution(r.Context(), claim.DistributionID)
		if err == nil {
			row.DistributionTitle = dist.Title
			if claim.ItemIndex >= 0 && claim.ItemIndex < len(dist.Content) {
				row.Item = dist.Content[claim.ItemIndex]
			}
		} else {
			row.DistributionTitle = claim.DistributionID
		}
		view.Claims = append(view.Claims, row)
	}

	renderPage(w, r, templates.HomePage(view), http.StatusOK)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	state, err := id.NewID()
	if err != nil {
		log.Printf("generate oauth state: %v", err)
		h.renderError(w, r, nil, http.StatusInternalServerError, "Could not start the sign-in flow.")
		return
	}
	redirectURL, err := h.oauth.AuthCodeURL(state)
	if err != nil {
		log.Printf("build authorize url: %v", err)
		h.renderError(w, r, nil, http.StatusInternalServerError, "Could not start the sign-in flow.")
		return
	}
	h.pendingFlows.Add(state)
	http.Redirect(w, r, redirectURL, http.StatusFound)
}

func (h *Handler) oauthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if !h.pendingFlows.Redeem(state) {
		h.renderError(w, r, nil, http.StatusBadRequest, "The sign-in flow expired. Please try again.")
		return
	}
	if code == "" {
		h.renderError(w, r, nil, http.StatusBadRequest, "The provider did not return an authorization code.")
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		log.Printf("token exchange: %v", err)
		h.renderError(w, r, nil, http.StatusBadGateway, "Could not complete the sign-in flow.")
		return
	}
	identity, err := h.oauth.FetchIdentity(r.Context(), token)
	if err != nil {
		log.Printf("fetch identity: %v", err)
		h.renderError(w, r, nil, http.StatusBadGateway, "Could not complete the sign-in flow.")
		return
	}

	session, err := h.sessions.Create(r.Context(), identity)
	if err != nil {
		log.Printf("create session for %d: %v", identity.ID, err)
		h.renderError(w, r, nil, http.StatusInternalServerError, "Could not complete the sign-in flow.")
		return
	}
	h.setSessionCookie(w, session)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := h.sessions.Delete(r.Context(), cookie.Value); err != nil {
			log.Printf("delete session: %v", err)
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) createDistributionForm(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFromRequest(r)
	if identity == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	renderPage(w, r, templates.CreateDistributionPage(templates.CreateDistributionView{
		Viewer:        viewerFor(identity),
		ActionURL:     "/create-distribution",
		MinTrustLevel: "0",
		MaxTrustLevel: strconv.Itoa(maxTrustLevel),
	}), http.StatusOK)
}

func (h *Handler) createDistribution(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFromRequest(r)
	if identity == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderError(w, r, identity, http.StatusBadRequest, "The form could not be read.")
		return
	}

	input := distribution.CreateDistributionInput{
		Title:       r.PostFormValue("title"),
		Description: r.PostFormValue("description"),
		Content:     distribution.SplitContent(r.PostFormValue("content")),
	}
	var parseErr error
	input.MinTrustLevel, parseErr = parseTrustLevel(r.PostFormValue("min_trust_level"), 0)
	if parseErr == nil {
		input.MaxTrustLevel, parseErr = parseTrustLevel(r.PostFormValue("max_trust_level"), maxTrustLevel)
	}
	if parseErr != nil {
		h.renderCreateFailure(w, r, identity, r.PostForm, "Trust levels must be whole numbers.")
		return
	}

	dist, err := h.ledger.CreateDistribution(r.Context(), input, identity.ID)
	if err != nil {
		h.renderCreateFailure(w, r, identity, r.PostForm, createFailureMessage(err))
		return
	}
	http.Redirect(w, r, "/distribution/"+dist.ID, http.StatusSeeOther)
}

func (h *Handler) renderCreateFailure(w http.ResponseWriter, r *http.Request, identity *auth.Identity, form map[string][]string, message string) {
	first := func(key string) string {
		if values := form[key]; len(values) > 0 {
			return values[0]
		}
		return ""
	}
	renderPage(w, r, templates.CreateDistributionPage(templates.CreateDistributionView{
		Viewer:        viewerFor(identity),
		ActionURL:     "/create-distribution",
		ErrorMessage:  message,
		Title:         first("title"),
		Description:   first("description"),
		Content:       first("content"),
		MinTrustLevel: first("min_trust_level"),
		MaxTrustLevel: first("max_trust_level"),
	}), http.StatusBadRequest)
}

func createFailureMessage(err error) string {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeDistributionTitleEmpty:
		return "A title is required."
	case apperrors.CodeDistributionContentEmpty:
		return "At least one item is required."
	case apperrors.CodeDistributionTrustRangeInvalid:
		return "The minimum trust level cannot exceed the maximum."
	default:
		log.Printf("create distribution: %v", err)
		return "Something went wrong creating the distribution."
	}
}

func parseTrustLevel(raw string, fallback int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	level, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse trust level: %w", err)
	}
	return level, nil
}

func (h *Handler) distributionDetail(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFromRequest(r)
	distributionID := r.PathValue("id")

	dist, err := h.ledger.GetDistribution(r.Context(), distributionID)
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("get distribution %s: %v", distributionID, err)
			h.renderError(w, r, identity, status, "Something went wrong loading the distribution.")
			return
		}
		h.renderError(w, r, identity, status, "That distribution does not exist.")
		return
	}

	claims, err := h.ledger.ClaimsForDistribution(r.Context(), dist.ID)
	if err != nil {
		log.Printf("list claims for %s: %v", dist.ID, err)
		h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong loading the distribution.")
		return
	}

	view := templates.DistributionDetailView{
		Viewer:        viewerFor(identity),
		ID:            dist.ID,
		Title:         dist.Title,
		Description:   dist.Description,
		ItemCount:     strconv.Itoa(len(dist.Content)),
		ClaimedCount:  strconv.Itoa(len(claims)),
		MinTrustLevel: strconv.Itoa(dist.MinTrustLevel),
		MaxTrustLevel: strconv.Itoa(dist.MaxTrustLevel),
		Creator:       "#" + strconv.FormatInt(dist.CreatedBy, 10),
		CreatedDate:   dist.CreatedAt.Format("2006-01-02"),
		ClaimURL:      "/distribution/" + dist.ID,
		LoginURL:      "/login",
	}

	claimedBy := make(map[int]int64, len(claims))
	for _, claim := range claims {
		claimedBy[claim.ItemIndex] = claim.ClaimedBy
	}
	for index := range dist.Content {
		owner, taken := claimedBy[index]
		view.Slots = append(view.Slots, templates.SlotRow{
			Index:   strconv.Itoa(index),
			Claimed: taken,
			Yours:   taken && identity != nil && owner == identity.ID,
		})
	}

	result, err := h.ledger.Evaluate(r.Context(), dist.ID, identity, clientAddress(r))
	if err != nil {
		log.Printf("evaluate %s: %v", dist.ID, err)
		h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong loading the distribution.")
		return
	}
	switch result.Status {
	case distribution.EligibilityAlreadyHolds:
		if result.HeldIndex >= 0 && result.HeldIndex < len(dist.Content) {
			view.HeldItem = dist.Content[result.HeldIndex]
		}
	case distribution.EligibilityEligible:
		view.CanClaim = true
	case distribution.EligibilityIneligible:
		switch result.Reason {
		case distribution.ReasonNoItemsRemaining:
			view.IsExhausted = true
		case distribution.ReasonTrustLevelBelowMin, distribution.ReasonTrustLevelAboveMax:
			view.StatusLine = "Your trust level is outside the range this distribution allows."
		case distribution.ReasonAddressAlreadyClaimed:
			view.StatusLine = "An item was already claimed from your network address."
		}
	}

	renderPage(w, r, templates.DistributionDetailPage(view), http.StatusOK)
}

func (h *Handler) claimItem(w http.ResponseWriter, r *http.Request) {
	identity := h.identityFromRequest(r)
	if identity == nil {
		h.renderError(w, r, nil, http.StatusUnauthorized, "Sign in before claiming an item.")
		return
	}
	distributionID := r.PathValue("id")

	result, err := h.ledger.AttemptClaim(r.Context(), distributionID, identity, clientAddress(r))
	if err != nil {
		status := apperrors.HTTPStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("claim %s for %d: %v", distributionID, identity.ID, err)
			h.renderError(w, r, identity, status, "Something went wrong claiming an item.")
			return
		}
		h.renderError(w, r, identity, status, "That distribution does not exist.")
		return
	}

	switch result.Outcome {
	case service.ClaimOutcomeClaimed, service.ClaimOutcomeAlreadyHeld:
		http.Redirect(w, r, "/distribution/"+distributionID, http.StatusSeeOther)
	case service.ClaimOutcomeExhausted:
		h.renderError(w, r, identity, http.StatusConflict, "All items have been claimed.")
	case service.ClaimOutcomeRejected:
		h.renderError(w, r, identity, http.StatusForbidden, rejectionMessage(result.Reason))
	default:
		h.renderError(w, r, identity, http.StatusInternalServerError, "Something went wrong claiming an item.")
	}
}

func rejectionMessage(reason distribution.IneligibleReason) string {
	switch reason {
	case distribution.ReasonTrustLevelBelowMin, distribution.ReasonTrustLevelAboveMax:
		return "Your trust level is outside the range this distribution allows."
	case distribution.ReasonAddressAlreadyClaimed:
		return "An item was already claimed from your network address."
	default:
		return "You are not eligible to claim from this distribution."
	}
}

func (h *Handler) up(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
