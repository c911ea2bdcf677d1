// Package templates renders the handout HTML pages.
package templates

import (
	"context"
	"fmt"
	"io"

	"github.com/a-h/templ"

	"github.com/handout-dev/handout/internal/platform/branding"
)

// ComposePageTitle appends the brand suffix to a page title.
func ComposePageTitle(title string) string {
	if title == "" {
		return branding.AppName
	}
	return title + " | " + branding.AppName
}

// Viewer describes the signed-in identity for page chrome.
type Viewer struct {
	SignedIn    bool
	DisplayName string
	TrustLevel  int
}

// DistributionRow summarizes one distribution for list views.
type DistributionRow struct {
	ID           string
	Title        string
	ItemCount    string
	ClaimedCount string
	CreatedDate  string
}

// ClaimRow summarizes one claim for the viewer's claim list.
type ClaimRow struct {
	DistributionID    string
	DistributionTitle string
	Item              string
	ClaimedDate       string
}

// HomePageView carries the data for the landing page.
type HomePageView struct {
	Viewer        Viewer
	Created       []DistributionRow
	Claims        []ClaimRow
	LoginURL      string
	CreateURL     string
	FlashMessage  string
	ShowEmptyHint bool
}

// SlotRow describes one item position's claim state without exposing content.
type SlotRow struct {
	Index   string
	Claimed bool
	// Yours marks the viewer's own claim in the slot list.
	Yours bool
}

// DistributionDetailView carries the data for a distribution page.
type DistributionDetailView struct {
	Viewer        Viewer
	ID            string
	Title         string
	Description   string
	ItemCount     string
	ClaimedCount  string
	MinTrustLevel string
	MaxTrustLevel string
	Creator       string
	CreatedDate   string
	Slots         []SlotRow
	// HeldItem is the viewer's claimed item, shown only to its owner.
	HeldItem    string
	CanClaim    bool
	ClaimURL    string
	LoginURL    string
	StatusLine  string
	IsExhausted bool
}

// CreateDistributionView carries the data for the creation form.
type CreateDistributionView struct {
	Viewer       Viewer
	ActionURL    string
	ErrorMessage string
	// Sticky form values redisplayed after a validation failure.
	Title         string
	Description   string
	Content       string
	MinTrustLevel string
	MaxTrustLevel string
}

// ErrorPageView carries the data for an error page.
type ErrorPageView struct {
	Viewer     Viewer
	StatusCode int
	Message    string
	HomeURL    string
}

func layout(title string, viewer Viewer, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1"><title>%s</title><link rel="stylesheet" href="/static/styles.css"></head><body>`, templ.EscapeString(ComposePageTitle(title))); err != nil {
			return err
		}
		if err := header(viewer).Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, `<main class="container">`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</main></body></html>`)
		return err
	})
}

func header(viewer Viewer) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<header class="site-header"><a class="brand" href="/">%s</a><nav>`, templ.EscapeString(branding.AppName)); err != nil {
			return err
		}
		if viewer.SignedIn {
			if _, err := fmt.Fprintf(w, `<span class="viewer">%s</span><a href="/create-distribution">New distribution</a><form class="inline" method="post" action="/logout"><button type="submit">Sign out</button></form>`, templ.EscapeString(viewer.DisplayName)); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, `<a href="/login">Sign in</a>`); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</nav></header>`)
		return err
	})
}

// HomePage renders the landing page with the viewer's distributions and claims.
func HomePage(view HomePageView) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if view.FlashMessage != "" {
			if _, err := fmt.Fprintf(w, `<p class="flash">%s</p>`, templ.EscapeString(view.FlashMessage)); err != nil {
				return err
			}
		}
		if !view.Viewer.SignedIn {
			_, err := fmt.Fprintf(w, `<section class="hero"><h1>Share items, first come first served</h1><p>Publish a list of keys, codes, or invitations and let trusted community members claim one each.</p><a class="button" href="%s">Sign in to get started</a></section>`, templ.EscapeString(view.LoginURL))
			return err
		}

		if _, err := fmt.Fprintf(w, `<section><h1>Your distributions</h1><a class="button" href="%s">New distribution</a>`, templ.EscapeString(view.CreateURL)); err != nil {
			return err
		}
		if len(view.Created) == 0 {
			if _, err := io.WriteString(w, `<p class="empty">You have not created any distributions yet.</p>`); err != nil {
				return err
			}
		} else {
			if _, err := io.WriteString(w, `<table><thead><tr><th>Title</th><th>Items</th><th>Claimed</th><th>Created</th></tr></thead><tbody>`); err != nil {
				return err
			}
			for _, row := range view.Created {
				if _, err := fmt.Fprintf(w, `<tr><td><a href="/distribution/%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td></tr>`,
					templ.EscapeString(row.ID), templ.EscapeString(row.Title), templ.EscapeString(row.ItemCount), templ.EscapeString(row.ClaimedCount), templ.EscapeString(row.CreatedDate)); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</tbody></table>`); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, `</section><section><h2>Your claims</h2>`); err != nil {
			return err
		}
		if len(view.Claims) == 0 {
			_, err := io.WriteString(w, `<p class="empty">You have not claimed anything yet.</p></section>`)
			return err
		}
		if _, err := io.WriteString(w, `<ul class="claims">`); err != nil {
			return err
		}
		for _, row := range view.Claims {
			if _, err := fmt.Fprintf(w, `<li><a href="/distribution/%s">%s</a><code>%s</code><span>%s</span></li>`,
				templ.EscapeString(row.DistributionID), templ.EscapeString(row.DistributionTitle), templ.EscapeString(row.Item), templ.EscapeString(row.ClaimedDate)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</ul></section>`)
		return err
	})
	return layout("Home", view.Viewer, body)
}

// DistributionDetailPage renders one distribution with the viewer's claim state.
func DistributionDetailPage(view DistributionDetailView) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := fmt.Fprintf(w, `<article class="distribution"><h1>%s</h1>`, templ.EscapeString(view.Title)); err != nil {
			return err
		}
		if view.Description != "" {
			if _, err := fmt.Fprintf(w, `<p class="description">%s</p>`, templ.EscapeString(view.Description)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, `<dl class="meta"><dt>Items</dt><dd>%s</dd><dt>Claimed</dt><dd>%s</dd><dt>Trust level</dt><dd>%s to %s</dd><dt>Creator</dt><dd>%s</dd><dt>Created</dt><dd>%s</dd></dl>`,
			templ.EscapeString(view.ItemCount), templ.EscapeString(view.ClaimedCount), templ.EscapeString(view.MinTrustLevel), templ.EscapeString(view.MaxTrustLevel), templ.EscapeString(view.Creator), templ.EscapeString(view.CreatedDate)); err != nil {
			return err
		}
		if len(view.Slots) > 0 {
			if _, err := io.WriteString(w, `<ul class="slots">`); err != nil {
				return err
			}
			for _, slot := range view.Slots {
				class := "free"
				label := "available"
				switch {
				case slot.Yours:
					class = "yours"
					label = "yours"
				case slot.Claimed:
					class = "claimed"
					label = "claimed"
				}
				if _, err := fmt.Fprintf(w, `<li class="%s">#%s %s</li>`, class, templ.EscapeString(slot.Index), label); err != nil {
					return err
				}
			}
			if _, err := io.WriteString(w, `</ul>`); err != nil {
				return err
			}
		}

		switch {
		case view.HeldItem != "":
			if _, err := fmt.Fprintf(w, `<section class="held"><h2>Your item</h2><code>%s</code></section>`, templ.EscapeString(view.HeldItem)); err != nil {
				return err
			}
		case !view.Viewer.SignedIn:
			if _, err := fmt.Fprintf(w, `<p><a class="button" href="%s">Sign in to claim</a></p>`, templ.EscapeString(view.LoginURL)); err != nil {
				return err
			}
		case view.CanClaim:
			if _, err := fmt.Fprintf(w, `<form method="post" action="%s"><button class="button" type="submit">Claim an item</button></form>`, templ.EscapeString(view.ClaimURL)); err != nil {
				return err
			}
		case view.IsExhausted:
			if _, err := io.WriteString(w, `<p class="exhausted">All items have been claimed.</p>`); err != nil {
				return err
			}
		case view.StatusLine != "":
			if _, err := fmt.Fprintf(w, `<p class="status">%s</p>`, templ.EscapeString(view.StatusLine)); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</article>`)
		return err
	})
	return layout(view.Title, view.Viewer, body)
}

// CreateDistributionPage renders the distribution creation form.
func CreateDistributionPage(view CreateDistributionView) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>New distribution</h1>`); err != nil {
			return err
		}
		if view.ErrorMessage != "" {
			if _, err := fmt.Fprintf(w, `<p class="error">%s</p>`, templ.EscapeString(view.ErrorMessage)); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintf(w, `<form method="post" action="%s">`+
			`<label>Title<input type="text" name="title" value="%s" required></label>`+
			`<label>Description<textarea name="description">%s</textarea></label>`+
			`<label>Items, one per line<textarea name="content" required>%s</textarea></label>`+
			`<label>Minimum trust level<input type="number" name="min_trust_level" value="%s" min="0" max="4"></label>`+
			`<label>Maximum trust level<input type="number" name="max_trust_level" value="%s" min="0" max="4"></label>`+
			`<button class="button" type="submit">Create</button></form>`,
			templ.EscapeString(view.ActionURL),
			templ.EscapeString(view.Title),
			templ.EscapeString(view.Description),
			templ.EscapeString(view.Content),
			templ.EscapeString(view.MinTrustLevel),
			templ.EscapeString(view.MaxTrustLevel))
		return err
	})
	return layout("New distribution", view.Viewer, body)
}

// ErrorPage renders a status message with a link back home.
func ErrorPage(view ErrorPageView) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := fmt.Fprintf(w, `<section class="error-page"><h1>%d</h1><p>%s</p><a href="%s">Back home</a></section>`,
			view.StatusCode, templ.EscapeString(view.Message), templ.EscapeString(view.HomeURL))
		return err
	})
	return layout(fmt.Sprintf("%d", view.StatusCode), view.Viewer, body)
}
