package adapter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"vehicheck/internal/browser"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/normalize"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Fines checks outstanding traffic obligations. The portal answers through
// informational banners, one of which is instructional boilerplate rendered
// on every load; an extraction containing only that banner means the real
// answer has not arrived yet.
type Fines struct {
	cfg config.FinesConfig
	log logger.Logger
}

func NewFines(cfg config.FinesConfig, l logger.Logger) *Fines {
	if l == nil {
		l = logger.NewNop()
	}
	return &Fines{cfg: cfg, log: l}
}

func (a *Fines) Portal() model.Portal { return model.PortalFines }

func (a *Fines) Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error) {
	p := sess.Page()
	st := a.cfg.Steps

	if err := p.Navigate(ctx, a.cfg.URL, browser.WaitLoad, st.Navigate()); err != nil {
		return nil, classify(err, model.NavigationError, "open fines portal")
	}
	if err := p.WaitSelector(ctx, a.cfg.NationalIDField, st.Selector(), st.Poll()); err != nil {
		return nil, classify(err, model.NavigationError, "await lookup form")
	}
	if err := p.TypeHuman(ctx, a.cfg.NationalIDField, req.NationalID, st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill national id")
	}
	if err := p.TypeHuman(ctx, a.cfg.LicenseField, req.LicenseNumber, st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill license number")
	}
	if err := p.Click(ctx, a.cfg.SubmitButton); err != nil {
		return nil, classify(err, model.NavigationError, "submit")
	}

	raw, err := a.awaitBanners(ctx, p)
	if err != nil {
		return nil, err
	}
	return &model.Extraction{Portal: model.PortalFines, Fines: raw}, nil
}

// awaitBanners polls the banner set until filtering leaves at least one
// informative banner, or the result bound expires.
func (a *Fines) awaitBanners(ctx context.Context, p *browser.Page) (*model.FinesRaw, error) {
	expr := fmt.Sprintf(
		"Array.from(document.querySelectorAll(%s)).map(el => el.innerText)",
		strconv.Quote(a.cfg.BannerSelector),
	)
	deadline := time.Now().Add(a.cfg.Steps.Result())
	ticker := time.NewTicker(a.cfg.Steps.Poll())
	defer ticker.Stop()

	for {
		res, err := p.Eval(ctx, expr)
		if err != nil {
			return nil, classify(err, model.ExtractionError, "read banners")
		}
		var banners []string
		for _, item := range res.Array() {
			banners = append(banners, item.String())
		}
		if len(normalize.FilterFinesBanners(banners, a.cfg.BoilerplatePhrase)) > 0 {
			return &model.FinesRaw{Banners: banners}, nil
		}
		if time.Now().After(deadline) {
			return nil, model.Failuref(model.Timeout, "fines banners never rendered beyond boilerplate")
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
