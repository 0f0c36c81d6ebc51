package adapter

import (
	"context"

	"vehicheck/internal/browser"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Vignette checks the road-toll operator. The portal is a client-rendered
// app: nothing is selectable until network idle, and input events must go
// through the real field to trigger its change handlers.
type Vignette struct {
	cfg config.VignetteConfig
	log logger.Logger
}

func NewVignette(cfg config.VignetteConfig, l logger.Logger) *Vignette {
	if l == nil {
		l = logger.NewNop()
	}
	return &Vignette{cfg: cfg, log: l}
}

func (a *Vignette) Portal() model.Portal { return model.PortalVignette }

func (a *Vignette) Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error) {
	p := sess.Page()
	st := a.cfg.Steps

	if err := p.Navigate(ctx, a.cfg.URL, browser.WaitNetworkIdle, st.Navigate()); err != nil {
		return nil, classify(err, model.NavigationError, "open toll portal")
	}
	if err := p.WaitSelector(ctx, a.cfg.PlateField, st.Selector(), st.Poll()); err != nil {
		return nil, classify(err, model.NavigationError, "await registration form")
	}
	if err := p.Click(ctx, a.cfg.PlateField); err != nil {
		return nil, classify(err, model.NavigationError, "focus plate field")
	}
	if err := p.TypeHuman(ctx, a.cfg.PlateField, req.NormalizedPlate(), st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill plate")
	}
	if err := p.Click(ctx, a.cfg.SubmitButton); err != nil {
		return nil, classify(err, model.NavigationError, "submit")
	}
	if err := p.WaitSelector(ctx, a.cfg.ResultContainer, st.Result(), st.Poll()); err != nil {
		return nil, classify(err, model.Timeout, "await result container")
	}

	// A container without a table is a legitimate "no vignette" answer;
	// the normalizer decides, the adapter only hands over the markup.
	html, err := p.HTML(ctx, a.cfg.ResultContainer)
	if err != nil {
		return nil, classify(err, model.ExtractionError, "read result container")
	}
	return &model.Extraction{Portal: model.PortalVignette, VignetteHTML: html}, nil
}
