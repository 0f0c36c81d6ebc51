package adapter

import (
	"context"
	"fmt"
	"strconv"

	"vehicheck/internal/browser"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/normalize"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Inspection is the one two-phase adapter: phase one opens the portal and
// captures the captcha challenge image; the session is then held, in stage
// AwaitingCaptcha, until a human supplies the code and phase two submits it.
type Inspection struct {
	cfg config.InspectionConfig
	log logger.Logger
}

func NewInspection(cfg config.InspectionConfig, l logger.Logger) *Inspection {
	if l == nil {
		l = logger.NewNop()
	}
	return &Inspection{cfg: cfg, log: l}
}

func (a *Inspection) Portal() model.Portal { return model.PortalInspection }

// Begin navigates to the portal and captures the captcha image as an
// embeddable PNG. The session stays alive past the return.
func (a *Inspection) Begin(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.CaptchaChallenge, error) {
	p := sess.Page()
	st := a.cfg.Steps

	if err := p.Navigate(ctx, a.cfg.URL, browser.WaitNetworkIdle, st.Navigate()); err != nil {
		return nil, classify(err, model.NavigationError, "open inspection portal")
	}
	if err := p.WaitSelector(ctx, a.cfg.CaptchaImage, st.Selector(), st.Poll()); err != nil {
		return nil, classify(err, model.NavigationError, "await captcha image")
	}
	img, err := p.ElementShot(ctx, a.cfg.CaptchaImage)
	if err != nil {
		return nil, classify(err, model.ExtractionError, "capture captcha image")
	}
	sess.Stage = model.StageAwaitingCaptcha
	return &model.CaptchaChallenge{Image: img, MIME: "image/png"}, nil
}

// Run is phase two: fill plate and captcha code on the already-open page,
// submit, and read whichever container appears. A wrong-code marker is a
// user-correctable rejection, distinct from "no valid inspection".
func (a *Inspection) Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error) {
	p := sess.Page()
	st := a.cfg.Steps

	if err := p.TypeHuman(ctx, a.cfg.PlateField, req.NormalizedPlate(), st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill plate")
	}
	if err := p.TypeHuman(ctx, a.cfg.CodeField, req.CaptchaAnswer, st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill captcha code")
	}
	if err := p.Click(ctx, a.cfg.SubmitButton); err != nil {
		return nil, classify(err, model.NavigationError, "submit")
	}

	// the in-page probe lowercases body text, so match the lowered phrase
	settled := fmt.Sprintf(
		"document.querySelector(%s) !== null || document.body.innerText.toLowerCase().includes(%s)",
		strconv.Quote(a.cfg.ResultContainer),
		strconv.Quote(normalize.Fold(a.cfg.WrongCodePhrase)),
	)
	if err := p.WaitFunc(ctx, settled, st.Result(), st.Poll()); err != nil {
		return nil, classify(err, model.Timeout, "await inspection result")
	}

	body, err := p.Text(ctx, "body")
	if err != nil {
		return nil, classify(err, model.ExtractionError, "read page text")
	}
	if normalize.Matches(body, a.cfg.WrongCodePhrase) {
		return nil, model.Failuref(model.ValidationRejected, "portal rejected the captcha code")
	}

	html, err := p.HTML(ctx, a.cfg.ResultContainer)
	if err != nil {
		return nil, classify(err, model.ExtractionError, "read result container")
	}
	if html == "" {
		return nil, model.Failuref(model.ExtractionError, "result container disappeared after wait")
	}
	return &model.Extraction{Portal: model.PortalInspection, InspectionHTML: html}, nil
}
