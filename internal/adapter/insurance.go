package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vehicheck/internal/browser"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Insurance checks third-party liability cover against the guarantee fund's
// lookup form. Single phase; the form sits behind an altcha widget.
type Insurance struct {
	cfg config.InsuranceConfig
	log logger.Logger
}

func NewInsurance(cfg config.InsuranceConfig, l logger.Logger) *Insurance {
	if l == nil {
		l = logger.NewNop()
	}
	return &Insurance{cfg: cfg, log: l}
}

func (a *Insurance) Portal() model.Portal { return model.PortalInsurance }

func (a *Insurance) Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error) {
	p := sess.Page()
	st := a.cfg.Steps

	if err := p.Navigate(ctx, a.cfg.URL, browser.WaitDOMReady, st.Navigate()); err != nil {
		return nil, classify(err, model.NavigationError, "open insurance portal")
	}
	if err := p.WaitSelector(ctx, a.cfg.PlateField, st.Selector(), st.Poll()); err != nil {
		return nil, classify(err, model.NavigationError, "await plate field")
	}
	if err := p.TypeHuman(ctx, a.cfg.PlateField, req.NormalizedPlate(), st.TypeDelay()); err != nil {
		return nil, classify(err, model.NavigationError, "fill plate")
	}

	if err := a.solveAltcha(ctx, p); err != nil {
		return nil, err
	}

	if err := p.Click(ctx, a.cfg.SubmitButton); err != nil {
		return nil, classify(err, model.NavigationError, "submit")
	}
	if err := p.WaitSelector(ctx, a.cfg.ResultContainer, st.Result(), st.Poll()); err != nil {
		return nil, classify(err, model.Timeout, "await result container")
	}

	raw, err := a.extract(ctx, p)
	if err != nil {
		return nil, err
	}
	return &model.Extraction{Portal: model.PortalInsurance, Insurance: raw}, nil
}

// solveAltcha triggers the proof-of-work checkbox and waits a bounded time
// for the verified state. An expired wait is not a hard failure: the widget
// sometimes verifies asynchronously after submit.
func (a *Insurance) solveAltcha(ctx context.Context, p *browser.Page) error {
	present, err := p.Exists(ctx, a.cfg.AltchaCheckbox)
	if err != nil || !present {
		return classify(err, model.NavigationError, "probe altcha")
	}
	if err := p.Click(ctx, a.cfg.AltchaCheckbox); err != nil {
		return classify(err, model.NavigationError, "trigger altcha")
	}
	expr := fmt.Sprintf(
		"(() => { const el = document.querySelector(%s); return el && el.getAttribute('data-state') === 'verified'; })()",
		strconv.Quote(a.cfg.AltchaWidget),
	)
	verify := time.Duration(a.cfg.AltchaVerifySec) * time.Second
	err = p.WaitFunc(ctx, expr, verify, a.cfg.Steps.Poll())
	if errors.Is(err, browser.ErrWaitTimeout) {
		a.log.Warn("altcha did not verify in time, submitting anyway")
		return nil
	}
	return classify(err, model.NavigationError, "await altcha verification")
}

func (a *Insurance) extract(ctx context.Context, p *browser.Page) (*model.InsuranceRaw, error) {
	expr := fmt.Sprintf(`(() => {
		const c = document.querySelector(%s);
		if (!c) return { found: false, statusText: '' };
		const statusText = c.querySelector('h6')?.innerText || '';
		const table = c.querySelector(%s);
		if (!table) return { found: false, statusText };
		const cells = table.querySelectorAll('tbody tr td');
		return {
			found: true,
			statusText,
			insurer: cells[0]?.innerText.trim() || '',
			startDate: cells[1]?.innerText || '',
			endDate: cells[2]?.innerText || ''
		};
	})()`, strconv.Quote(a.cfg.ResultContainer), strconv.Quote(a.cfg.ResultTable))

	res, err := p.Eval(ctx, expr)
	if err != nil {
		return nil, classify(err, model.ExtractionError, "read result container")
	}
	var raw model.InsuranceRaw
	if err := json.Unmarshal([]byte(res.Raw), &raw); err != nil {
		return nil, model.Failuref(model.ExtractionError, "insurance extraction shape: %v", err)
	}
	return &raw, nil
}
