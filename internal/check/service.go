// Package check is the engine's public entry point. It validates inputs,
// resolves the portal adapter, enforces the one-session-per-user rule and
// guarantees teardown on every exit path.
package check

import (
	"context"
	"errors"
	"regexp"
	"time"

	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/metrics"
	"vehicheck/internal/normalize"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Runner is a single-phase portal adapter.
type Runner interface {
	Portal() model.Portal
	Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error)
}

// PhasedRunner is the two-phase inspection adapter: Begin yields the captcha
// challenge and leaves the session held; Run completes against it.
type PhasedRunner interface {
	Runner
	Begin(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.CaptchaChallenge, error)
}

// Snapshotter records a diagnostic capture of a failing page. Best effort.
type Snapshotter interface {
	Save(ctx context.Context, user model.UserKey, portal model.Portal, f *model.Failure, image []byte, html string) error
}

var (
	nationalIDRe = regexp.MustCompile(`^\d{10}$`)
	licenseRe    = regexp.MustCompile(`^\d{9}$`)
)

// Service coordinates checks. One instance serves all users concurrently;
// mutual exclusion within a user is the session manager's registry.
type Service struct {
	cfg      *config.Config
	sessions *session.Manager
	insp     PhasedRunner
	runners  map[model.Portal]Runner
	snaps    Snapshotter
	log      logger.Logger
	now      func() time.Time
}

func New(cfg *config.Config, sessions *session.Manager, insp PhasedRunner, runners []Runner, snaps Snapshotter, l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	byPortal := make(map[model.Portal]Runner, len(runners))
	for _, r := range runners {
		byPortal[r.Portal()] = r
	}
	return &Service{
		cfg:      cfg,
		sessions: sessions,
		insp:     insp,
		runners:  byPortal,
		snaps:    snaps,
		log:      l,
		now:      time.Now,
	}
}

// StartInspection runs phase one of the inspection flow and returns the
// captcha challenge. On success the session is deliberately retained in
// AwaitingCaptcha; any prior session for the user has been superseded.
func (s *Service) StartInspection(ctx context.Context, user model.UserKey, plate string) (*model.CaptchaChallenge, error) {
	req := model.CheckRequest{User: user, Plate: plate}
	if req.NormalizedPlate() == "" {
		return nil, model.Failuref(model.ValidationRejected, "empty plate number")
	}

	sess, err := s.sessions.Acquire(ctx, user, model.PortalInspection)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.count(model.PortalInspection, model.EnvironmentError)
		return nil, model.Failuref(model.EnvironmentError, "browser launch: %v", err)
	}
	metrics.LiveSessions.Set(float64(s.sessions.Len()))

	ch, err := s.insp.Begin(ctx, sess, req)
	if err != nil {
		s.teardown(user, model.PortalInspection, sess, err)
		return nil, s.asFailure(model.PortalInspection, err)
	}
	// Session intentionally outlives this request, awaiting the human's
	// captcha answer.
	s.log.Info("inspection challenge issued", "user", string(user), "session", sess.ID)
	return ch, nil
}

// SubmitInspection runs phase two against the held session, claimed
// atomically so concurrent submits never share the page. The session is
// terminal after this call whatever the outcome; a missing, foreign or
// already-claimed session is the expected SessionExpired case.
func (s *Service) SubmitInspection(ctx context.Context, user model.UserKey, plate, captchaAnswer string) (*model.InspectionResult, error) {
	req := model.CheckRequest{User: user, Plate: plate, CaptchaAnswer: captchaAnswer}
	if captchaAnswer == "" {
		return nil, model.Failuref(model.ValidationRejected, "empty captcha answer")
	}

	sess, ok := s.sessions.Claim(user, model.PortalInspection)
	if !ok {
		s.count(model.PortalInspection, model.SessionExpired)
		return nil, model.Failuref(model.SessionExpired, "no inspection session awaiting a captcha answer")
	}

	ext, err := s.insp.Run(ctx, sess, req)
	if err != nil {
		s.teardown(user, model.PortalInspection, sess, err)
		return nil, s.asFailure(model.PortalInspection, err)
	}

	res, nerr := normalize.Inspection(ext.InspectionHTML, s.cfg.Inspection, s.now())
	if nerr != nil {
		s.teardown(user, model.PortalInspection, sess, nerr)
		return nil, s.asFailure(model.PortalInspection, nerr)
	}
	s.release(user)
	s.count(model.PortalInspection, "")
	return res, nil
}

func (s *Service) RunInsurance(ctx context.Context, user model.UserKey, plate string) (*model.InsuranceResult, error) {
	req := model.CheckRequest{User: user, Plate: plate}
	if req.NormalizedPlate() == "" {
		return nil, model.Failuref(model.ValidationRejected, "empty plate number")
	}
	ext, err := s.runSingle(ctx, model.PortalInsurance, req)
	if err != nil {
		return nil, err
	}
	res, nerr := normalize.Insurance(ext.Insurance, s.cfg.Insurance)
	if nerr != nil {
		return nil, s.normFail(user, model.PortalInsurance, nerr, "")
	}
	s.count(model.PortalInsurance, "")
	return res, nil
}

func (s *Service) RunVignette(ctx context.Context, user model.UserKey, plate string) (*model.VignetteResult, error) {
	req := model.CheckRequest{User: user, Plate: plate}
	if req.NormalizedPlate() == "" {
		return nil, model.Failuref(model.ValidationRejected, "empty plate number")
	}
	ext, err := s.runSingle(ctx, model.PortalVignette, req)
	if err != nil {
		return nil, err
	}
	res, nerr := normalize.Vignette(ext.VignetteHTML, s.cfg.Vignette)
	if nerr != nil {
		return nil, s.normFail(user, model.PortalVignette, nerr, ext.VignetteHTML)
	}
	s.count(model.PortalVignette, "")
	return res, nil
}

func (s *Service) RunFines(ctx context.Context, user model.UserKey, plate, nationalID, licenseNumber string) (*model.FinesResult, error) {
	req := model.CheckRequest{User: user, Plate: plate, NationalID: nationalID, LicenseNumber: licenseNumber}
	if !nationalIDRe.MatchString(nationalID) {
		return nil, model.Failuref(model.ValidationRejected, "national id must be 10 digits")
	}
	if !licenseRe.MatchString(licenseNumber) {
		return nil, model.Failuref(model.ValidationRejected, "license number must be 9 digits")
	}
	ext, err := s.runSingle(ctx, model.PortalFines, req)
	if err != nil {
		return nil, err
	}
	res, nerr := normalize.Fines(ext.Fines, s.cfg.Fines)
	if errors.Is(nerr, normalize.ErrStillLoading) {
		nerr = model.Failuref(model.Timeout, "fines portal never answered beyond boilerplate")
	}
	if nerr != nil {
		return nil, s.normFail(user, model.PortalFines, nerr, "")
	}
	s.count(model.PortalFines, "")
	return res, nil
}

// runSingle drives one single-phase adapter with a session that is released
// on every path out of this function.
func (s *Service) runSingle(ctx context.Context, portal model.Portal, req model.CheckRequest) (*model.Extraction, error) {
	r, ok := s.runners[portal]
	if !ok {
		return nil, model.Failuref(model.EnvironmentError, "no adapter registered for %s", portal)
	}
	timer := time.Now()

	sess, err := s.sessions.Acquire(ctx, req.User, portal)
	if err != nil {
		// A launch aborted by the caller is not an environment fault.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.count(portal, model.EnvironmentError)
		return nil, model.Failuref(model.EnvironmentError, "browser launch: %v", err)
	}
	metrics.LiveSessions.Set(float64(s.sessions.Len()))

	ext, err := r.Run(ctx, sess, req)
	metrics.CheckDuration.WithLabelValues(string(portal)).Observe(time.Since(timer).Seconds())
	if err != nil {
		s.teardown(req.User, portal, sess, err)
		return nil, s.asFailure(portal, err)
	}
	s.release(req.User)
	return ext, nil
}

// normFail records a normalization failure after the session is already
// gone; the extraction markup stands in for a live-page capture.
func (s *Service) normFail(user model.UserKey, portal model.Portal, cause error, html string) error {
	if f, ok := model.AsFailure(cause); ok {
		if s.snaps != nil && snapshotWorthy(f.Kind) {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.snaps.Save(sctx, user, portal, f, nil, html); err != nil {
				s.log.Warn("diagnostic snapshot not saved", "error", err)
			}
		}
		s.count(portal, f.Kind)
		s.log.Warn("extraction rejected", "user", string(user), "portal", string(portal), "kind", string(f.Kind), "message", f.Message)
	}
	return s.asFailure(portal, cause)
}

// teardown snapshots the failing page if warranted, then releases the
// session. Runs on every failed adapter invocation.
func (s *Service) teardown(user model.UserKey, portal model.Portal, sess *session.Session, cause error) {
	if f, ok := model.AsFailure(cause); ok && s.snaps != nil && snapshotWorthy(f.Kind) {
		// Detach from the (possibly canceled) request context; the page is
		// still alive until release below.
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		img, _ := sess.Page().FullShot(sctx)
		html, _ := sess.Page().PageHTML(sctx)
		if err := s.snaps.Save(sctx, user, portal, f, img, html); err != nil {
			s.log.Warn("diagnostic snapshot not saved", "error", err)
		}
	}
	s.release(user)
	if f, ok := model.AsFailure(cause); ok {
		s.count(portal, f.Kind)
		s.log.Warn("check failed", "user", string(user), "portal", string(portal), "kind", string(f.Kind), "message", f.Message)
	} else {
		s.log.Info("check aborted", "user", string(user), "portal", string(portal), "error", cause.Error())
	}
}

func (s *Service) release(user model.UserKey) {
	s.sessions.Release(user)
	metrics.LiveSessions.Set(float64(s.sessions.Len()))
}

// asFailure guarantees callers see either a taxonomy failure or a context
// error, never a bare transport error.
func (s *Service) asFailure(portal model.Portal, err error) error {
	if _, ok := model.AsFailure(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return model.Failuref(model.NavigationError, "%s check: %v", portal, err)
}

func (s *Service) count(portal model.Portal, kind model.FailureKind) {
	outcome := "ok"
	if kind != "" {
		outcome = string(kind)
	}
	metrics.ChecksTotal.WithLabelValues(string(portal), outcome).Inc()
}

// snapshotWorthy excludes failures whose cause is the input or the flow
// state, where a page capture teaches nothing.
func snapshotWorthy(kind model.FailureKind) bool {
	switch kind {
	case model.ValidationRejected, model.SessionExpired, model.EnvironmentError:
		return false
	}
	return true
}
