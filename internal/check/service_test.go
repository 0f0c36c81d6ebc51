package check

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicheck/internal/browser"
	"vehicheck/internal/config"
	"vehicheck/internal/logger"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

type fakeHandle struct{ closed bool }

func (h *fakeHandle) Page() *browser.Page { return nil }
func (h *fakeHandle) Close() error        { h.closed = true; return nil }

type fakeRunner struct {
	portal model.Portal
	ext    *model.Extraction
	err    error
	calls  int
	onRun  func()
}

func (f *fakeRunner) Portal() model.Portal { return f.portal }

func (f *fakeRunner) Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error) {
	f.calls++
	if f.onRun != nil {
		f.onRun()
	}
	return f.ext, f.err
}

type fakeInspection struct {
	fakeRunner
	challenge *model.CaptchaChallenge
	beginErr  error
}

func (f *fakeInspection) Begin(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.CaptchaChallenge, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	sess.Stage = model.StageAwaitingCaptcha
	return f.challenge, nil
}

type harness struct {
	svc      *Service
	sessions *session.Manager
	launched int
	insp     *fakeInspection
	runners  map[model.Portal]*fakeRunner
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		insp: &fakeInspection{
			fakeRunner: fakeRunner{portal: model.PortalInspection},
			challenge:  &model.CaptchaChallenge{Image: []byte{0x89}, MIME: "image/png"},
		},
		runners: map[model.Portal]*fakeRunner{
			model.PortalInsurance: {portal: model.PortalInsurance},
			model.PortalVignette:  {portal: model.PortalVignette},
			model.PortalFines:     {portal: model.PortalFines},
		},
	}
	h.sessions = session.NewManager(func(ctx context.Context) (session.Handle, error) {
		h.launched++
		return &fakeHandle{}, nil
	}, logger.NewNop())
	h.svc = New(config.NewConfig(), h.sessions, h.insp, []Runner{
		h.runners[model.PortalInsurance],
		h.runners[model.PortalVignette],
		h.runners[model.PortalFines],
	}, nil, logger.NewNop())
	return h
}

const inspectionHTML = `<div class="check-result">
<p>Превозното средство има валиден периодичен технически преглед</p>
<table>
<tr><th>Рег. номер</th><td>CT4373PP</td></tr>
<tr><th>Рама</th><td>VF1BA0E0512345678</td></tr>
<tr><th>Еко категория</th><td>ЕВРО 4</td></tr>
<tr><th>Валиден до</th><td>15.06.2026</td></tr>
</table>
</div>`

func TestStartInspectionRetainsSession(t *testing.T) {
	h := newHarness(t)

	ch, err := h.svc.StartInspection(context.Background(), "u1", "ct 4373 pp")
	require.NoError(t, err)
	assert.NotEmpty(t, ch.Image)

	sess, ok := h.sessions.Get("u1")
	require.True(t, ok, "phase one must retain the session")
	assert.Equal(t, model.StageAwaitingCaptcha, sess.Stage)
	assert.Equal(t, 1, h.sessions.Len())
}

func TestStartInspectionFailureReleases(t *testing.T) {
	h := newHarness(t)
	h.insp.beginErr = model.Failuref(model.Timeout, "captcha image never appeared")

	_, err := h.svc.StartInspection(context.Background(), "u1", "CT4373PP")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.Timeout, f.Kind)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestStartInspectionEmptyPlate(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.StartInspection(context.Background(), "u1", "   ")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ValidationRejected, f.Kind)
	assert.Zero(t, h.launched, "validation must fail before a browser is launched")
}

func TestSubmitInspectionHappyPath(t *testing.T) {
	h := newHarness(t)
	h.insp.ext = &model.Extraction{Portal: model.PortalInspection, InspectionHTML: inspectionHTML}
	h.svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	_, err := h.svc.StartInspection(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)

	res, err := h.svc.SubmitInspection(context.Background(), "u1", "CT4373PP", "x7k2")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "CT4373PP", res.Plate)
	assert.Equal(t, 0, h.sessions.Len(), "phase two is terminal")
}

func TestSubmitInspectionWithoutSessionExpires(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SubmitInspection(context.Background(), "u1", "CT4373PP", "x7k2")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.SessionExpired, f.Kind)
}

func TestSubmitInspectionWrongCaptcha(t *testing.T) {
	h := newHarness(t)
	h.insp.err = model.Failuref(model.ValidationRejected, "portal rejected the captcha code")

	_, err := h.svc.StartInspection(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)

	_, err = h.svc.SubmitInspection(context.Background(), "u1", "CT4373PP", "wrong")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ValidationRejected, f.Kind)
	// the retained session is gone; a retry must restart phase one for a
	// fresh captcha
	assert.Equal(t, 0, h.sessions.Len())
}

func TestSubmitInspectionSingleClaimant(t *testing.T) {
	h := newHarness(t)
	h.insp.ext = &model.Extraction{Portal: model.PortalInspection, InspectionHTML: inspectionHTML}
	h.svc.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	var active, overlaps int32
	h.insp.onRun = func() {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}

	_, err := h.svc.StartInspection(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := h.svc.SubmitInspection(context.Background(), "u1", "CT4373PP", "x7k2")
			errs <- err
		}()
	}
	first, second := <-errs, <-errs

	var expired int
	for _, err := range []error{first, second} {
		if err == nil {
			continue
		}
		f, ok := model.AsFailure(err)
		require.True(t, ok)
		assert.Equal(t, model.SessionExpired, f.Kind)
		expired++
	}
	assert.Equal(t, 1, expired, "exactly one submit must lose the claim")
	assert.Zero(t, atomic.LoadInt32(&overlaps), "one page must never be driven by two requests")
	assert.Equal(t, 0, h.sessions.Len())
}

func TestSupersedeDuringAwaitingCaptcha(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.StartInspection(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)

	// user navigates away and starts an insurance check instead
	h.runners[model.PortalInsurance].ext = &model.Extraction{
		Portal:    model.PortalInsurance,
		Insurance: &model.InsuranceRaw{Found: false},
	}
	_, err = h.svc.RunInsurance(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)

	// the held inspection session was superseded; phase two now expires
	_, err = h.svc.SubmitInspection(context.Background(), "u1", "CT4373PP", "x7k2")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.SessionExpired, f.Kind)
}

func TestSinglePhaseTeardownOnEveryFailureKind(t *testing.T) {
	kinds := []model.FailureKind{
		model.NavigationError,
		model.Timeout,
		model.ValidationRejected,
		model.ExtractionError,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			h := newHarness(t)
			h.runners[model.PortalInsurance].err = model.Failuref(kind, "boom")

			_, err := h.svc.RunInsurance(context.Background(), "u1", "CT4373PP")
			f, ok := model.AsFailure(err)
			require.True(t, ok)
			assert.Equal(t, kind, f.Kind)
			assert.Equal(t, 0, h.sessions.Len(), "no session may outlive a failed check")
		})
	}
}

func TestSinglePhaseSuccessReleases(t *testing.T) {
	h := newHarness(t)
	h.runners[model.PortalVignette].ext = &model.Extraction{
		Portal:       model.PortalVignette,
		VignetteHTML: `<div class="CheckResult"><p>нищо</p></div>`,
	}

	res, err := h.svc.RunVignette(context.Background(), "u1", "CT4373PP")
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRunFinesValidatesCredentials(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.RunFines(context.Background(), "u1", "CT4373PP", "123", "123456789")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ValidationRejected, f.Kind)

	_, err = h.svc.RunFines(context.Background(), "u1", "CT4373PP", "1234567890", "12345")
	f, ok = model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ValidationRejected, f.Kind)

	assert.Zero(t, h.launched)
}

func TestRunFinesHappyPath(t *testing.T) {
	h := newHarness(t)
	h.runners[model.PortalFines].ext = &model.Extraction{
		Portal: model.PortalFines,
		Fines: &model.FinesRaw{Banners: []string{
			"Проверката се извършва по ЕГН и номер на свидетелство за управление.",
			"Няма незаплатени задължения.",
		}},
	}

	res, err := h.svc.RunFines(context.Background(), "u1", "CT4373PP", "1234567890", "123456789")
	require.NoError(t, err)
	assert.False(t, res.HasFines)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestRunFinesBoilerplateOnlyIsTimeout(t *testing.T) {
	h := newHarness(t)
	h.runners[model.PortalFines].ext = &model.Extraction{
		Portal: model.PortalFines,
		Fines: &model.FinesRaw{Banners: []string{
			"Проверката се извършва по ЕГН и номер на свидетелство за управление.",
		}},
	}

	_, err := h.svc.RunFines(context.Background(), "u1", "CT4373PP", "1234567890", "123456789")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.Timeout, f.Kind)
	assert.Equal(t, 0, h.sessions.Len())
}

func TestEnvironmentErrorOnLaunchFailure(t *testing.T) {
	h := newHarness(t)
	sessions := session.NewManager(func(ctx context.Context) (session.Handle, error) {
		return nil, context.DeadlineExceeded
	}, logger.NewNop())
	svc := New(config.NewConfig(), sessions, h.insp, []Runner{h.runners[model.PortalInsurance]}, nil, logger.NewNop())

	_, err := svc.RunInsurance(context.Background(), "u1", "CT4373PP")
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.EnvironmentError, f.Kind)
}

func TestLaunchAbortedByCancellationPassesThrough(t *testing.T) {
	h := newHarness(t)
	sessions := session.NewManager(func(ctx context.Context) (session.Handle, error) {
		return nil, ctx.Err()
	}, logger.NewNop())
	svc := New(config.NewConfig(), sessions, h.insp, []Runner{h.runners[model.PortalInsurance]}, nil, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.RunInsurance(ctx, "u1", "CT4373PP")
	assert.ErrorIs(t, err, context.Canceled)
	_, ok := model.AsFailure(err)
	assert.False(t, ok, "cancellation is the caller's doing, not an environment fault")
}

func TestCancellationPassesThrough(t *testing.T) {
	h := newHarness(t)
	h.runners[model.PortalInsurance].err = context.Canceled

	_, err := h.svc.RunInsurance(context.Background(), "u1", "CT4373PP")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.sessions.Len(), "aborted checks must still tear down")
}
