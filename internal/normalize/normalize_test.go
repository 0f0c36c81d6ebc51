package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vehicheck/internal/config"
	"vehicheck/pkg/model"
)

func TestInsuranceActivePolicy(t *testing.T) {
	raw := &model.InsuranceRaw{
		Found:      true,
		StatusText: "За МПС има валидна застраховка Гражданска отговорност",
		Insurer:    "X",
		StartDate:  "01.01.2024",
		EndDate:    "01.01.2025",
	}
	res, err := Insurance(raw, config.NewConfig().Insurance)
	require.NoError(t, err)
	assert.True(t, res.Active)
	require.NotNil(t, res.Insurer)
	assert.Equal(t, "X", *res.Insurer)
	require.NotNil(t, res.ValidFrom)
	assert.Equal(t, "01.01.2024", *res.ValidFrom)
	require.NotNil(t, res.ValidTo)
	assert.Equal(t, "01.01.2025", *res.ValidTo)
}

func TestInsuranceNotFoundIsAResult(t *testing.T) {
	raw := &model.InsuranceRaw{Found: false, StatusText: "Няма намерена активна застраховка"}
	res, err := Insurance(raw, config.NewConfig().Insurance)
	require.NoError(t, err)
	assert.False(t, res.Active)
	assert.Nil(t, res.Insurer)
}

func TestInsuranceMissingExtraction(t *testing.T) {
	_, err := Insurance(nil, config.NewConfig().Insurance)
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ExtractionError, f.Kind)
}

func TestInsuranceOptionalFieldsAbsentNotEmpty(t *testing.T) {
	raw := &model.InsuranceRaw{Found: true, StatusText: "има валидна", Insurer: "  "}
	res, err := Insurance(raw, config.NewConfig().Insurance)
	require.NoError(t, err)
	assert.Nil(t, res.Insurer)
	assert.Nil(t, res.ValidFrom)
}

const vignetteTable = `<div class="CheckResult"><table><tbody>
<tr>
  <td>24013321470187</td><td>Категория 3</td><td>ЕВРО 6</td>
  <td>13.01.2024</td><td>12.01.2025</td><td>97.00 лв.</td>
  <td><span class="paid">Активна</span></td>
</tr>
</tbody></table></div>`

func TestVignetteRows(t *testing.T) {
	res, err := Vignette(vignetteTable, config.NewConfig().Vignette)
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	e := res.Entries[0]
	assert.Equal(t, "24013321470187", e.ID)
	assert.Equal(t, "13.01.2024", e.ValidFrom)
	assert.Equal(t, "12.01.2025", e.ValidTo)
	assert.Equal(t, "97.00 лв.", e.Price)
	assert.True(t, e.Active)
}

func TestVignetteNoTableIsEmptyResult(t *testing.T) {
	res, err := Vignette(`<div class="CheckResult"><p>Няма активна винетка</p></div>`, config.NewConfig().Vignette)
	require.NoError(t, err)
	assert.NotNil(t, res.Entries)
	assert.Empty(t, res.Entries)
}

func TestVignetteShortRowIsExtractionError(t *testing.T) {
	html := `<div><table><tbody><tr><td>only</td><td>four</td><td>cells</td><td>here</td></tr></tbody></table></div>`
	_, err := Vignette(html, config.NewConfig().Vignette)
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ExtractionError, f.Kind)
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

func TestInspectionPassed(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res, err := Inspection(inspectionHTML, config.NewConfig().Inspection, now)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "CT4373PP", res.Plate)
	assert.Equal(t, "15.06.2026", res.ValidTo)
	require.NotNil(t, res.VIN)
	assert.Equal(t, "VF1BA0E0512345678", *res.VIN)
	require.NotNil(t, res.EcoClass)
	assert.Equal(t, "ЕВРО 4", *res.EcoClass)
}

func TestInspectionExpiredByNow(t *testing.T) {
	// same markup, later clock: the date in the fixed field decides
	now := time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
	res, err := Inspection(inspectionHTML, config.NewConfig().Inspection, now)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, "15.06.2026", res.ValidTo)
}

func TestInspectionClassificationIsIdempotent(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a, err := Inspection(inspectionHTML, config.NewConfig().Inspection, now)
	require.NoError(t, err)
	b, err := Inspection(inspectionHTML, config.NewConfig().Inspection, now)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestInspectionTooFewRows(t *testing.T) {
	_, err := Inspection(`<div><table><tr><th>a</th><td>b</td></tr></table></div>`, config.NewConfig().Inspection, time.Now())
	f, ok := model.AsFailure(err)
	require.True(t, ok)
	assert.Equal(t, model.ExtractionError, f.Kind)
}

func TestFinesBoilerplateOnlyKeepsWaiting(t *testing.T) {
	cfg := config.NewConfig().Fines
	raw := &model.FinesRaw{Banners: []string{
		"Проверката се извършва по ЕГН и номер на свидетелство за управление.",
	}}
	_, err := Fines(raw, cfg)
	assert.ErrorIs(t, err, ErrStillLoading)
}

func TestFinesNoObligations(t *testing.T) {
	cfg := config.NewConfig().Fines
	raw := &model.FinesRaw{Banners: []string{
		"Проверката се извършва по ЕГН и номер на свидетелство за управление.",
		"Няма незаплатени задължения.",
	}}
	res, err := Fines(raw, cfg)
	require.NoError(t, err)
	assert.False(t, res.HasFines)
	assert.Equal(t, []string{"Няма незаплатени задължения."}, res.Messages)
}

func TestFinesWithObligations(t *testing.T) {
	cfg := config.NewConfig().Fines
	raw := &model.FinesRaw{Banners: []string{
		"Проверката се извършва по ЕГН и номер на свидетелство за управление.",
		"Фиш серия К No 1234567 от 01.02.2024, сума 50 лв.",
	}}
	res, err := Fines(raw, cfg)
	require.NoError(t, err)
	assert.True(t, res.HasFines)
	assert.Len(t, res.Messages, 1)
}

func TestFilterFinesBannersDropsEmpty(t *testing.T) {
	cfg := config.NewConfig().Fines
	got := FilterFinesBanners([]string{"", "  ", "реален резултат"}, cfg.BoilerplatePhrase)
	assert.Equal(t, []string{"реален резултат"}, got)
}

func TestMatchesIsWhitespaceAndCaseTolerant(t *testing.T) {
	assert.True(t, Matches("  ИМА   ВАЛИДНА застраховка ", "има валидна"))
	assert.False(t, Matches("няма валидна", "има валидна "+"полица"))
}
