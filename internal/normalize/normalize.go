// Package normalize converts raw portal extractions into typed check
// results. Everything here is pure: same extraction in, same result out,
// with expiry comparisons taking an explicit now.
package normalize

import (
	"errors"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"vehicheck/internal/config"
	"vehicheck/pkg/model"
)

// ErrStillLoading signals that a fines extraction contained nothing but the
// portal's instructional boilerplate; the adapter must keep waiting rather
// than report "no fines".
var ErrStillLoading = errors.New("result banners not rendered yet")

const dateLayout = "02.01.2006"

// fieldDate is the fixed position of the validity/expiry date in the
// inspection portal's labeled-value list, identical in pass and fail
// layouts.
const fieldDate = 3

// Matches reports whether text contains phrase, case- and
// whitespace-tolerant.
func Matches(text, phrase string) bool {
	return strings.Contains(Fold(text), Fold(phrase))
}

// Fold lowercases and collapses whitespace for phrase comparison.
func Fold(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Inspection parses the inspection result container: an ordered list of
// labeled rows, value cells in fixed positions.
func Inspection(html string, cfg config.InspectionConfig, now time.Time) (*model.InspectionResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, model.Failuref(model.ExtractionError, "inspection container unparseable: %v", err)
	}
	var values []string
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() >= 2 {
			values = append(values, strings.TrimSpace(cells.Eq(cells.Length()-1).Text()))
		}
	})
	if len(values) <= fieldDate {
		return nil, model.Failuref(model.ExtractionError, "inspection layout: %d labeled rows, need at least %d", len(values), fieldDate+1)
	}

	res := &model.InspectionResult{
		Plate:   values[0],
		ValidTo: values[fieldDate],
	}
	if v := values[1]; v != "" {
		res.VIN = &v
	}
	if v := values[2]; v != "" {
		res.EcoClass = &v
	}
	hasValid := Matches(doc.Text(), cfg.PassPhrase)
	if d, err := time.Parse(dateLayout, res.ValidTo); err == nil {
		res.ValidDate = &d
		res.Passed = hasValid && !d.Before(now)
	} else {
		res.Passed = hasValid
	}
	return res, nil
}

// Insurance classifies the insurance extraction. A heading with no result
// table means "no policy found", which is a result, not an error.
func Insurance(raw *model.InsuranceRaw, cfg config.InsuranceConfig) (*model.InsuranceResult, error) {
	if raw == nil {
		return nil, model.Failuref(model.ExtractionError, "insurance extraction missing")
	}
	if !raw.Found {
		return &model.InsuranceResult{Active: false}, nil
	}
	res := &model.InsuranceResult{
		Active: Matches(raw.StatusText, cfg.ValidPhrase),
	}
	if v := strings.TrimSpace(raw.Insurer); v != "" {
		res.Insurer = &v
	}
	if v := collapse(raw.StartDate); v != "" {
		res.ValidFrom = &v
	}
	if v := collapse(raw.EndDate); v != "" {
		res.ValidTo = &v
	}
	return res, nil
}

// Vignette parses the toll operator's result table. A container without a
// table is a valid empty outcome.
func Vignette(html string, cfg config.VignetteConfig) (*model.VignetteResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, model.Failuref(model.ExtractionError, "vignette container unparseable: %v", err)
	}
	res := &model.VignetteResult{Entries: []model.VignetteEntry{}}
	table := doc.Find("table")
	if table.Length() == 0 {
		return res, nil
	}

	var rowErr error
	table.Find("tbody tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.Find("td")
		// [0] id, [1] vehicle class, [2] emission, [3] start, [4] end,
		// [5] price, [6] status.
		if cells.Length() < 7 {
			rowErr = model.Failuref(model.ExtractionError, "vignette row %d has %d cells, expected 7", i, cells.Length())
			return false
		}
		status := strings.TrimSpace(cells.Eq(6).Text())
		res.Entries = append(res.Entries, model.VignetteEntry{
			ID:        strings.TrimSpace(cells.Eq(0).Text()),
			ValidFrom: strings.TrimSpace(cells.Eq(3).Text()),
			ValidTo:   strings.TrimSpace(cells.Eq(4).Text()),
			Price:     strings.TrimSpace(cells.Eq(5).Text()),
			Active:    Matches(status, cfg.ActivePhrase),
		})
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return res, nil
}

// FilterFinesBanners drops the instructional banner the fines portal renders
// on every load, keeping only banners that carry an actual answer.
func FilterFinesBanners(banners []string, boilerplatePhrase string) []string {
	out := make([]string, 0, len(banners))
	for _, b := range banners {
		if strings.TrimSpace(b) == "" || Matches(b, boilerplatePhrase) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Fines classifies the banner set left after boilerplate filtering. An empty
// set means the portal has not answered yet.
func Fines(raw *model.FinesRaw, cfg config.FinesConfig) (*model.FinesResult, error) {
	if raw == nil {
		return nil, model.Failuref(model.ExtractionError, "fines extraction missing")
	}
	banners := FilterFinesBanners(raw.Banners, cfg.BoilerplatePhrase)
	if len(banners) == 0 {
		return nil, ErrStillLoading
	}
	res := &model.FinesResult{HasFines: true, Messages: banners}
	for _, b := range banners {
		if Matches(b, cfg.NoFinesPhrase) {
			res.HasFines = false
			break
		}
	}
	return res, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
