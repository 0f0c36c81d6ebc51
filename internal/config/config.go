package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Portal selectors and the locale
// phrases used for status classification live here, not in code: the portals
// change wording and markup without notice, and a phrase change must not
// require a rebuild.
type Config struct {
	Version string `yaml:"version"`

	Browser BrowserConfig `yaml:"browser"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Snapshot struct {
		Dir     string `yaml:"dir"`
		Enabled bool   `yaml:"enabled"`
	} `yaml:"snapshot"`

	Inspection InspectionConfig `yaml:"inspection"`
	Insurance  InsuranceConfig  `yaml:"insurance"`
	Vignette   VignetteConfig   `yaml:"vignette"`
	Fines      FinesConfig      `yaml:"fines"`
}

// BrowserConfig controls how Chrome instances are launched.
type BrowserConfig struct {
	Bin             string   `yaml:"bin"`
	Headless        bool     `yaml:"headless"`
	Args            []string `yaml:"args"`
	ProbeTimeoutSec int      `yaml:"probeTimeoutSec"`
	WindowWidth     int      `yaml:"windowWidth"`
	WindowHeight    int      `yaml:"windowHeight"`
}

// Steps holds the per-step wait bounds of one portal flow. Values are
// seconds; the slowest legitimate step (page load) and the fastest failure
// (validation rejection) must not share one deadline.
type Steps struct {
	NavigateSec int `yaml:"navigateSec"`
	SelectorSec int `yaml:"selectorSec"`
	ResultSec   int `yaml:"resultSec"`
	TypeDelayMS int `yaml:"typeDelayMS"`
	PollMS      int `yaml:"pollMS"`
}

func (s Steps) Navigate() time.Duration  { return time.Duration(s.NavigateSec) * time.Second }
func (s Steps) Selector() time.Duration  { return time.Duration(s.SelectorSec) * time.Second }
func (s Steps) Result() time.Duration    { return time.Duration(s.ResultSec) * time.Second }
func (s Steps) TypeDelay() time.Duration { return time.Duration(s.TypeDelayMS) * time.Millisecond }
func (s Steps) Poll() time.Duration      { return time.Duration(s.PollMS) * time.Millisecond }

type InspectionConfig struct {
	URL             string `yaml:"url"`
	CaptchaImage    string `yaml:"captchaImage"`
	PlateField      string `yaml:"plateField"`
	CodeField       string `yaml:"codeField"`
	SubmitButton    string `yaml:"submitButton"`
	ResultContainer string `yaml:"resultContainer"`
	PassPhrase      string `yaml:"passPhrase"`
	WrongCodePhrase string `yaml:"wrongCodePhrase"`
	Steps           Steps  `yaml:"steps"`
}

type InsuranceConfig struct {
	URL             string `yaml:"url"`
	PlateField      string `yaml:"plateField"`
	AltchaCheckbox  string `yaml:"altchaCheckbox"`
	AltchaWidget    string `yaml:"altchaWidget"`
	SubmitButton    string `yaml:"submitButton"`
	ResultContainer string `yaml:"resultContainer"`
	ResultTable     string `yaml:"resultTable"`
	ValidPhrase     string `yaml:"validPhrase"`
	AltchaVerifySec int    `yaml:"altchaVerifySec"`
	Steps           Steps  `yaml:"steps"`
}

type VignetteConfig struct {
	URL             string `yaml:"url"`
	PlateField      string `yaml:"plateField"`
	SubmitButton    string `yaml:"submitButton"`
	ResultContainer string `yaml:"resultContainer"`
	ActivePhrase    string `yaml:"activePhrase"`
	Steps           Steps  `yaml:"steps"`
}

type FinesConfig struct {
	URL               string `yaml:"url"`
	NationalIDField   string `yaml:"nationalIdField"`
	LicenseField      string `yaml:"licenseField"`
	SubmitButton      string `yaml:"submitButton"`
	BannerSelector    string `yaml:"bannerSelector"`
	BoilerplatePhrase string `yaml:"boilerplatePhrase"`
	NoFinesPhrase     string `yaml:"noFinesPhrase"`
	Steps             Steps  `yaml:"steps"`
}

func defaultSteps() Steps {
	return Steps{NavigateSec: 60, SelectorSec: 30, ResultSec: 20, TypeDelayMS: 60, PollMS: 250}
}

// NewConfig returns the built-in defaults, pointed at the live portals.
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Sqlite.Dsn = "vehicheck.sqlite3"
	c.Sqlite.Prefix = "vehicheck_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "vehicheck.log"
	c.Snapshot.Dir = "snapshots"
	c.Snapshot.Enabled = true

	c.Browser = BrowserConfig{
		Bin:             "chromium",
		Headless:        true,
		Args:            []string{"--no-sandbox", "--disable-setuid-sandbox"},
		ProbeTimeoutSec: 15,
		WindowWidth:     1920,
		WindowHeight:    1080,
	}

	c.Inspection = InspectionConfig{
		URL:             "https://rta.government.bg/services/check-inspection/index.html",
		CaptchaImage:    ".captcha img",
		PlateField:      "input[name=\"plate\"]",
		CodeField:       "input[name=\"code\"]",
		SubmitButton:    "button[type=\"submit\"]",
		ResultContainer: ".check-result",
		PassPhrase:      "има валиден",
		WrongCodePhrase: "грешен код",
		Steps:           defaultSteps(),
	}
	c.Insurance = InsuranceConfig{
		URL:             "https://www.guaranteefund.org/bg/информационен-център-и-справки/услуги/проверка-за-валидна-застраховка-гражданска-отговорност-на-автомобилистите",
		PlateField:      "#dkn",
		AltchaCheckbox:  "input[name=\"altcha_checkbox\"]",
		AltchaWidget:    ".altcha",
		SubmitButton:    "input[name=\"send\"]",
		ResultContainer: "#printresult",
		ResultTable:     "table.success-results",
		ValidPhrase:     "има валидна",
		AltchaVerifySec: 20,
		Steps:           defaultSteps(),
	}
	c.Vignette = VignetteConfig{
		URL:             "https://check.bgtoll.bg/",
		PlateField:      ".CarRegistrationForm input",
		SubmitButton:    ".CarRegistrationForm .btn-success",
		ResultContainer: ".CheckResult",
		ActivePhrase:    "активна",
		Steps: Steps{
			NavigateSec: 30, SelectorSec: 15, ResultSec: 10, TypeDelayMS: 100, PollMS: 250,
		},
	}
	c.Fines = FinesConfig{
		URL:               "https://e-uslugi.mvr.bg/services/kat-obligations",
		NationalIDField:   "input[name=\"egn\"]",
		LicenseField:      "input[name=\"licenseNumber\"]",
		SubmitButton:      "button[type=\"submit\"]",
		BannerSelector:    ".alert",
		BoilerplatePhrase: "проверката се извършва по",
		NoFinesPhrase:     "няма незаплатени задължения",
		Steps:             defaultSteps(),
	}
	return c
}

// Load reads a yaml file over the defaults; a missing file is not an error.
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}
