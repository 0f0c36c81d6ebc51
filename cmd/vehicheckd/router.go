package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vehicheck/internal/check"
	"vehicheck/internal/logger"
	"vehicheck/pkg/model"
)

type checkBody struct {
	UserKey       string `json:"userKey"`
	Plate         string `json:"plate"`
	NationalID    string `json:"nationalId"`
	LicenseNumber string `json:"licenseNumber"`
	CaptchaAnswer string `json:"captchaAnswer"`
}

func newRouter(svc *check.Service, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute)) // portal flows are slow by nature

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/check/inspection/start", func(w http.ResponseWriter, req *http.Request) {
		b, ok := decode(w, req)
		if !ok {
			return
		}
		ch, err := svc.StartInspection(req.Context(), model.UserKey(b.UserKey), b.Plate)
		if err != nil {
			writeFailure(w, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"captchaImage": "data:" + ch.MIME + ";base64," + base64.StdEncoding.EncodeToString(ch.Image),
		})
	})

	r.Post("/check/inspection/submit", func(w http.ResponseWriter, req *http.Request) {
		b, ok := decode(w, req)
		if !ok {
			return
		}
		res, err := svc.SubmitInspection(req.Context(), model.UserKey(b.UserKey), b.Plate, b.CaptchaAnswer)
		respond(w, log, res, err)
	})

	r.Post("/check/insurance", func(w http.ResponseWriter, req *http.Request) {
		b, ok := decode(w, req)
		if !ok {
			return
		}
		res, err := svc.RunInsurance(req.Context(), model.UserKey(b.UserKey), b.Plate)
		respond(w, log, res, err)
	})

	r.Post("/check/vignette", func(w http.ResponseWriter, req *http.Request) {
		b, ok := decode(w, req)
		if !ok {
			return
		}
		res, err := svc.RunVignette(req.Context(), model.UserKey(b.UserKey), b.Plate)
		respond(w, log, res, err)
	})

	r.Post("/check/fines", func(w http.ResponseWriter, req *http.Request) {
		b, ok := decode(w, req)
		if !ok {
			return
		}
		res, err := svc.RunFines(req.Context(), model.UserKey(b.UserKey), b.Plate, b.NationalID, b.LicenseNumber)
		respond(w, log, res, err)
	})

	return r
}

func decode(w http.ResponseWriter, req *http.Request) (checkBody, bool) {
	var b checkBody
	if err := json.NewDecoder(req.Body).Decode(&b); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return b, false
	}
	if b.UserKey == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "userKey is required"})
		return b, false
	}
	return b, true
}

func respond(w http.ResponseWriter, log logger.Logger, res any, err error) {
	if err != nil {
		writeFailure(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeFailure(w http.ResponseWriter, log logger.Logger, err error) {
	if errors.Is(err, context.Canceled) {
		// client went away; nothing useful to write
		return
	}
	f, ok := model.AsFailure(err)
	if !ok {
		log.Err(err, "unclassified check error")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, statusFor(f.Kind), map[string]any{
		"kind":      string(f.Kind),
		"message":   f.Message,
		"retriable": f.Retriable(),
	})
}

func statusFor(kind model.FailureKind) int {
	switch kind {
	case model.EnvironmentError:
		return http.StatusServiceUnavailable
	case model.NavigationError, model.Timeout:
		return http.StatusGatewayTimeout
	case model.ValidationRejected:
		return http.StatusUnprocessableEntity
	case model.ExtractionError:
		return http.StatusBadGateway
	case model.SessionExpired:
		return http.StatusGone
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
