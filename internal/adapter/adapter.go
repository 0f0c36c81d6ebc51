// Package adapter holds one implementation per portal. Each adapter encodes
// that portal's navigation steps, input fields, submit action and raw
// extraction; a markup change on one portal is a change to exactly one file
// here.
package adapter

import (
	"context"
	"errors"

	"vehicheck/internal/browser"
	"vehicheck/internal/session"
	"vehicheck/pkg/model"
)

// Adapter runs one portal's full interaction sequence against a held
// session and returns the raw extraction.
type Adapter interface {
	Portal() model.Portal
	Run(ctx context.Context, sess *session.Session, req model.CheckRequest) (*model.Extraction, error)
}

// classify maps a step error onto the failure taxonomy. Context
// cancellation passes through untouched so the coordinator can tear down
// without inventing a user-facing failure; expired bounded waits become
// Timeout regardless of the step's default kind.
func classify(err error, kind model.FailureKind, step string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, browser.ErrWaitTimeout) {
		return model.Failuref(model.Timeout, "%s: %v", step, err)
	}
	return model.Failuref(kind, "%s: %v", step, err)
}
