package engine

import (
	"context"
	"errors"

	"applyflow-engine/internal/domain"
	"applyflow-engine/internal/profile"
)

// Checkpoint names. Checkpoints are durable progress breadcrumbs inside
// the filling state, each with its own timeout; they are not states.
const (
	CheckpointLoad    = "load"
	CheckpointFill    = "fill"
	CheckpointSubmit  = "submit"
	CheckpointConfirm = "confirm"
)

var (
	// ErrBlocked is the anti-automation signal: CAPTCHA, login wall,
	// anomalous redirect. Never retried automatically.
	ErrBlocked = errors.New("engine: anti-automation signal detected")

	// ErrMissingField means the form demands data the profile cannot
	// supply. A data integrity failure: terminal, no retry.
	ErrMissingField = errors.New("engine: required form field cannot be filled")
)

// Driver executes checkpoints of one submission attempt against a live
// ATS form. The engine owns the sequencing; the driver owns the page
// mechanics. Any error other than ErrBlocked/ErrMissingField is treated
// as transient.
type Driver interface {
	// Load navigates to the apply page and locates the form.
	Load(ctx context.Context, sess *Session, p domain.JobPosting) error
	// Fill enters the applicant's data into the located form.
	Fill(ctx context.Context, sess *Session, p domain.JobPosting, prof profile.Profile) error
	// Submit posts the form. Not called for prefill-only strategies.
	Submit(ctx context.Context, sess *Session) error
	// Confirm reports whether confirmation evidence was observed. A
	// bare page navigation is not evidence.
	Confirm(ctx context.Context, sess *Session) (bool, error)
}

// DriverFactory picks a driver for a classified platform.
type DriverFactory func(platform string) Driver
