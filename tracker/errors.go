package tracker

import "errors"

var (
	// ErrWouldOverwrite is returned by FetchKeywords when the keyword region
	// already holds data and force was not set.
	ErrWouldOverwrite = errors.New("keyword region already holds data")

	// ErrNoPrimaryASIN is returned when the settings table has no primary ASIN.
	ErrNoPrimaryASIN = errors.New("primary ASIN is not set")

	// ErrRunInProgress is returned when a trigger arrives while another run
	// is still executing.
	ErrRunInProgress = errors.New("a run is already in progress")
)
