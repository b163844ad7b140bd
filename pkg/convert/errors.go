package convert

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaLocked is returned when a submission is blocked because the
	// current plan has no remaining allowance. No network call is issued.
	ErrQuotaLocked = errors.New("quota locked")

	// ErrBusy is returned when a submission is already in flight.
	ErrBusy = errors.New("conversion already in flight")

	// ErrNoFile is returned when Submit is called without a file.
	ErrNoFile = errors.New("no file selected")

	// ErrNotPDF is returned when a successful response is not a PDF.
	ErrNotPDF = errors.New("unexpected non-PDF response")

	// ErrNoResult is returned by DownloadAnyway when no PDF is held.
	ErrNoResult = errors.New("no result to download")
)

// RequestError carries a server-reported render failure.
type RequestError struct {
	Status  int
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("render failed with status %d", e.Status)
}
