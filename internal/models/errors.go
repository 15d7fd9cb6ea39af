package models

import "fmt"

// MissingPriceError reports that the underlying price for a leg was
// unavailable. The leg is excluded from matching and valuation and surfaced
// in the unvalued list; the run continues.
type MissingPriceError struct {
	Ticker     string
	Instrument string
}

func (e *MissingPriceError) Error() string {
	return fmt.Sprintf("no underlying price for %s (%s)", e.Ticker, e.Instrument)
}

// MalformedLegError reports an instrument description that failed to parse.
// The row is dropped and logged; the run continues.
type MalformedLegError struct {
	Account string
	Raw     string
	Reason  string
}

func (e *MalformedLegError) Error() string {
	return fmt.Sprintf("malformed instrument %q in account %s: %s", e.Raw, e.Account, e.Reason)
}

// AmbiguousMatchError reports that the matcher's tie-break rule could not
// deterministically choose between candidate partner legs. It is surfaced
// as a diagnostic; the matcher still picks the earliest candidate so the
// result stays deterministic.
type AmbiguousMatchError struct {
	Anchor     string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous partner match for %s: candidates %v", e.Anchor, e.Candidates)
}
