package ingest

import "context"

// Scanner inspects uploaded bytes for malware. No antivirus client exists
// anywhere in the example pack (original_source's ClamAV integration is
// behind a Cargo feature flag and optional even there), so Scanner is a
// narrow interface with NoopScanner as the only implementation: it always
// reports clean. A real scanner slots in later by implementing Scanner;
// AntivirusEnabled/AntivirusFailClosed in Config already carry the policy a
// real scanner's errors would need.
type Scanner interface {
	Scan(ctx context.Context, data []byte) (infected bool, err error)
}

// NoopScanner always reports the input clean.
type NoopScanner struct{}

func (NoopScanner) Scan(ctx context.Context, data []byte) (bool, error) { return false, nil }
