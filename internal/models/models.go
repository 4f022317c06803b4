package models

// InputRecord is one beneficiary row of the source spreadsheet.
type InputRecord struct {
	Row            int // 1-based spreadsheet row, for log messages
	Beneficiary    string
	GrantNumber    string
	ChargePointIDs []string // column order, empty cells skipped
}

// RegistryEntry is one charge point known to the registry.
type RegistryEntry struct {
	EvseID string `json:"EvseID"`
}

// UnmatchedEntry is an identifier of a record that the registry does not know.
type UnmatchedEntry struct {
	GrantNumber string
	EvseID      string
}

type ReconciliationResult struct {
	Confirmed []string
	Unmatched []UnmatchedEntry
}

// CertificateFields are the values written into a certificate template.
type CertificateFields struct {
	Beneficiary    string
	GrantNumber    string
	Date           string // DD/MM/YYYY
	ChargePointIDs []string
}
