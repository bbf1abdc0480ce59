package recon

// Hint is an adapter suggested follow-up. Hints go through the same scope,
// mode and idempotence checks as rule output.
type Hint struct {
	Tool   string
	Target string
	Params map[string]string
	Reason string
}

// Discovery is the normalized output of one tool run. It is consumed once by
// the rule engine and never persisted itself.
type Discovery struct {
	Assets   []AssetObservation
	Findings []FindingObservation
	Hints    []Hint
}

// IsEmpty reports whether the discovery carries nothing to ingest.
func (d Discovery) IsEmpty() bool {
	return len(d.Assets) == 0 && len(d.Findings) == 0 && len(d.Hints) == 0
}
