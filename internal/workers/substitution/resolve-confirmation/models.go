// internal/workers/substitution/resolve-confirmation/models.go
package resolveconfirmation

type Input struct {
	PostingID   string `json:"postingId"`
	CandidacyID string `json:"candidacyId"`
	Accept      bool   `json:"accept"`
}

type Output struct {
	Outcome       string `json:"outcome"`
	PostingStatus string `json:"postingStatus"`
	NextHolderID  string `json:"nextHolderId,omitempty"`
	Reopened      bool   `json:"reopened"`
	ResolvedAt    string `json:"resolvedAt"`
}
