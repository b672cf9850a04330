package security

import (
	"fmt"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// SecretFinding is a secret detected in content about to be written.
type SecretFinding struct {
	RuleID      string
	Description string
	Line        int
}

// DetectSecrets scans text with the default gitleaks rule set.
func DetectSecrets(text string) ([]SecretFinding, error) {
	if text == "" {
		return nil, nil
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	findings := detector.DetectString(text)
	out := make([]SecretFinding, 0, len(findings))
	for _, f := range findings {
		out = append(out, SecretFinding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
		})
	}
	return out, nil
}
