package recon

import (
	"strings"

	domain "github.com/gh0stshe11/reconpilot/internal/domain/recon"
)

const (
	baseCriticality = 10.0
	maxCriticality  = 100.0
)

var (
	adminKeywords     = []string{"admin", "login", "portal", "dashboard"}
	nonProdKeywords   = []string{"dev", "staging", "test", "debug"}
	sensitiveKeywords = []string{".git", ".env", "config", "backup", ".sql", ".db"}
	apiKeywords       = []string{"/api/", "/v1/", "/v2/", "graphql"}
	databasePorts     = []int{3306, 5432, 27017, 6379, 1433}
)

// Criticality scores an asset between 10 and 100 from its identifier and
// exposed services. Each modifier applies at most once.
func Criticality(a *domain.Asset) float64 {
	id := strings.ToLower(a.Identifier())
	score := baseCriticality

	if containsAny(id, adminKeywords) {
		score += 50
	}
	if containsAny(id, nonProdKeywords) {
		score += 30
	}
	for _, p := range databasePorts {
		if a.HasPort(p) {
			score += 40
			break
		}
	}
	if containsAny(id, sensitiveKeywords) {
		score += 35
	}
	if containsAny(id, apiKeywords) {
		score += 25
	}

	return min(score, maxCriticality)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
