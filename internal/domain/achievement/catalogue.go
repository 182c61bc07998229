package achievement

import "fmt"

// CatalogueIssue describes a definition that can never unlock.
type CatalogueIssue struct {
	AchievementID string
	Name          string
	Problem       string
}

func (i CatalogueIssue) String() string {
	return fmt.Sprintf("%s (%s): %s", i.Name, i.AchievementID, i.Problem)
}

// ValidateCatalogue reports definitions whose criteria do not normalize or
// require a positive value from a metric without an implementation, which
// always reads 0.
func ValidateCatalogue(n *Normalizer, defs []Definition) []CatalogueIssue {
	var issues []CatalogueIssue
	for _, def := range defs {
		c, err := n.NormalizeRaw(def.Criteria)
		switch {
		case err != nil:
			issues = append(issues, CatalogueIssue{def.ID, def.Name, err.Error()})
		case !c.Metric.IsKnown() && !c.IsSatisfiedBy(0):
			issues = append(issues, CatalogueIssue{def.ID, def.Name, "unknown metric " + c.Metric.String()})
		}
	}
	return issues
}
