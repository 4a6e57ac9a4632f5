// Package match holds the pure matching core: resolving an intent's criteria
// against a container inventory and deciding whether a version pair counts as
// an available update. Nothing here touches the database or the network.
package match

import "updock/internal/domain"

// Resolve returns the containers satisfying the intent's criteria, preserving
// the inventory's order. Comparisons are case-sensitive exact matches; a
// stack-service criteria requires both labels to match on the same container.
func Resolve(criteria domain.Criteria, inventory []domain.ContainerSnapshot) []domain.ContainerSnapshot {
	var out []domain.ContainerSnapshot
	for _, c := range inventory {
		if matches(criteria, c) {
			out = append(out, c)
		}
	}
	return out
}

func matches(criteria domain.Criteria, c domain.ContainerSnapshot) bool {
	switch criteria.Kind {
	case domain.CriteriaImageRepo:
		return c.ImageRepo == criteria.ImageRepo
	case domain.CriteriaStackService:
		return c.StackName == criteria.StackName && c.ServiceName == criteria.ServiceName
	case domain.CriteriaContainerName:
		return c.Name == criteria.ContainerName
	}
	return false
}
