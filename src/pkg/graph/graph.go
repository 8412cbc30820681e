package graph

import (
	log "github.com/sirupsen/logrus"

	"github.com/UKHSA-Internal/tfstack-pipeline/src/pkg/models"
)

var logger = log.WithField("package", "graph")

// Waves groups stacks into dependency levels: every stack lands in a wave
// strictly after all of its dependencies, so waves can be processed in order
// with full parallelism inside each wave. Dependencies naming stacks absent
// from the input (filtered out of the run) do not constrain scheduling.
//
// The second return value lists stacks that cannot be scheduled because they
// sit on, or depend on, a circular dependency chain. Input order is preserved
// within each wave and within the remainder.
func Waves(stacks []*models.Stack) ([][]*models.Stack, []*models.Stack) {
	byName := make(map[string]*models.Stack, len(stacks))
	for _, stack := range stacks {
		byName[stack.Name] = stack
	}

	// indegree counts distinct in-run dependencies; dependents is the
	// reverse adjacency used to release them as waves complete
	indegree := make(map[string]int, len(stacks))
	dependents := make(map[string][]string)
	for _, stack := range stacks {
		seen := make(map[string]bool)
		for _, dep := range stack.Dependencies {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			if dep == stack.Name {
				indegree[stack.Name]++ // self-reference never resolves
				continue
			}
			if _, inRun := byName[dep]; !inRun {
				continue
			}
			indegree[stack.Name]++
			dependents[dep] = append(dependents[dep], stack.Name)
		}
	}

	var waves [][]*models.Stack
	remaining := stacks
	for len(remaining) > 0 {
		var wave []*models.Stack
		var blocked []*models.Stack
		for _, stack := range remaining {
			if indegree[stack.Name] == 0 {
				wave = append(wave, stack)
			} else {
				blocked = append(blocked, stack)
			}
		}
		if len(wave) == 0 {
			// everything left is on or behind a cycle
			break
		}
		for _, stack := range wave {
			for _, dependent := range dependents[stack.Name] {
				indegree[dependent]--
			}
		}
		waves = append(waves, wave)
		remaining = blocked
	}

	if len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for _, stack := range remaining {
			names = append(names, stack.Name)
		}
		logger.WithField("stacks", names).Warn("Stacks blocked by a circular dependency chain")
	}
	return waves, remaining
}
