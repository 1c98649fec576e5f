package plan

// EnsureConsistency enforces the structural invariants of a plan in place:
// ordered ids are unique, waves, dependencies and confidence scores only
// reference surviving ids, and every surviving id carries exactly one
// annotation. Running it twice is a no-op.
func EnsureConsistency(p *Plan) {
	if p == nil {
		return
	}

	seen := make(map[string]struct{}, len(p.OrderedTaskIDs))
	ordered := make([]string, 0, len(p.OrderedTaskIDs))
	for _, id := range p.OrderedTaskIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	p.OrderedTaskIDs = ordered

	waves := make([]ExecutionWave, 0, len(p.ExecutionWaves))
	for _, w := range p.ExecutionWaves {
		ids := make([]string, 0, len(w.TaskIDs))
		inWave := make(map[string]struct{}, len(w.TaskIDs))
		for _, id := range w.TaskIDs {
			if _, ok := seen[id]; !ok {
				continue
			}
			if _, dup := inWave[id]; dup {
				continue
			}
			inWave[id] = struct{}{}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			continue
		}
		w.TaskIDs = ids
		waves = append(waves, w)
	}
	p.ExecutionWaves = waves

	deps := make([]TaskDependency, 0, len(p.Dependencies))
	depSeen := make(map[DependencyKey]struct{}, len(p.Dependencies))
	for _, d := range p.Dependencies {
		if d.SourceTaskID == d.TargetTaskID {
			continue
		}
		if _, ok := seen[d.SourceTaskID]; !ok {
			continue
		}
		if _, ok := seen[d.TargetTaskID]; !ok {
			continue
		}
		if _, dup := depSeen[d.Key()]; dup {
			continue
		}
		depSeen[d.Key()] = struct{}{}
		deps = append(deps, d)
	}
	p.Dependencies = deps

	if p.ConfidenceScores == nil {
		p.ConfidenceScores = map[string]float64{}
	}
	for id := range p.ConfidenceScores {
		if _, ok := seen[id]; !ok {
			delete(p.ConfidenceScores, id)
		}
	}

	annotated := make(map[string]struct{}, len(p.TaskAnnotations))
	annotations := make([]TaskAnnotation, 0, len(p.TaskAnnotations)+len(ordered))
	for _, a := range p.TaskAnnotations {
		if _, dup := annotated[a.TaskID]; dup {
			continue
		}
		_, surviving := seen[a.TaskID]
		if !surviving && a.State != StateManualOverride {
			continue
		}
		annotated[a.TaskID] = struct{}{}
		annotations = append(annotations, a)
	}
	for _, id := range ordered {
		if _, ok := annotated[id]; ok {
			continue
		}
		a := TaskAnnotation{TaskID: id, State: StateActive}
		if c, ok := p.ConfidenceScores[id]; ok {
			c := c
			a.Confidence = &c
		}
		annotated[id] = struct{}{}
		annotations = append(annotations, a)
	}
	p.TaskAnnotations = annotations
}

// MergeDependencies folds overrides into base keyed by (source, target).
// Override edges replace base edges for the same pair and keep base order;
// new override pairs are appended in their given order.
func MergeDependencies(base, overrides []TaskDependency) []TaskDependency {
	index := make(map[DependencyKey]int, len(base)+len(overrides))
	merged := make([]TaskDependency, 0, len(base)+len(overrides))
	for _, d := range base {
		if i, ok := index[d.Key()]; ok {
			merged[i] = d
			continue
		}
		index[d.Key()] = len(merged)
		merged = append(merged, d)
	}
	for _, d := range overrides {
		if d.SourceTaskID == "" || d.TargetTaskID == "" || d.SourceTaskID == d.TargetTaskID {
			continue
		}
		if i, ok := index[d.Key()]; ok {
			merged[i] = d
			continue
		}
		index[d.Key()] = len(merged)
		merged = append(merged, d)
	}
	return merged
}
