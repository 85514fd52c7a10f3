package monitoring

import (
	"sort"
	"sync"
	"time"
)

type mutationStats struct {
	outcomes map[string]uint64
	lastAt   time.Time
}

type statStore struct {
	mu sync.Mutex

	allowed      uint64
	denied       uint64
	errors       uint64
	byProvenance map[string]uint64

	mutations     map[string]*mutationStats
	invalidations map[string]uint64
	jobs          map[string]*MaintenanceJobSummary
}

func newStatStore() *statStore {
	return &statStore{
		byProvenance:  map[string]uint64{},
		mutations:     map[string]*mutationStats{},
		invalidations: map[string]uint64{},
		jobs:          map[string]*MaintenanceJobSummary{},
	}
}

func (s *statStore) recordDecision(result, provenance string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch result {
	case "allow":
		s.allowed++
		s.byProvenance[provenance]++
	case "deny":
		s.denied++
	default:
		s.errors++
	}
}

func (s *statStore) recordMutation(operation, outcome string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.mutations[operation]
	if !ok {
		entry = &mutationStats{outcomes: map[string]uint64{}}
		s.mutations[operation] = entry
	}
	entry.outcomes[outcome]++
	entry.lastAt = at
}

func (s *statStore) recordInvalidation(kind string) {
	s.mu.Lock()
	s.invalidations[kind]++
	s.mu.Unlock()
}

func (s *statStore) recordJob(run MaintenanceRun, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[run.Job]
	if !ok {
		job = &MaintenanceJobSummary{Job: run.Job}
		s.jobs[run.Job] = job
	}

	job.LastStatus = run.Result
	job.LastRunAt = at
	job.LastDuration = run.Duration
	job.LastError = run.Message
	job.LastRemoved = run.Removed
	job.TotalRemoved += run.Removed
	job.TotalRuns++
	if run.Result == "success" {
		job.LastSuccessAt = at
		job.ConsecutiveFailures = 0
	} else {
		job.ConsecutiveFailures++
	}
}

func (s *statStore) summary(now time.Time) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Summary{
		GeneratedAt: now,
		Decisions: DecisionSummary{
			Allowed:      s.allowed,
			Denied:       s.denied,
			Errors:       s.errors,
			ByProvenance: copyCounts(s.byProvenance),
		},
		Mutations:     make([]MutationSummary, 0, len(s.mutations)),
		Invalidations: copyCounts(s.invalidations),
		Maintenance:   MaintenanceSummary{Jobs: make([]MaintenanceJobSummary, 0, len(s.jobs))},
	}

	for op, entry := range s.mutations {
		out.Mutations = append(out.Mutations, MutationSummary{
			Operation: op,
			Outcomes:  copyCounts(entry.outcomes),
			LastAt:    entry.lastAt,
		})
	}
	sort.Slice(out.Mutations, func(i, j int) bool { return out.Mutations[i].Operation < out.Mutations[j].Operation })

	for _, job := range s.jobs {
		out.Maintenance.Jobs = append(out.Maintenance.Jobs, *job)
	}
	sort.Slice(out.Maintenance.Jobs, func(i, j int) bool { return out.Maintenance.Jobs[i].Job < out.Maintenance.Jobs[j].Job })

	return out
}

func copyCounts(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
