package wizard

import (
	"time"

	"pfmt/internal/domain"
	"pfmt/internal/workflow"
)

// Snapshot captures the wizard for persistence, stamped with the owner.
func (s *Store) Snapshot(userID, userRole string) domain.StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StateSnapshot{
		ProjectID:      s.state.ProjectID,
		Timestamp:      s.now().UTC().Format(time.RFC3339Nano),
		UserID:         userID,
		UserRole:       userRole,
		Initiation:     s.initiation,
		Assignment:     s.assignment,
		Overview:       s.overview,
		Vendors:        cloneVendors(s.vendors),
		Budget:         cloneBudget(s.budget),
		Milestone:      cloneMilestones(s.milestone),
		DirtySections:  s.dirtySectionsLocked(),
		WorkflowStatus: string(s.state.WorkflowStatus),
	}
}

// ApplySnapshot replaces the wizard with snap. The owner check is the
// caller's job. Responses outstanding for another project are discarded.
func (s *Store) ApplySnapshot(snap domain.StateSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ProjectID != s.state.ProjectID {
		s.gen++
		s.state = ProjectState{ProjectID: snap.ProjectID}
	}
	s.state.WorkflowStatus = workflow.ParseStatus(snap.WorkflowStatus)
	s.initiation = snap.Initiation
	s.assignment = snap.Assignment
	s.overview = snap.Overview
	s.vendors = cloneVendors(snap.Vendors)
	s.budget = cloneBudget(snap.Budget)
	s.milestone = cloneMilestones(snap.Milestone)
	s.dirty = map[domain.Section]bool{}
	for _, sec := range snap.DirtySections {
		s.markDirtyLocked(sec)
	}
	s.err = ""
}
