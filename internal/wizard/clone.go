package wizard

import "pfmt/internal/domain"

func cloneVendors(v domain.Vendors) domain.Vendors {
	if v.Selected == nil {
		return v
	}
	out := make([]domain.VendorSelection, len(v.Selected))
	copy(out, v.Selected)
	return domain.Vendors{Selected: out}
}

func cloneBudget(b domain.Budget) domain.Budget {
	out := domain.Budget{TotalBudget: b.TotalBudget}
	if b.Breakdown != nil {
		out.Breakdown = make(map[string]float64, len(b.Breakdown))
		for k, v := range b.Breakdown {
			out.Breakdown[k] = v
		}
	}
	return out
}

func cloneMilestones(m domain.MilestonePlan) domain.MilestonePlan {
	if m.Milestones == nil {
		return m
	}
	out := make([]domain.Milestone, len(m.Milestones))
	copy(out, m.Milestones)
	return domain.MilestonePlan{Milestones: out}
}

func cloneProject(p domain.Project) domain.Project {
	out := p
	if p.BudgetBreakdown != nil {
		out.BudgetBreakdown = cloneBudget(domain.Budget{Breakdown: p.BudgetBreakdown}).Breakdown
	}
	if p.Vendors != nil {
		out.Vendors = cloneVendors(domain.Vendors{Selected: p.Vendors}).Selected
	}
	if p.Milestones != nil {
		out.Milestones = cloneMilestones(domain.MilestonePlan{Milestones: p.Milestones}).Milestones
	}
	return out
}
