package bridge

import (
	"github.com/fieldserve/trellis/config"
	"github.com/fieldserve/trellis/pkg/models"
)

// phaseOrder is the fixed traversal order for a bulk sync. Feature flags can
// drop phases from a plan but never reorder them.
var phaseOrder = []models.Phase{
	models.PhaseCompany,
	models.PhaseInventoryItems,
	models.PhaseServiceItems,
	models.PhaseNonInventoryItems,
	models.PhaseOtherChargeItems,
	models.PhaseSalesTaxItems,
	models.PhaseSalesTaxGroups,
	models.PhaseCustomers,
}

// Plan is the ordered set of phases enabled for bulk sync runs. Built once
// from config; immutable afterward.
type Plan struct {
	phases []models.Phase
}

func NewPlan(cfg *config.Config) Plan {
	enabled := map[models.Phase]bool{
		models.PhaseCompany:           cfg.QBCompanyProbeEnabled,
		models.PhaseInventoryItems:    cfg.QBInventoryEnabled,
		models.PhaseServiceItems:      cfg.QBServiceItemsEnabled,
		models.PhaseNonInventoryItems: cfg.QBNonInventoryEnabled,
		models.PhaseOtherChargeItems:  cfg.QBOtherChargeEnabled,
		models.PhaseSalesTaxItems:     cfg.QBSalesTaxItemsEnabled,
		models.PhaseSalesTaxGroups:    cfg.QBSalesTaxGroupsEnabled,
		models.PhaseCustomers:         cfg.QBCustomersEnabled,
	}

	var phases []models.Phase
	for _, phase := range phaseOrder {
		if enabled[phase] {
			phases = append(phases, phase)
		}
	}
	return Plan{phases: phases}
}

// First returns the opening phase, or PhaseDone when every phase is disabled.
func (p Plan) First() models.Phase {
	if len(p.phases) == 0 {
		return models.PhaseDone
	}
	return p.phases[0]
}

// Next returns the phase after current, skipping disabled ones. Walking past
// the last phase, or from an unknown phase, lands on PhaseDone.
func (p Plan) Next(current models.Phase) models.Phase {
	for i, phase := range p.phases {
		if phase == current {
			if i+1 < len(p.phases) {
				return p.phases[i+1]
			}
			return models.PhaseDone
		}
	}
	return models.PhaseDone
}

// Len reports the number of enabled phases.
func (p Plan) Len() int {
	return len(p.phases)
}

// Progress maps the current phase to a whole-percent completion figure,
// clamped to 1..99. The protocol reserves 100 for "session finished" and
// treats negatives as errors, so an in-flight session must stay inside the
// open interval.
func (p Plan) Progress(current models.Phase) int {
	if current == models.PhaseDone {
		return 100
	}
	if len(p.phases) == 0 {
		return 99
	}

	completed := 0
	for i, phase := range p.phases {
		if phase == current {
			completed = i
			break
		}
	}

	percent := completed * 100 / len(p.phases)
	if percent < 1 {
		percent = 1
	}
	if percent > 99 {
		percent = 99
	}
	return percent
}

// isOtherItemPhase reports whether the phase stages into the shared
// other-item destination.
func isOtherItemPhase(phase models.Phase) bool {
	switch phase {
	case models.PhaseNonInventoryItems, models.PhaseOtherChargeItems,
		models.PhaseSalesTaxItems, models.PhaseSalesTaxGroups:
		return true
	}
	return false
}

// firstOtherItemPhase returns the first enabled other-item phase, or
// PhaseDone when none are enabled.
func (p Plan) firstOtherItemPhase() models.Phase {
	for _, phase := range p.phases {
		if isOtherItemPhase(phase) {
			return phase
		}
	}
	return models.PhaseDone
}
