package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fieldserve/trellis/config"
	"github.com/fieldserve/trellis/pkg/models"
)

func allPhasesConfig() *config.Config {
	return &config.Config{
		QBCompanyProbeEnabled:   true,
		QBInventoryEnabled:      true,
		QBServiceItemsEnabled:   true,
		QBNonInventoryEnabled:   true,
		QBOtherChargeEnabled:    true,
		QBSalesTaxItemsEnabled:  true,
		QBSalesTaxGroupsEnabled: true,
		QBCustomersEnabled:      true,
	}
}

func TestPlan_FullWalk(t *testing.T) {
	plan := NewPlan(allPhasesConfig())

	assert.Equal(t, 8, plan.Len())
	assert.Equal(t, models.PhaseCompany, plan.First())

	walk := []models.Phase{plan.First()}
	for {
		next := plan.Next(walk[len(walk)-1])
		if next == models.PhaseDone {
			break
		}
		walk = append(walk, next)
	}

	assert.Equal(t, []models.Phase{
		models.PhaseCompany,
		models.PhaseInventoryItems,
		models.PhaseServiceItems,
		models.PhaseNonInventoryItems,
		models.PhaseOtherChargeItems,
		models.PhaseSalesTaxItems,
		models.PhaseSalesTaxGroups,
		models.PhaseCustomers,
	}, walk)
}

func TestPlan_DisabledPhasesAreSkipped(t *testing.T) {
	cfg := allPhasesConfig()
	cfg.QBServiceItemsEnabled = false
	cfg.QBNonInventoryEnabled = false
	plan := NewPlan(cfg)

	assert.Equal(t, 6, plan.Len())
	assert.Equal(t, models.PhaseOtherChargeItems, plan.Next(models.PhaseInventoryItems))
}

func TestPlan_AllDisabled(t *testing.T) {
	plan := NewPlan(&config.Config{})

	assert.Equal(t, 0, plan.Len())
	assert.Equal(t, models.PhaseDone, plan.First())
	assert.Equal(t, models.PhaseDone, plan.Next(models.PhaseCompany))
}

func TestPlan_NextFromUnknownPhase(t *testing.T) {
	plan := NewPlan(allPhasesConfig())
	assert.Equal(t, models.PhaseDone, plan.Next(models.PhaseInvoiceAdd))
}

func TestPlan_Progress(t *testing.T) {
	plan := NewPlan(allPhasesConfig())

	// never 0 or 100 while a phase is still running
	assert.Equal(t, 1, plan.Progress(models.PhaseCompany))
	assert.Equal(t, 50, plan.Progress(models.PhaseOtherChargeItems))
	assert.Equal(t, 87, plan.Progress(models.PhaseCustomers))
	assert.Equal(t, 100, plan.Progress(models.PhaseDone))
}

func TestPlan_FirstOtherItemPhase(t *testing.T) {
	assert.Equal(t, models.PhaseNonInventoryItems, NewPlan(allPhasesConfig()).firstOtherItemPhase())

	cfg := allPhasesConfig()
	cfg.QBNonInventoryEnabled = false
	assert.Equal(t, models.PhaseOtherChargeItems, NewPlan(cfg).firstOtherItemPhase())

	cfg.QBOtherChargeEnabled = false
	cfg.QBSalesTaxItemsEnabled = false
	cfg.QBSalesTaxGroupsEnabled = false
	assert.Equal(t, models.PhaseDone, NewPlan(cfg).firstOtherItemPhase())
}
