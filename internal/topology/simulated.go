package topology

import (
	"fmt"

	"fogpulse/internal/models"
)

// Simulated returns the specs of a three-tier farm network: one cloud
// aggregator, fogs zone supervisors under it, and edgesPerFog field sensors
// under each zone.
func Simulated(fogs, edgesPerFog int) []NodeSpec {
	specs := []NodeSpec{{ID: "cloud-01", Tier: models.TierCloud}}
	edge := 1
	for f := 1; f <= fogs; f++ {
		fogID := fmt.Sprintf("fog-%02d", f)
		specs = append(specs, NodeSpec{ID: fogID, Tier: models.TierFog, Parent: "cloud-01"})
		for e := 0; e < edgesPerFog; e++ {
			specs = append(specs, NodeSpec{
				ID:     fmt.Sprintf("edge-%02d", edge),
				Tier:   models.TierEdge,
				Parent: fogID,
			})
			edge++
		}
	}
	return specs
}
