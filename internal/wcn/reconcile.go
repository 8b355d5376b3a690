package wcn

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/ferrous-erp/ferrous/internal/collection"
)

// reconciledLine is one material line after merging verified quantities
// into the stored item set. Existing is nil for late-discovered items.
type reconciledLine struct {
	Existing        *collection.CollectionItem
	MaterialID      int64
	Quantity        decimal.Decimal
	Rate            decimal.Decimal
	RateAgreed      bool
	Source          QuantitySource
	QualityGrade    string
	QualityVerified bool
	Condition       string
}

// TotalValue is the line's quantity priced at its rate.
func (l reconciledLine) TotalValue() decimal.Decimal {
	return l.Quantity.Mul(l.Rate)
}

// reconcileItems merges caller-verified quantities into the stored items.
// Verified entries match by material id; entries flagged as new are
// appended. Unverified items keep their stored collected quantity, falling
// back to the planned available/estimated quantity only when the stored
// value is zero. Lines with a non-positive final quantity are dropped.
func reconcileItems(items []collection.CollectionItem, verified []VerifiedItem) ([]reconciledLine, error) {
	byMaterial := make(map[int64]VerifiedItem, len(verified))
	for _, v := range verified {
		if v.IsNewItem {
			continue
		}
		if _, dup := byMaterial[v.MaterialID]; dup {
			return nil, fmt.Errorf("%w: duplicate verified entry for material %d", ErrValidation, v.MaterialID)
		}
		byMaterial[v.MaterialID] = v
	}

	lines := make([]reconciledLine, 0, len(items)+len(verified))
	matched := make(map[int64]bool, len(byMaterial))
	for i := range items {
		item := items[i]
		line := reconciledLine{
			Existing:        &items[i],
			MaterialID:      item.MaterialID,
			Rate:            item.ContractRate,
			QualityGrade:    item.QualityGrade,
			QualityVerified: item.QualityVerified,
			Condition:       item.MaterialCondition,
		}
		if v, ok := byMaterial[item.MaterialID]; ok {
			matched[item.MaterialID] = true
			line.Quantity = v.VerifiedQuantity
			line.Source = SourceVerified
			if v.AgreedRate != nil {
				line.Rate = *v.AgreedRate
				line.RateAgreed = true
			}
			if v.QualityGrade != "" {
				line.QualityGrade = v.QualityGrade
			}
			if v.QualityVerified {
				line.QualityVerified = true
			}
			if v.ActualCondition != "" {
				line.Condition = v.ActualCondition
			}
		} else if item.CollectedQuantity.IsPositive() {
			line.Quantity = item.CollectedQuantity
			line.Source = SourceStored
		} else {
			// nobody verified or collected this line; trust the plan
			line.Quantity = fallbackQuantity(item)
			line.Source = SourceFallback
		}
		if line.Quantity.IsPositive() {
			lines = append(lines, line)
		}
	}

	for materialID := range byMaterial {
		if !matched[materialID] {
			return nil, fmt.Errorf("%w: verified material %d is not on the order; flag it as a new item", ErrValidation, materialID)
		}
	}

	for _, v := range verified {
		if !v.IsNewItem {
			continue
		}
		line := reconciledLine{
			MaterialID:      v.MaterialID,
			Quantity:        v.VerifiedQuantity,
			Source:          SourceVerified,
			QualityGrade:    v.QualityGrade,
			QualityVerified: v.QualityVerified,
			Condition:       v.ActualCondition,
		}
		if v.AgreedRate != nil {
			line.Rate = *v.AgreedRate
			line.RateAgreed = true
		}
		if line.Quantity.IsPositive() {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

func fallbackQuantity(item collection.CollectionItem) decimal.Decimal {
	if item.AvailableQuantity.IsPositive() {
		return item.AvailableQuantity
	}
	return item.EstimatedQuantity
}
