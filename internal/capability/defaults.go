package capability

import "github.com/fleetworks/searchd/internal/lexicon"

// DefaultDefinitions is the built-in fleet-maintenance capability set.
func DefaultDefinitions() []Definition {
	return []Definition{
		{
			Name:       "fault_code_lookup",
			Triggers:   []lexicon.EntityType{lexicon.TypeFaultCode},
			Collection: "fault_codes",
			Field:      "fault_code",
			Strategies: []Strategy{StrategyExact, StrategyFuzzy},
			Priority:   0,
		},
		{
			Name:       "part_lookup",
			Triggers:   []lexicon.EntityType{lexicon.TypePartNumber},
			Collection: "parts",
			Field:      "part_number",
			Strategies: []Strategy{StrategyExact, StrategyFuzzy},
			Priority:   1,
		},
		{
			Name:       "work_order_search",
			Triggers:   []lexicon.EntityType{lexicon.TypeSymptom, lexicon.TypeActionVerb, lexicon.TypeEquipment, lexicon.TypeFaultCode},
			Collection: "work_orders",
			Strategies: []Strategy{StrategyFuzzy, StrategyVector},
			Priority:   2,
		},
		{
			Name:       "equipment_search",
			Triggers:   []lexicon.EntityType{lexicon.TypeEquipment, lexicon.TypeBrand},
			Collection: "equipment",
			Strategies: []Strategy{StrategyFuzzy, StrategyVector},
			Priority:   3,
		},
		{
			Name:       "inventory_status",
			Triggers:   []lexicon.EntityType{lexicon.TypeStockStatus, lexicon.TypePartNumber},
			Collection: "parts",
			Strategies: []Strategy{StrategyFuzzy},
			Priority:   4,
		},
		{
			Name:       "document_search",
			Triggers:   []lexicon.EntityType{lexicon.TypeDocumentType, lexicon.TypeSymptom},
			Collection: "documents",
			Strategies: []Strategy{StrategyFuzzy, StrategyVector},
			Priority:   5,
		},
	}
}

// DefaultNoCapability lists entity types that qualify other entities but
// never trigger retrieval on their own.
func DefaultNoCapability() []lexicon.EntityType {
	return []lexicon.EntityType{
		lexicon.TypeMeasurement,
		lexicon.TypeLocation,
	}
}

// NewDefaultRegistry builds the built-in registry. It panics on error since
// the default set is validated by construction and tests.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultDefinitions(), DefaultNoCapability())
	if err != nil {
		panic(err)
	}
	return r
}
