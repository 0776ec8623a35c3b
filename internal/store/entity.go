package store

// Entity names one of the reference tables keyed by a unique natural key.
type Entity string

// Reference tables backing the listing row's foreign keys.
const (
	EntitySourceSite   Entity = "car_source_site"
	EntityBody         Entity = "car_body"
	EntityMark         Entity = "car_mark"
	EntityModel        Entity = "car_model"
	EntityTransmission Entity = "car_transmission"
	EntityGearbox      Entity = "car_gearbox"
	EntityFuelType     Entity = "car_fuel_type"
)

// Entities lists every reference table in preload order.
var Entities = []Entity{
	EntitySourceSite,
	EntityBody,
	EntityMark,
	EntityModel,
	EntityTransmission,
	EntityGearbox,
	EntityFuelType,
}

// Table returns the table name.
func (e Entity) Table() string {
	return string(e)
}

// Column returns the column holding the natural key.
func (e Entity) Column() string {
	switch e {
	case EntitySourceSite:
		return "site"
	case EntityTransmission:
		return "name"
	default:
		return "kr_name"
	}
}

// Valid reports whether e is a known reference table.
func (e Entity) Valid() bool {
	for _, known := range Entities {
		if e == known {
			return true
		}
	}
	return false
}
