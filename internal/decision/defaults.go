package decision

// Labels of the delivery photo model, in model output order.
const (
	UnitNumberVisible      Label = "unit_number_or_character_visible"
	PackageVisible         Label = "package_visible"
	DropoffLocationVisible Label = "dropoff_location_visible"
	PersonVisible          Label = "person_visible"
	Face                   Label = "face"
	Reflection             Label = "reflection"
	Animal                 Label = "animal"
	TooDark                Label = "too_dark"
	Blur                   Label = "blur"
	NormalImageQuality     Label = "normal_image_quality"
)

// DefaultLabels returns the delivery photo label set.
func DefaultLabels() Labels {
	return Labels{
		UnitNumberVisible,
		PackageVisible,
		DropoffLocationVisible,
		PersonVisible,
		Face,
		Reflection,
		Animal,
		TooDark,
		Blur,
		NormalImageQuality,
	}
}

// visibility builds the clause for one package/dropoff/address combination.
// Address visibility is reported by the unit number label.
func visibility(pkg, dropoff, address bool) Clause {
	return When(
		Is(PackageVisible, pkg),
		Is(DropoffLocationVisible, dropoff),
		Is(UnitNumberVisible, address),
	)
}

// DefaultRules returns the delivery photo rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Title:       "Too dark",
			ReasonCode:  "too_dark",
			Description: "⚡ Increase the light",
			Clauses:     []Clause{When(Is(TooDark, true))},
			Value:       InsufficientInformation,
			Order:       1,
		},
		{
			Title:       "None visible",
			ReasonCode:  "package_not_visible_and_dropoff_location_not_visible_and_address_not_visible",
			Description: "Point to the package, dropoff location, and address",
			Clauses: []Clause{When(
				Is(UnitNumberVisible, false),
				Is(PackageVisible, false),
				Is(DropoffLocationVisible, false),
			)},
			Value: InsufficientInformation,
			Order: 2,
		},
		{
			Title:       "Only package visible",
			ReasonCode:  "package_visible_and_dropoff_location_not_visible_and_address_not_visible",
			Description: "Include the dropoff location, and address, if possible",
			Clauses:     []Clause{visibility(true, false, false)},
			Value:       InsufficientInformation,
			Order:       3,
		},
		{
			Title:       "Only dropoff location visible",
			ReasonCode:  "package_not_visible_and_dropoff_location_visible_and_address_not_visible",
			Description: "Include the package and address if possible",
			Clauses:     []Clause{visibility(false, true, false)},
			Value:       InsufficientInformation,
			Order:       4,
		},
		{
			Title:       "Only address visible",
			ReasonCode:  "package_not_visible_and_dropoff_location_not_visible_and_address_visible",
			Description: "Include the package and dropoff location if possible",
			Clauses:     []Clause{visibility(false, false, true)},
			Value:       InsufficientInformation,
			Order:       5,
		},
		{
			Title:       "Only Package not visible",
			ReasonCode:  "package_not_visible_and_dropoff_location_visible_and_address_visible",
			Description: "Include the package in the image",
			Clauses:     []Clause{visibility(false, true, true)},
			Value:       InsufficientInformation,
			Order:       6,
		},
		{
			Title:       "Only dropoff location not visible",
			ReasonCode:  "package_visible_and_dropoff_location_not_visible_and_address_visible",
			Description: "Include dropoff location if possible",
			Clauses:     []Clause{visibility(true, false, true)},
			Value:       InsufficientInformation,
			Order:       7,
		},
		{
			Title:       "Only address not visible",
			ReasonCode:  "package_visible_and_dropoff_location_visible_and_address_not_visible",
			Description: "Include address if possible",
			Clauses:     []Clause{visibility(true, true, false)},
			Value:       InsufficientInformation,
			Order:       8,
		},
		{
			Title:       "✅ All visible",
			ReasonCode:  "package_visible_and_dropoff_location_visible_and_address_visible",
			Description: "Package, address, and drop-off location are visible",
			Clauses:     []Clause{visibility(true, true, true)},
			Value:       InsufficientInformation,
			Order:       9,
		},
		{
			Title:       "No clear decision",
			ReasonCode:  "no_clear_decision",
			Description: "Unable to assess the photo with positive delivery decision",
			Clauses:     []Clause{Always()},
			Value:       InsufficientInformation,
			Order:       10,
		},
	}
}

// DefaultTable returns the validated delivery photo table.
func DefaultTable() *Table {
	return MustTable(DefaultLabels(), DefaultRules())
}
