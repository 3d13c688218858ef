package catalog

// Dimension is one of the facet dimensions the search endpoint can filter on
// and report frequencies for.
type Dimension int

// Facet dimensions, in the order the endpoint reports them.
const (
	DimDocCode Dimension = iota
	DimResourceType
	DimLitCode
	DimSubject
	DimAuthor
	DimPublisher
	DimDiscode
	DimLibCode
	DimECollection
	DimCoreInclude
	DimLocation
	DimCurLocation
	DimCampus
	DimKindNo
	DimGroup
	DimLangCode
	DimCountryCode

	dimensionCount
)

// dimensionKeys holds the wire name of each dimension. The same key is used
// for the facet map in count responses and for the filter list in requests.
var dimensionKeys = [dimensionCount]string{
	DimDocCode:      "docCode",
	DimResourceType: "resourceType",
	DimLitCode:      "litCode",
	DimSubject:      "subject",
	DimAuthor:       "author",
	DimPublisher:    "publisher",
	DimDiscode:      "discode1",
	DimLibCode:      "libCode",
	DimECollection:  "neweCollectionIds",
	DimCoreInclude:  "coreIncludes",
	DimLocation:     "locationId",
	DimCurLocation:  "curLocationId",
	DimCampus:       "campusId",
	DimKindNo:       "kindNo",
	DimGroup:        "group",
	DimLangCode:     "langCode",
	DimCountryCode:  "countryCode",
}

// Key returns the wire name of the dimension.
func (d Dimension) Key() string {
	if !d.Valid() {
		return ""
	}
	return dimensionKeys[d]
}

// String implements fmt.Stringer.
func (d Dimension) String() string {
	return d.Key()
}

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	return d >= 0 && d < dimensionCount
}

// ParseDimension resolves a wire name to its Dimension.
func ParseDimension(key string) (Dimension, bool) {
	for i, k := range dimensionKeys {
		if k == key {
			return Dimension(i), true
		}
	}
	return 0, false
}

// AllDimensions lists every dimension in declaration order.
func AllDimensions() []Dimension {
	out := make([]Dimension, dimensionCount)
	for i := range out {
		out[i] = Dimension(i)
	}
	return out
}

// DimensionNames lists the wire names of every dimension.
func DimensionNames() []string {
	out := make([]string, dimensionCount)
	copy(out, dimensionKeys[:])
	return out
}
