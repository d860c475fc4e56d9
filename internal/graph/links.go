package graph

// LinkType is the type of a directed provenance edge.
type LinkType string

const (
	LinkInputCalc LinkType = "input_calc"
	LinkInputWork LinkType = "input_work"
	LinkCreate    LinkType = "create"
	LinkReturn    LinkType = "return"
	LinkCallCalc  LinkType = "call_calc"
	LinkCallWork  LinkType = "call_work"
)

// CallLinkTypes are the edges a process records toward the sub-processes
// it launched. Kill propagation walks these.
var CallLinkTypes = []string{string(LinkCallCalc), string(LinkCallWork)}

// linkRules maps each link type to the only (source, target) category pair
// it may connect.
var linkRules = map[LinkType][2]Category{
	LinkInputCalc: {CategoryData, CategoryCalculation},
	LinkInputWork: {CategoryData, CategoryWorkflow},
	LinkCreate:    {CategoryCalculation, CategoryData},
	LinkReturn:    {CategoryWorkflow, CategoryData},
	LinkCallCalc:  {CategoryWorkflow, CategoryCalculation},
	LinkCallWork:  {CategoryWorkflow, CategoryWorkflow},
}

// ValidateLinkType checks the structural compatibility of a link between
// two node kinds.
func ValidateLinkType(source, target *KindSpec, linkType LinkType) error {
	rule, ok := linkRules[linkType]
	if !ok {
		return ValidationErrorf("unknown link type %q", linkType)
	}
	if source.Category != rule[0] || target.Category != rule[1] {
		return ValidationErrorf(
			"link type %q cannot connect %q (%s) to %q (%s)",
			linkType, source.Name, source.Category, target.Name, target.Category,
		)
	}
	return nil
}

// LinkTriple is a cached incoming link held on an unstored target (or on a
// stored target whose source is not yet stored).
type LinkTriple struct {
	Source *Node
	Type   LinkType
	Label  string
}
