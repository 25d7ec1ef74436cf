package scf

// categoricalFields lists the coded columns that get a descriptive
// <field>_lbl column, in output order.
var categoricalFields = []string{
	"hhsex", "edcl", "married", "lf", "racecl", "racecl4", "racecl5", "race",
}

// categoryLabels maps each coded column to its code labels, following
// the codebook of the summary extract.
var categoryLabels = map[string]map[int]string{
	"hhsex": {
		0: "inap.",
		1: "male",
		2: "female",
	},
	"edcl": {
		1: "no high school diploma/GED",
		2: "high school diploma or GED",
		3: "some college or Assoc. degree",
		4: "Bachelors degree or higher",
	},
	"married": {
		1: "married/living with partner",
		2: "neither married nor living with partner",
	},
	"lf": {
		0: "working in some way",
		1: "not working at all",
	},
	"racecl": {
		1: "white non-Hispanic",
		2: "nonwhite or Hispanic",
	},
	"racecl4": {
		1: "white non-Hispanic",
		2: "black/African-American non-Hispanic",
		3: "Hispanic or Latino",
		4: "Other or Multiple race",
	},
	"racecl5": {
		1: "white non-Hispanic",
		2: "black/African-American non-Hispanic",
		3: "Hispanic or Latino",
		4: "Asian",
		5: "Other or Multiple race",
	},
	"race": {
		1: "white non-Hispanic",
		2: "black/African-American",
		3: "Hispanic",
		4: "Asian",
		5: "other",
	},
}

// CategoryLabel returns the label of code in the named field.
func CategoryLabel(field string, code int) (string, bool) {
	lab, ok := categoryLabels[field][code]
	return lab, ok
}

// Age groups: right-closed five year bins with edges 20, 25, ..., 95.
const (
	ageBinLow   = 20
	ageBinHigh  = 95
	ageBinWidth = 5
)
