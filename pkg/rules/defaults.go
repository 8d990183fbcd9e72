package rules

// Default workflow tables for the built-in kinds. These mirror the lab's
// standard operating procedure: samples move through QC into analysis,
// experiments move from draft through review. ARCHIVED and DISPOSED accept
// no further transitions.

func DefaultSpec() Spec {
	return Spec{
		"sample": {
			States: []string{
				"REGISTERED",
				"QC_PENDING",
				"QC_PASSED",
				"QC_FAILED",
				"IN_ANALYSIS",
				"ANALYZED",
				"ARCHIVED",
				"DISPOSED",
			},
			Transitions: map[string][]string{
				"REGISTERED":  {"QC_PENDING", "DISPOSED"},
				"QC_PENDING":  {"QC_PASSED", "QC_FAILED"},
				"QC_PASSED":   {"IN_ANALYSIS"},
				"QC_FAILED":   {"QC_PENDING", "DISPOSED"},
				"IN_ANALYSIS": {"ANALYZED"},
				"ANALYZED":    {"ARCHIVED"},
			},
			Roles: map[string][]string{
				"QC_PENDING->QC_PASSED": {"QA"},
				"QC_PENDING->QC_FAILED": {"QA"},
				"QC_FAILED->DISPOSED":   {"LAB_MANAGER"},
				"ANALYZED->ARCHIVED":    {"LAB_MANAGER"},
			},
		},
		"experiment": {
			States: []string{
				"DRAFT",
				"ACTIVE",
				"COMPLETED",
				"REVIEWED",
				"ABORTED",
				"CANCELLED",
				"ARCHIVED",
			},
			Transitions: map[string][]string{
				"DRAFT":     {"ACTIVE", "CANCELLED"},
				"ACTIVE":    {"COMPLETED", "ABORTED"},
				"COMPLETED": {"REVIEWED"},
				"REVIEWED":  {"ARCHIVED"},
			},
			Roles: map[string][]string{
				"ACTIVE->ABORTED":     {"LAB_MANAGER"},
				"COMPLETED->REVIEWED": {"QA"},
				"REVIEWED->ARCHIVED":  {"LAB_MANAGER"},
			},
		},
	}
}

// DefaultTable builds the built-in rule table. The defaults are validated at
// test time, so construction cannot fail in practice; a failure here means
// the binary itself is misbuilt.
func DefaultTable() (*Table, error) {
	return NewTable(DefaultSpec())
}
