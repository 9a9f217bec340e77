package scenario

// Step actions.
const (
	ActionInstruct  = "instruct"
	ActionRunTests  = "run_tests"
	ActionCodePatch = "code_patch"
	ActionAuthorize = "authorize"
)

// Step is one event or request in a scenario. Fields apply per action.
type Step struct {
	Action string `yaml:"action"`
	RID    string `yaml:"rid,omitempty"`

	// instruct
	Goal        string            `yaml:"goal,omitempty"`
	Constraints []string          `yaml:"constraints,omitempty"`
	Anchors     map[string]string `yaml:"anchors,omitempty"`

	// run_tests
	OK     bool   `yaml:"ok,omitempty"`
	Stdout string `yaml:"stdout,omitempty"`

	// code_patch
	Path string `yaml:"path,omitempty"`
	Diff string `yaml:"diff,omitempty"`

	// authorize
	Capability     string `yaml:"capability,omitempty"`
	Scope          string `yaml:"scope,omitempty"`
	Expect         string `yaml:"expect,omitempty"`
	Violation      string `yaml:"violation,omitempty"`
	ReasonContains string `yaml:"reason_contains,omitempty"`

	// ExpectState checks the node state after an event step.
	ExpectState string `yaml:"expect_state,omitempty"`
}

// Scenario is a named sequence of steps against one repository. Root is
// resolved relative to the scenario file; when empty, Files is written to a
// temporary directory named Prefix (default "repo").
type Scenario struct {
	Name   string            `yaml:"name"`
	Root   string            `yaml:"root,omitempty"`
	Prefix string            `yaml:"prefix,omitempty"`
	Files  map[string]string `yaml:"files,omitempty"`
	Steps  []Step            `yaml:"steps"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Index    int    `json:"index"`
	Action   string `json:"action"`
	Subject  string `json:"subject"`
	Passed   bool   `json:"passed"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual"`
	Reason   string `json:"reason,omitempty"`
}

// RunResult is the outcome of running one scenario file.
type RunResult struct {
	File   string       `json:"file"`
	Name   string       `json:"name"`
	Total  int          `json:"total"`
	Passed int          `json:"passed"`
	Failed int          `json:"failed"`
	Steps  []StepResult `json:"steps"`
}
