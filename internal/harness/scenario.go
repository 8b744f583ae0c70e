package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/clocksync/internal/remote"
)

// Scenario defines a conformance test scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the initial clock reading. Defaults to 2024-01-01T08:00:00Z.
	Start *time.Time `yaml:"start,omitempty"`

	// Tasks are the employee's tasks on the scripted service.
	Tasks []remote.Task `yaml:"tasks,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one action field must be set.
type Step struct {
	Online     bool        `yaml:"online,omitempty"`
	Offline    bool        `yaml:"offline,omitempty"`
	Scan       string      `yaml:"scan,omitempty"`
	Sync       *SyncStep   `yaml:"sync,omitempty"`
	Refresh    bool        `yaml:"refresh,omitempty"`
	SwitchTask string      `yaml:"switch_task,omitempty"`
	Advance    string      `yaml:"advance,omitempty"`
	Reject     *RejectStep `yaml:"reject,omitempty"`

	// Expect validates the step's result. Only scan, sync, refresh and
	// switch_task steps accept it.
	Expect *Expect `yaml:"expect,omitempty"`
}

// SyncStep configures a drain.
type SyncStep struct {
	Notify bool `yaml:"notify"`
}

// RejectStep makes the service refuse a code.
type RejectStep struct {
	Code    string `yaml:"code"`
	Status  int    `yaml:"status"`
	Message string `yaml:"message,omitempty"`
}

// Expect is a subset match against a step result. Unset fields are not
// checked.
type Expect struct {
	Outcome   string `yaml:"outcome,omitempty"`
	Queued    *bool  `yaml:"queued,omitempty"`
	Result    string `yaml:"result,omitempty"`
	Delivered *int   `yaml:"delivered,omitempty"`
	// Error is one of "offline", "rejected", "protocol" or "any".
	// "none" asserts success explicitly.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by queue_length and unconfirmed.
	Count int `yaml:"count,omitempty"`

	// Task is the expected task name (session). Empty with None unset means
	// a general session.
	Task string `yaml:"task,omitempty"`
	// None expects no active session (session).
	None bool `yaml:"none,omitempty"`
	// Optimistic, when set, checks the session's optimistic flag (session).
	Optimistic *bool `yaml:"optimistic,omitempty"`

	// Kind is info, success or error (notifications).
	Kind string `yaml:"kind,omitempty"`
	// Messages is the exact expected list (notifications).
	Messages []string `yaml:"messages,omitempty"`

	// Codes is the exact expected submission order (submitted).
	Codes []string `yaml:"codes,omitempty"`
}

// Assertion type constants.
const (
	AssertQueueLength   = "queue_length"
	AssertUnconfirmed   = "unconfirmed"
	AssertSession       = "session"
	AssertNotifications = "notifications"
	AssertSubmitted     = "submitted"
)

// Expected error classes.
const (
	ErrorNone     = "none"
	ErrorAny      = "any"
	ErrorOffline  = "offline"
	ErrorRejected = "rejected"
	ErrorProtocol = "protocol"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// kind names the step's action, or "" when none or several are set.
func (s *Step) kind() string {
	var kinds []string
	if s.Online {
		kinds = append(kinds, "online")
	}
	if s.Offline {
		kinds = append(kinds, "offline")
	}
	if s.Scan != "" {
		kinds = append(kinds, "scan")
	}
	if s.Sync != nil {
		kinds = append(kinds, "sync")
	}
	if s.Refresh {
		kinds = append(kinds, "refresh")
	}
	if s.SwitchTask != "" {
		kinds = append(kinds, "switch_task")
	}
	if s.Advance != "" {
		kinds = append(kinds, "advance")
	}
	if s.Reject != nil {
		kinds = append(kinds, "reject")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func validateStep(index int, s *Step) error {
	kind := s.kind()
	if kind == "" {
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	}

	switch kind {
	case "advance":
		if _, err := time.ParseDuration(s.Advance); err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
	case "reject":
		if s.Reject.Code == "" {
			return fmt.Errorf("steps[%d]: reject.code is required", index)
		}
		if s.Reject.Status < 400 || s.Reject.Status > 599 {
			return fmt.Errorf("steps[%d]: reject.status must be an HTTP error status", index)
		}
	}

	if s.Expect == nil {
		return nil
	}
	switch kind {
	case "scan", "sync", "refresh", "switch_task":
	default:
		return fmt.Errorf("steps[%d]: %s does not accept expect", index, kind)
	}
	switch s.Expect.Error {
	case "", ErrorNone, ErrorAny, ErrorOffline, ErrorRejected, ErrorProtocol:
	default:
		return fmt.Errorf("steps[%d].expect: unknown error class %q", index, s.Expect.Error)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertQueueLength, AssertUnconfirmed:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertSession:
		if a.None && a.Task != "" {
			return fmt.Errorf("assertions[%d]: session cannot set both none and task", index)
		}
	case AssertNotifications:
		switch a.Kind {
		case "info", "success", "error":
		default:
			return fmt.Errorf("assertions[%d]: kind must be info, success or error", index)
		}
	case AssertSubmitted:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
