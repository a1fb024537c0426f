package adapter

import (
	"encoding/json"
	"encoding/xml"
	"os"
	"strings"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

// maxSignatureBytes bounds per-test error signatures to ~2kB per spec §4.3.
const maxSignatureBytes = 2048

// normalizeSignature converts CRLF/CR to LF and truncates to ~2kB, the
// shared post-processing step every report parser below applies to raw
// framework stacktrace/error text.
func normalizeSignature(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if len(s) > maxSignatureBytes {
		s = s[:maxSignatureBytes]
	}
	return s
}

// --- JUnit-style XML (junit, testng, robot all emit JUnit-compatible or
// JUnit-like XML reports; robot's output.xml is handled by a dedicated
// parser below because its schema diverges more). ---

type junitTestSuites struct {
	XMLName xml.Name         `xml:"testsuites"`
	Suites  []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string           `xml:"name,attr"`
	TestCases []junitTestCase  `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure"`
	Error     *junitFailure `xml:"error"`
	Skipped   *junitSkipped `xml:"skipped"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Content string `xml:",chardata"`
}

type junitSkipped struct {
	Message string `xml:"message,attr"`
}

// parseJUnitXML reads a JUnit (or JUnit-compatible TestNG) report and
// folds it into an ExecutionResult keyed by the plan's test-id scheme.
func parseJUnitXML(path, framework string) (*domain.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var root junitTestSuites
	if err := xml.Unmarshal(data, &root); err != nil {
		// Some JUnit emitters write a single <testsuite> root rather than
		// wrapping it in <testsuites>; retry against that shape.
		var single junitTestSuite
		if err2 := xml.Unmarshal(data, &single); err2 != nil {
			return nil, err
		}
		root.Suites = []junitTestSuite{single}
	}

	result := newEmptyResult()
	for _, suite := range root.Suites {
		for _, tc := range suite.TestCases {
			testID := framework + "::" + suite.Name + "::" + tc.Name
			durationMs := int64(tc.Time * 1000)
			switch {
			case tc.Failure != nil:
				sig := normalizeSignature(tc.Failure.Message + "\n" + tc.Failure.Content)
				result.Failed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeFailed, DurationMs: durationMs, ErrorSignature: sig}
			case tc.Error != nil:
				sig := normalizeSignature(tc.Error.Message + "\n" + tc.Error.Content)
				result.Failed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeError, DurationMs: durationMs, ErrorSignature: sig}
			case tc.Skipped != nil:
				result.Skipped[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeSkipped, DurationMs: durationMs}
			default:
				result.Passed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomePassed, DurationMs: durationMs}
			}
		}
	}
	return result, nil
}

// --- Robot Framework output.xml ---

type robotOutput struct {
	XMLName xml.Name    `xml:"robot"`
	Suite   robotSuite  `xml:"suite"`
}

type robotSuite struct {
	Name  string       `xml:"name,attr"`
	Tests []robotTest  `xml:"test"`
	Suites []robotSuite `xml:"suite"`
}

type robotTest struct {
	Name   string      `xml:"name,attr"`
	Status robotStatus `xml:"status"`
}

type robotStatus struct {
	Status  string `xml:"status,attr"`
	Message string `xml:",chardata"`
}

func parseRobotXML(path string) (*domain.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var root robotOutput
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}

	result := newEmptyResult()
	var walk func(s robotSuite)
	walk = func(s robotSuite) {
		for _, t := range s.Tests {
			testID := "robot::" + s.Name + "::" + t.Name
			switch t.Status.Status {
			case "PASS":
				result.Passed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomePassed}
			case "SKIP":
				result.Skipped[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeSkipped}
			default:
				sig := normalizeSignature(t.Status.Message)
				result.Failed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeFailed, ErrorSignature: sig}
			}
		}
		for _, sub := range s.Suites {
			walk(sub)
		}
	}
	walk(root.Suite)
	return result, nil
}

// --- JSON reports: Cucumber, Playwright, Jest ---

type cucumberFeature struct {
	Name     string            `json:"name"`
	Elements []cucumberElement `json:"elements"`
}

type cucumberElement struct {
	Name  string          `json:"name"`
	Steps []cucumberStep  `json:"steps"`
}

type cucumberStep struct {
	Name   string           `json:"name"`
	Result cucumberStepResult `json:"result"`
}

type cucumberStepResult struct {
	Status      string `json:"status"`
	ErrorMessage string `json:"error_message"`
	Duration    int64  `json:"duration"` // nanoseconds
}

func parseCucumberJSON(path, framework string) (*domain.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var features []cucumberFeature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, err
	}

	result := newEmptyResult()
	for _, feature := range features {
		for _, scenario := range feature.Elements {
			testID := framework + "::" + feature.Name + "::" + scenario.Name
			durationMs := int64(0)
			status := domain.OutcomePassed
			var sig string
			for _, step := range scenario.Steps {
				durationMs += step.Result.Duration / 1_000_000
				if step.Result.Status == "failed" {
					status = domain.OutcomeFailed
					sig = normalizeSignature(step.Result.ErrorMessage)
				} else if step.Result.Status == "skipped" && status == domain.OutcomePassed {
					status = domain.OutcomeSkipped
				}
			}
			switch status {
			case domain.OutcomeFailed:
				result.Failed[testID] = struct{}{}
			case domain.OutcomeSkipped:
				result.Skipped[testID] = struct{}{}
			default:
				result.Passed[testID] = struct{}{}
			}
			result.Tests[testID] = domain.TestResult{TestID: testID, Status: status, DurationMs: durationMs, ErrorSignature: sig}
		}
	}
	return result, nil
}

type jestReport struct {
	TestResults []jestFileResult `json:"testResults"`
}

type jestFileResult struct {
	Name             string             `json:"name"`
	AssertionResults []jestAssertion    `json:"assertionResults"`
}

type jestAssertion struct {
	FullName        string   `json:"fullName"`
	Status          string   `json:"status"`
	Duration        int64    `json:"duration"`
	FailureMessages []string `json:"failureMessages"`
}

func parseJestJSON(path, framework string) (*domain.ExecutionResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report jestReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, err
	}

	result := newEmptyResult()
	for _, file := range report.TestResults {
		for _, a := range file.AssertionResults {
			testID := framework + "::" + file.Name + "::" + a.FullName
			switch a.Status {
			case "passed":
				result.Passed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomePassed, DurationMs: a.Duration}
			case "pending", "skipped", "todo":
				result.Skipped[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeSkipped, DurationMs: a.Duration}
			default:
				sig := normalizeSignature(strings.Join(a.FailureMessages, "\n"))
				result.Failed[testID] = struct{}{}
				result.Tests[testID] = domain.TestResult{TestID: testID, Status: domain.OutcomeFailed, DurationMs: a.Duration, ErrorSignature: sig}
			}
		}
	}
	return result, nil
}

// Playwright's JSON reporter shares Jest's flat assertion shape closely
// enough that the playwright adapter is registered with reportJestJSON in
// frameworks.go and decoded by parseJestJSON directly.

func newEmptyResult() *domain.ExecutionResult {
	return &domain.ExecutionResult{
		Status:  domain.StatusPassed,
		Passed:  map[string]struct{}{},
		Failed:  map[string]struct{}{},
		Skipped: map[string]struct{}{},
		Tests:   map[string]domain.TestResult{},
		Metadata: map[string]interface{}{},
	}
}

func finalizeStatus(result *domain.ExecutionResult) {
	if len(result.Failed) > 0 {
		result.Status = domain.StatusFailed
	} else {
		result.Status = domain.StatusPassed
	}
}
