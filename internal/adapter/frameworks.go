package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

// reportKind tags which parser genericAdapter.ParseResult should use.
type reportKind int

const (
	reportJUnitXML reportKind = iota
	reportRobotXML
	reportCucumberJSON
	reportJestJSON
)

// genericAdapter implements Adapter for a single framework tag, driven by
// a small per-framework descriptor. 13 nearly-identical adapter files
// would duplicate the {discover, plan_to_command, execute} boilerplate
// thirteen times; this table-driven shape keeps each framework's actual
// differences (extensions, selection-expression syntax, report format)
// explicit while sharing the spawn/parse/normalize plumbing once.
type genericAdapter struct {
	framework       domain.Framework
	extensions      []string
	parallelCapable bool
	reportFormat    string
	reportKind      reportKind
	reportFileName  string // relative to workspace, e.g. "reports/junit.xml"

	// buildArgv returns the native CLI invocation for the selected tests.
	buildArgv func(selected []string, reportPath string, parallel bool) []string
}

func (a *genericAdapter) Framework() domain.Framework { return a.framework }

func (a *genericAdapter) Info() domain.AdapterInfo {
	return domain.AdapterInfo{
		Framework:       a.framework,
		Extensions:      a.extensions,
		ParallelCapable: a.parallelCapable,
		ReportFormat:    a.reportFormat,
	}
}

// Discover walks the workspace for files matching the framework's
// extensions, in lexicographic path order, and synthesizes one test-id
// per file using the file's base name as a placeholder test name.
// Adapters that can enumerate individual test/case names from the
// framework's own collector (a real pytest --collect-only, a TestNG
// suite dry-run) would refine this; CrossBridge's file-scan discovery
// is the deterministic baseline every adapter shares.
func (a *genericAdapter) Discover(ctx context.Context, workspace string) ([]string, error) {
	var ids []string
	err := filepath.Walk(workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		for _, ext := range a.extensions {
			if strings.HasSuffix(path, ext) {
				rel, relErr := filepath.Rel(workspace, path)
				if relErr != nil {
					rel = path
				}
				name := strings.TrimSuffix(filepath.Base(path), ext)
				ids = append(ids, fmt.Sprintf("%s::%s::%s", a.framework, rel, name))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

func (a *genericAdapter) PlanToCommand(plan *domain.ExecutionPlan, workspace string, sidecarURL string) (Command, error) {
	reportPath := filepath.Join(workspace, a.reportFileName)
	argv := a.buildArgv(plan.Selected, reportPath, a.parallelCapable)

	env := append(os.Environ(), "CROSSBRIDGE_ENABLED=true")
	if sidecarURL != "" {
		env = append(env, "CROSSBRIDGE_SIDECAR_URL="+sidecarURL)
	}

	return Command{Argv: argv, Env: env, Cwd: workspace}, nil
}

func (a *genericAdapter) ParseResult(plan *domain.ExecutionPlan, workspace string) (*domain.ExecutionResult, error) {
	reportPath := filepath.Join(workspace, a.reportFileName)

	var result *domain.ExecutionResult
	var err error
	switch a.reportKind {
	case reportRobotXML:
		result, err = parseRobotXML(reportPath)
	case reportCucumberJSON:
		result, err = parseCucumberJSON(reportPath, string(a.framework))
	case reportJestJSON:
		result, err = parseJestJSON(reportPath, string(a.framework))
	default:
		result, err = parseJUnitXML(reportPath, string(a.framework))
	}
	if err != nil {
		return nil, err
	}
	finalizeStatus(result)
	return result, nil
}

func (a *genericAdapter) Execute(ctx context.Context, plan *domain.ExecutionPlan, workspace string, opts ExecuteOptions) (*domain.ExecutionResult, error) {
	cmd, err := a.PlanToCommand(plan, workspace, opts.SidecarURL)
	if err != nil {
		return nil, err
	}

	exitCode, status, _, _, spawnErr := runProcess(ctx, cmd, opts)
	if spawnErr != nil {
		return &domain.ExecutionResult{Status: domain.StatusError, ExitCode: -1}, spawnErr
	}

	result, parseErr := a.ParseResult(plan, workspace)
	if parseErr != nil {
		// Process ran but report wasn't produced or wasn't parseable —
		// spec §4.1 requires status=error when no report materializes.
		return &domain.ExecutionResult{
			Status:   domain.StatusError,
			ExitCode: exitCode,
			Metadata: map[string]interface{}{"parse_error": parseErr.Error()},
		}, nil
	}

	result.ExitCode = exitCode
	if status == domain.StatusTimeout || status == domain.StatusCancelled {
		result.Status = status
	}
	return result, nil
}

func register13() {
	Register(&genericAdapter{
		framework: domain.FrameworkPytest, extensions: []string{"_test.py", "test_.py"},
		parallelCapable: true, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("reports", "pytest-junit.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"pytest", "--junitxml=" + reportPath}
			if len(selected) > 0 {
				argv = append(argv, "-m", selectionMarkerExpr(selected))
			}
			if parallel {
				argv = append(argv, "-n", "auto")
			}
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkUnittest, extensions: []string{"_test.py", "test_.py"},
		parallelCapable: false, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("reports", "unittest-junit.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"python", "-m", "xmlrunner", "discover", "-o", filepath.Dir(reportPath)}
			return append(argv, selected...)
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkRobot, extensions: []string{".robot"},
		parallelCapable: true, reportFormat: "robot-xml", reportKind: reportRobotXML,
		reportFileName: "output.xml",
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			bin := "robot"
			if parallel {
				bin = "pabot"
			}
			argv := []string{bin, "--outputdir", filepath.Dir(reportPath)}
			for _, id := range selected {
				argv = append(argv, "--include", tagOf(id))
			}
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkTestNG, extensions: []string{".java"},
		parallelCapable: true, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("test-output", "testng-results.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			return []string{"mvn", "test", "-DsuiteXmlFile=crossbridge-suite.xml"}
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkJUnit, extensions: []string{".java"},
		parallelCapable: true, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("target", "surefire-reports", "TEST-junit.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"mvn", "test"}
			if len(selected) > 0 {
				argv = append(argv, "-Dtest="+strings.Join(testNamesOnly(selected), ","))
			}
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkCypress, extensions: []string{".cy.js", ".cy.ts"},
		parallelCapable: true, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("reports", "cypress-junit.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"cypress", "run", "--reporter", "junit", "--reporter-options", "mochaFile=" + reportPath}
			if len(selected) > 0 {
				argv = append(argv, "--spec", strings.Join(specFiles(selected), ","))
			}
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkPlaywright, extensions: []string{".spec.ts", ".spec.js"},
		parallelCapable: true, reportFormat: "playwright-json", reportKind: reportJestJSON,
		reportFileName: filepath.Join("reports", "playwright.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"playwright", "test", "--reporter=json"}
			argv = append(argv, specFiles(selected)...)
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkJest, extensions: []string{".test.js", ".test.ts"},
		parallelCapable: true, reportFormat: "jest-json", reportKind: reportJestJSON,
		reportFileName: filepath.Join("reports", "jest.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"jest", "--json", "--outputFile=" + reportPath}
			argv = append(argv, specFiles(selected)...)
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkMocha, extensions: []string{".test.js"},
		parallelCapable: false, reportFormat: "jest-json", reportKind: reportJestJSON,
		reportFileName: filepath.Join("reports", "mocha.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"mocha", "--reporter", "json-stream"}
			argv = append(argv, specFiles(selected)...)
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkCucumberJS, extensions: []string{".feature"},
		parallelCapable: true, reportFormat: "cucumber-json", reportKind: reportCucumberJSON,
		reportFileName: filepath.Join("reports", "cucumber.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"cucumber-js", "--format", "json:" + reportPath}
			argv = append(argv, specFiles(selected)...)
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkCucumberJVM, extensions: []string{".feature"},
		parallelCapable: true, reportFormat: "cucumber-json", reportKind: reportCucumberJSON,
		reportFileName: filepath.Join("target", "cucumber.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			return []string{"mvn", "test", "-Dcucumber.plugin=json:" + reportPath}
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkBehave, extensions: []string{".feature"},
		parallelCapable: false, reportFormat: "cucumber-json", reportKind: reportCucumberJSON,
		reportFileName: filepath.Join("reports", "behave.json"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			argv := []string{"behave", "--format", "json", "--outfile", reportPath}
			argv = append(argv, specFiles(selected)...)
			return argv
		},
	})

	Register(&genericAdapter{
		framework: domain.FrameworkSpecFlow, extensions: []string{".feature"},
		parallelCapable: false, reportFormat: "junit-xml", reportKind: reportJUnitXML,
		reportFileName: filepath.Join("TestResults", "specflow-junit.xml"),
		buildArgv: func(selected []string, reportPath string, parallel bool) []string {
			return []string{"dotnet", "test", "--logger", "junit;LogFilePath=" + reportPath}
		},
	})
}

func init() {
	register13()
}

// selectionMarkerExpr synthesizes a pytest -m marker expression from
// selected test-ids' trailing test-name component (placeholder — a real
// pytest adapter would use explicit node-ids instead).
func selectionMarkerExpr(selected []string) string {
	names := testNamesOnly(selected)
	for i, n := range names {
		names[i] = "\"" + n + "\""
	}
	return strings.Join(names, " or ")
}

func testNamesOnly(selected []string) []string {
	out := make([]string, len(selected))
	for i, id := range selected {
		parts := strings.SplitN(id, "::", 3)
		out[i] = parts[len(parts)-1]
	}
	return out
}

func specFiles(selected []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, id := range selected {
		parts := strings.SplitN(id, "::", 3)
		if len(parts) < 2 {
			continue
		}
		if _, ok := seen[parts[1]]; !ok {
			seen[parts[1]] = struct{}{}
			out = append(out, parts[1])
		}
	}
	return out
}

func tagOf(testID string) string {
	parts := strings.SplitN(testID, "::", 3)
	return parts[len(parts)-1]
}
