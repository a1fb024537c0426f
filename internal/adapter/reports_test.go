package adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossbridge-dev/crossbridge/internal/domain"
)

func TestParseJUnitXML_PassFailSkip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junit.xml")
	xml := `<testsuites><testsuite name="suite">
		<testcase name="ok" time="0.1"/>
		<testcase name="bad" time="0.2"><failure message="boom">stack</failure></testcase>
		<testcase name="skip" time="0"><skipped message="skipped"/></testcase>
	</testsuite></testsuites>`
	require.NoError(t, os.WriteFile(path, []byte(xml), 0o644))

	result, err := parseJUnitXML(path, "junit")
	require.NoError(t, err)
	assert.Len(t, result.Passed, 1)
	assert.Len(t, result.Failed, 1)
	assert.Len(t, result.Skipped, 1)
}

func TestParseJUnitXML_SingleSuiteRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junit.xml")
	xml := `<testsuite name="suite"><testcase name="ok" time="0.1"/></testsuite>`
	require.NoError(t, os.WriteFile(path, []byte(xml), 0o644))

	result, err := parseJUnitXML(path, "junit")
	require.NoError(t, err)
	assert.Len(t, result.Passed, 1)
}

func TestParseRobotXML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "output.xml")
	xml := `<robot><suite name="top">
		<test name="t1"><status status="PASS"/></test>
		<suite name="nested"><test name="t2"><status status="FAIL">broke</status></test></suite>
	</suite></robot>`
	require.NoError(t, os.WriteFile(path, []byte(xml), 0o644))

	result, err := parseRobotXML(path)
	require.NoError(t, err)
	assert.Len(t, result.Passed, 1)
	assert.Len(t, result.Failed, 1)
}

func TestParseJestJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jest.json")
	raw := `{"testResults":[{"name":"a.test.js","assertionResults":[
		{"fullName":"adds","status":"passed","duration":5},
		{"fullName":"subtracts","status":"failed","duration":3,"failureMessages":["expected 1 got 2"]}
	]}]}`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	result, err := parseJestJSON(path, "jest")
	require.NoError(t, err)
	assert.Len(t, result.Passed, 1)
	assert.Len(t, result.Failed, 1)
}

func TestParseCucumberJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cucumber.json")
	raw := `[{"name":"feature","elements":[{"name":"scenario","steps":[
		{"name":"given","result":{"status":"passed","duration":1000000}},
		{"name":"then","result":{"status":"failed","error_message":"nope","duration":2000000}}
	]}]}]`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	result, err := parseCucumberJSON(path, "cucumber-js")
	require.NoError(t, err)
	assert.Len(t, result.Failed, 1)
}

func TestNormalizeSignature_TruncatesAndNormalizesLineEndings(t *testing.T) {
	raw := "line1\r\nline2\rline3"
	got := normalizeSignature(raw)
	assert.Equal(t, "line1\nline2\nline3", got)

	long := make([]byte, maxSignatureBytes+500)
	for i := range long {
		long[i] = 'x'
	}
	got = normalizeSignature(string(long))
	assert.Len(t, got, maxSignatureBytes)
}

func TestFinalizeStatus(t *testing.T) {
	result := newEmptyResult()
	finalizeStatus(result)
	assert.Equal(t, domain.StatusPassed, result.Status)

	result.Failed["x"] = struct{}{}
	finalizeStatus(result)
	assert.Equal(t, domain.StatusFailed, result.Status)
}
