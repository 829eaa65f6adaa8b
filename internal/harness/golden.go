package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot is the golden file payload: the scenario name plus its full
// response transcript.
type Snapshot struct {
	Scenario  string          `json:"scenario"`
	Responses []ResponseEvent `json:"responses"`
}

// RunWithGolden executes a scenario, fails the test on any expectation
// mismatch, and compares the transcript against
// testdata/golden/{name}.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, mismatch := range result.Errors {
		t.Error(mismatch)
	}

	snapshot := Snapshot{Scenario: scenario.Name, Responses: result.Responses}
	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		t.Fatalf("marshaling snapshot: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, raw)
}
