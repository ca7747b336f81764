package run

import (
	"encoding/json"
	"fmt"
	"time"

	"godetect/domain/core"
	"godetect/domain/scenario"
	"godetect/domain/stage"
)

// CodeVersion is recorded in every manifest so fingerprints change when the
// estimators do
const CodeVersion = "0.1.0"

// Fingerprint ensures deterministic replay: two runs with the same
// fingerprint produce the same artifacts
type Fingerprint struct {
	ScenarioHash  core.Hash `json:"scenario_hash"`
	SettingsHash  core.Hash `json:"settings_hash"`
	StagePlanHash core.Hash `json:"stage_plan_hash"`
	Seed          int64     `json:"seed"`
	CodeVersion   string    `json:"code_version"`
	Fingerprint   core.Hash `json:"fingerprint"` // Hash of all above
}

// NewFingerprint creates a fingerprint from the determinism parameters
func NewFingerprint(scenarioHash, settingsHash, stagePlanHash core.Hash, seed int64, codeVersion string) Fingerprint {
	data := fmt.Sprintf("scenario:%s|settings:%s|stage_plan:%s|seed:%d|code:%s",
		scenarioHash, settingsHash, stagePlanHash, seed, codeVersion)

	return Fingerprint{
		ScenarioHash:  scenarioHash,
		SettingsHash:  settingsHash,
		StagePlanHash: stagePlanHash,
		Seed:          seed,
		CodeVersion:   codeVersion,
		Fingerprint:   core.NewHash([]byte(data)),
	}
}

// HashScenario fingerprints the instrument, observation and scene
func HashScenario(sc scenario.Scenario) core.Hash {
	data, _ := json.Marshal(sc)
	return core.NewHash(data)
}

// Manifest is the complete description of one detection run
type Manifest struct {
	RunID       core.RunID  `json:"run_id"`
	Fingerprint Fingerprint `json:"fingerprint"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewManifest creates a manifest for a run of plan on sc
func NewManifest(runID core.RunID, sc scenario.Scenario, settingsHash core.Hash, plan *stage.StagePlan, seed int64) *Manifest {
	return &Manifest{
		RunID:       runID,
		Fingerprint: NewFingerprint(HashScenario(sc), settingsHash, plan.Hash(), seed, CodeVersion),
		CreatedAt:   time.Now().UTC(),
	}
}

// Validate checks if the manifest is complete
func (m *Manifest) Validate() error {
	if core.ID(m.RunID).IsEmpty() {
		return fmt.Errorf("run manifest: run_id cannot be empty")
	}
	if m.Fingerprint.SettingsHash.IsEmpty() {
		return fmt.Errorf("run manifest: settings_hash cannot be empty")
	}
	if m.Fingerprint.StagePlanHash.IsEmpty() {
		return fmt.Errorf("run manifest: stage_plan_hash cannot be empty")
	}
	return nil
}
