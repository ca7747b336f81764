package signal

// TestKind names a hypothesis test
type TestKind string

const (
	TestEnergyDetector TestKind = "energy_detector"
	TestNeymanPearson  TestKind = "neyman_pearson"
)

// TestStatistic is one channel's test outcome together with the threshold and
// the false-alarm probability that produced the threshold.
type TestStatistic struct {
	Channel          int      `json:"channel"`
	Kind             TestKind `json:"kind"`
	Statistic        float64  `json:"statistic"`
	Threshold        float64  `json:"threshold"`
	Pfa              float64  `json:"pfa"`
	DegreesOfFreedom int      `json:"degrees_of_freedom"`
	// ModelEnergy is model·model for the matched filter, zero for the energy detector.
	ModelEnergy          float64 `json:"model_energy,omitempty"`
	Detected             bool    `json:"detected"`
	DetectionProbability float64 `json:"detection_probability,omitempty"`
}
