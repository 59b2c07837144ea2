package anomaly

import (
	"encoding/json"

	"brewlytics/ml"
)

const artefactVersion = 1

// Bundle is the persisted anomaly model: scaler moments, the forest, the
// feature order both were fitted against, and the training score
// distribution that calibrates anomaly scores at detection time.
type Bundle struct {
	Version     int        `json:"version"`
	Features    []string   `json:"features"`
	Scaler      *Scaler    `json:"scaler"`
	Forest      *Forest    `json:"forest"`
	Threshold   float64    `json:"threshold"`    // contamination quantile of TrainScores
	TrainScores []float64  `json:"train_scores"` // sorted ascending
	Stats       ScoreStats `json:"score_stats"`
	Separation  float64    `json:"separation"`
}

// ScoreStats are summary statistics of the training score distribution,
// stored for introspection without replaying the sample array.
type ScoreStats struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Q05  float64 `json:"q05"`
	Q50  float64 `json:"q50"`
	Q95  float64 `json:"q95"`
}

// EncodeArtefact serializes a bundle for ml_models.artefact.
func EncodeArtefact(b *Bundle) ([]byte, error) {
	b.Version = artefactVersion
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode anomaly model", Err: err}
	}
	return raw, nil
}

// DecodeArtefact restores a bundle from stored bytes.
func DecodeArtefact(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &ml.ArtefactError{Reason: "decode anomaly model", Err: err}
	}
	if b.Version != artefactVersion {
		return nil, &ml.ArtefactError{Reason: "unsupported anomaly artefact version"}
	}
	if b.Scaler == nil || b.Forest == nil || len(b.Features) == 0 {
		return nil, &ml.ArtefactError{Reason: "anomaly artefact is incomplete"}
	}
	return &b, nil
}
