package forecast

import (
	"encoding/json"

	"brewlytics/ml"
)

// artefactVersion guards against loading bundles written by an incompatible
// build. Bump it whenever the serialized layout changes.
const artefactVersion = 1

// Bundle is everything the serving path needs from a training run: the fitted
// model plus the hold-out scores recorded at training time.
type Bundle struct {
	Version  int             `json:"version"`
	Model    *Model          `json:"model"`
	Backtest BacktestMetrics `json:"backtest"`
}

// EncodeArtefact serializes a bundle into the opaque bytes stored in
// ml_models.artefact.
func EncodeArtefact(b *Bundle) ([]byte, error) {
	b.Version = artefactVersion
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, &ml.ArtefactError{Reason: "encode forecast model", Err: err}
	}
	return raw, nil
}

// DecodeArtefact restores a bundle from its stored bytes. A decoded model
// reproduces the original's point predictions exactly: the bundle carries the
// full coefficient vector and the forward-fill seeds.
func DecodeArtefact(raw []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, &ml.ArtefactError{Reason: "decode forecast model", Err: err}
	}
	if b.Version != artefactVersion {
		return nil, &ml.ArtefactError{Reason: "unsupported forecast artefact version"}
	}
	if b.Model == nil || len(b.Model.Coef) == 0 {
		return nil, &ml.ArtefactError{Reason: "forecast artefact has no coefficients"}
	}
	return &b, nil
}
