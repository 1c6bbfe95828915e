package models

import "errors"

// RawMotor is a motor reading as reported by the hardware.
type RawMotor struct {
	ID          int     `json:"id"`
	Velocity    float64 `json:"velocity"`
	CM          float64 `json:"cm"`
	Temperature float64 `json:"temperature"`
}

// RawPallet is a pallet sighting as reported by the hardware.
type RawPallet struct {
	IDPallet     int    `json:"id_pallet"`
	TimestampRaw string `json:"timestamp_raw"`
}

// RawCentroid is the gyroscope centroid as reported by the hardware.
type RawCentroid struct {
	CentroidX float64 `json:"centroid_x"`
	CentroidY float64 `json:"centroid_y"`
	CentroidZ float64 `json:"centroid_z"`
}

// RawSnapshot aggregates one acquisition from every sensor.
type RawSnapshot struct {
	Motors   []RawMotor  `json:"motors"`
	Pallets  []RawPallet `json:"pallets"`
	Centroid RawCentroid `json:"centroid"`
}

// Validate checks the structural shape of a raw acquisition.
func (r *RawSnapshot) Validate() error {
	for _, p := range r.Pallets {
		if p.TimestampRaw == "" {
			return errors.New("pallet timestamp_raw must not be empty")
		}
	}
	return nil
}
