package core

import "tinygo.org/x/drivers"

var _ drivers.Sensor = (*Ranger)(nil)

// Update implements drivers.Sensor. Only drivers.Distance triggers a
// measurement; other measurement kinds are ignored.
func (r *Ranger) Update(which drivers.Measurement) error {
	if which&drivers.Distance == 0 {
		return nil
	}

	mm, err := r.DistanceMM()
	if err != nil {
		return err
	}
	r.lastMM = int32(mm)
	return nil
}

// Distance returns the reading cached by the last Update, in millimetres
func (r *Ranger) Distance() int32 {
	return r.lastMM
}
