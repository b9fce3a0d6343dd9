package ports

// Recorder receives counters about the control loop. All methods must be
// cheap; they are called from the loop goroutine.
type Recorder interface {
	RotationDone(service string, ok bool)
	RecycleDone(ok bool)
	Detection(service string)
	SweepError(service string)
	FleetSize(production, decoys int)
}

// NopRecorder discards everything.
type NopRecorder struct{}

func (NopRecorder) RotationDone(string, bool) {}
func (NopRecorder) RecycleDone(bool)          {}
func (NopRecorder) Detection(string)          {}
func (NopRecorder) SweepError(string)         {}
func (NopRecorder) FleetSize(int, int)        {}
