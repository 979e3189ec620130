package metrics

// MultiSink fans events out to several sinks, returning the first error.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink combines sinks into one.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) RecordPoll(ev PollEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordPoll(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordSnapshot(ev SnapshotEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordSnapshot(ev); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordAllocations(evs []AllocationEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordAllocations(evs); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordCycle(ev CycleEvent) error {
	for _, s := range m.Sinks {
		if err := s.RecordCycle(ev); err != nil {
			return err
		}
	}
	return nil
}
