package domain

// Quality is the fidelity of a cached cover image.
type Quality int

const (
	QualityLow Quality = iota
	QualityHigh
)

// Satisfies reports whether an entry of quality q can answer a request for want.
// HIGH answers everything, LOW only answers LOW.
func (q Quality) Satisfies(want Quality) bool {
	return q >= want
}

func (q Quality) String() string {
	if q == QualityHigh {
		return "high"
	}
	return "low"
}

// Priority orders image requests competing for network slots.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// LocalImage is a cover file read from a local dataset.
type LocalImage struct {
	Path string
	Data []byte
}
