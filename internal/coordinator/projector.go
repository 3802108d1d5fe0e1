package coordinator

// Section is one of the mutually exclusive display sections the UI may
// show. Exactly one section is visible at any time.
type Section string

const (
	SectionIdle     Section = "idle"
	SectionProgress Section = "progress"
	SectionResult   Section = "result"
	SectionError    Section = "error"
)

// Project maps a snapshot to the single display section it belongs to.
// The mapping is total: every lifecycle state lands in exactly one
// section, and showing that section implies hiding the other three.
func Project(snap Snapshot) Section {
	switch snap.State {
	case StateStarting, StateDownloading:
		return SectionProgress
	case StateFinished:
		return SectionResult
	case StateError:
		return SectionError
	default:
		return SectionIdle
	}
}
