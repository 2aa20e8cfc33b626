package jobprogress

// Section identifies one of the optional text sections of a progress display.
type Section string

const (
	// SectionStatus is the status text reported by the endpoint.
	SectionStatus Section = "status"

	// SectionSteps is the "value/max" step counter.
	SectionSteps Section = "steps"

	// SectionPercent is the percentage label.
	SectionPercent Section = "percent"
)

// Renderer receives every presentation update from a [Tracker].
//
// The tracker never touches presentation state except through these calls.
// Calls are serialized by the tracker, so implementations do not need their
// own locking unless they are shared between trackers. Implementations must
// not call back into the tracker.
//
// Built-in implementations live in the render package.
type Renderer interface {
	// SetWidth sets the filled portion of the bar, e.g. "30%".
	SetWidth(percent string)

	// SetStepText sets the current step number.
	SetStepText(value int)

	// SetMaxText sets the total number of steps.
	SetMaxText(max int)

	// SetPercentText sets the percentage label, e.g. "30%".
	SetPercentText(percent string)

	// SetStatusText sets the status text reported by the endpoint. An empty
	// string clears it.
	SetStatusText(status string)

	// SetAriaAttributes reflects value and max onto accessibility
	// attributes (aria-valuenow, aria-valuemax) or their equivalent.
	SetAriaAttributes(value, max int)

	// SetVisibility shows or hides a text section.
	SetVisibility(section Section, visible bool)

	// Release frees presentation resources. Called once by [Tracker.Stop].
	Release()
}

// BusyIndicator is an optional interface for renderers that show request
// activity. When the tracker's renderer implements it, SetBusy(true) is
// called before each request and SetBusy(false) once the response has been
// handled.
type BusyIndicator interface {
	SetBusy(busy bool)
}

// nopRenderer discards all updates. Used when no renderer is configured.
type nopRenderer struct{}

func (nopRenderer) SetWidth(string)             {}
func (nopRenderer) SetStepText(int)             {}
func (nopRenderer) SetMaxText(int)              {}
func (nopRenderer) SetPercentText(string)       {}
func (nopRenderer) SetStatusText(string)        {}
func (nopRenderer) SetAriaAttributes(int, int)  {}
func (nopRenderer) SetVisibility(Section, bool) {}
func (nopRenderer) Release()                    {}
