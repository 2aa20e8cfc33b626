package render

import "github.com/jpalmerr/jobprogress"

// Multi fans every update out to several renderers in order.
type Multi []jobprogress.Renderer

// NewMulti returns a [Multi] over the non-nil renderers.
func NewMulti(renderers ...jobprogress.Renderer) Multi {
	m := make(Multi, 0, len(renderers))
	for _, r := range renderers {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m Multi) SetWidth(percent string) {
	for _, r := range m {
		r.SetWidth(percent)
	}
}

func (m Multi) SetStepText(value int) {
	for _, r := range m {
		r.SetStepText(value)
	}
}

func (m Multi) SetMaxText(n int) {
	for _, r := range m {
		r.SetMaxText(n)
	}
}

func (m Multi) SetPercentText(percent string) {
	for _, r := range m {
		r.SetPercentText(percent)
	}
}

func (m Multi) SetStatusText(status string) {
	for _, r := range m {
		r.SetStatusText(status)
	}
}

func (m Multi) SetAriaAttributes(value, max int) {
	for _, r := range m {
		r.SetAriaAttributes(value, max)
	}
}

func (m Multi) SetVisibility(section jobprogress.Section, visible bool) {
	for _, r := range m {
		r.SetVisibility(section, visible)
	}
}

// SetBusy forwards to the renderers that implement [jobprogress.BusyIndicator].
func (m Multi) SetBusy(busy bool) {
	for _, r := range m {
		if b, ok := r.(jobprogress.BusyIndicator); ok {
			b.SetBusy(busy)
		}
	}
}

func (m Multi) Release() {
	for _, r := range m {
		r.Release()
	}
}

// Nop discards all updates.
type Nop struct{}

func (Nop) SetWidth(string)                         {}
func (Nop) SetStepText(int)                         {}
func (Nop) SetMaxText(int)                          {}
func (Nop) SetPercentText(string)                   {}
func (Nop) SetStatusText(string)                    {}
func (Nop) SetAriaAttributes(int, int)              {}
func (Nop) SetVisibility(jobprogress.Section, bool) {}
func (Nop) Release()                                {}

var (
	_ jobprogress.Renderer      = (*Bar)(nil)
	_ jobprogress.BusyIndicator = (*Bar)(nil)
	_ jobprogress.Renderer      = (*Log)(nil)
	_ jobprogress.Renderer      = Multi(nil)
	_ jobprogress.BusyIndicator = Multi(nil)
	_ jobprogress.Renderer      = Nop{}
)
