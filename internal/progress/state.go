// Package progress tracks what is currently known about each diagnostic
// dimension of a run.
package progress

import (
	"sync"

	pkgerrors "rtcdoctor/pkg/errors"
)

// Dimension names one row of the progress view.
type Dimension string

const (
	MicrophonePermission Dimension = "microphonePermission"
	Microphone           Dimension = "microphone"
	Volume               Dimension = "volume"
	CameraPermission     Dimension = "cameraPermission"
	Camera               Dimension = "camera"
	CameraAdvanced       Dimension = "cameraAdvanced"
	SymmetricNAT         Dimension = "symmetricNat"
	Connectivity         Dimension = "connectivity"
	Throughput           Dimension = "throughput"
	Bandwidth            Dimension = "bandwidth"
)

// Order is the canonical display order.
var Order = []Dimension{
	MicrophonePermission,
	Microphone,
	Volume,
	CameraPermission,
	Camera,
	CameraAdvanced,
	SymmetricNAT,
	Connectivity,
	Throughput,
	Bandwidth,
}

// Entry is the state of one dimension.
type Entry struct {
	Checking bool           `json:"checking" yaml:"checking"`
	Success  bool           `json:"success" yaml:"success"`
	Kind     pkgerrors.Kind `json:"kind,omitempty" yaml:"kind,omitempty"`
	Label    string         `json:"label,omitempty" yaml:"label,omitempty"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
	Detail   any            `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// NoDevice is set when a permission check was denied access to the device.
func (e Entry) NoDevice() bool { return e.Kind == pkgerrors.KindPermissionDenied }

// PortError is set when connectivity never saw a port in the required range.
func (e Entry) PortError() bool { return e.Kind == pkgerrors.KindPortRequirement }

// ICEError is set for ICE layer bandwidth failures.
func (e Entry) ICEError() bool { return e.Kind == pkgerrors.KindICE }

// MediaError is set for media layer bandwidth failures.
func (e Entry) MediaError() bool { return e.Kind == pkgerrors.KindMedia }

// Passed builds a successful terminal entry.
func Passed() Entry { return Entry{Success: true} }

// Failed builds a failed terminal entry from err.
func Failed(err error) Entry {
	e := Entry{Kind: pkgerrors.KindOf(err), Detail: pkgerrors.DetailOf(err)}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Item pairs a dimension with its entry.
type Item struct {
	Dimension Dimension `json:"dimension" yaml:"dimension"`
	Entry     `yaml:",inline"`
}

// Change is published to subscribers after every write.
type Change = Item

// State is the live, concurrently readable progress of one run. Each
// dimension moves from checking to terminal exactly once.
type State struct {
	mu      sync.Mutex
	dims    []Dimension
	entries map[Dimension]Entry
	subs    map[int]chan Change
	nextSub int
	closed  bool
}

// New creates a State where every planned dimension is checking. Dimensions
// are kept in canonical order regardless of argument order.
func New(dims ...Dimension) *State {
	planned := make(map[Dimension]bool, len(dims))
	for _, d := range dims {
		planned[d] = true
	}

	s := &State{
		entries: make(map[Dimension]Entry, len(planned)),
		subs:    make(map[int]chan Change),
	}
	for _, d := range Order {
		if planned[d] {
			s.dims = append(s.dims, d)
			s.entries[d] = Entry{Checking: true}
			delete(planned, d)
		}
	}
	// unknown dimensions go last, in argument order
	for _, d := range dims {
		if planned[d] {
			s.dims = append(s.dims, d)
			s.entries[d] = Entry{Checking: true}
			delete(planned, d)
		}
	}
	return s
}

// Settle records the terminal entry for dim. Only the first call for a
// dimension has any effect; it returns false for later calls, for
// unplanned dimensions and after Close.
func (s *State) Settle(dim Dimension, entry Entry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[dim]
	if s.closed || !ok || !current.Checking {
		return false
	}
	entry.Checking = false
	if entry.Detail == nil {
		entry.Detail = current.Detail
	}
	s.entries[dim] = entry
	s.publish(dim, entry)
	return true
}

// SetDetail attaches diagnostic payload. Only the advanced camera and
// bandwidth dimensions carry detail, and they may do so after settling.
func (s *State) SetDetail(dim Dimension, detail any) bool {
	if dim != CameraAdvanced && dim != Bandwidth {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[dim]
	if s.closed || !ok {
		return false
	}
	entry.Detail = detail
	s.entries[dim] = entry
	s.publish(dim, entry)
	return true
}

// Get returns the entry for dim.
func (s *State) Get(dim Dimension) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[dim]
	return e, ok
}

// Snapshot returns every planned dimension in canonical order.
func (s *State) Snapshot() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Item, len(s.dims))
	for i, d := range s.dims {
		items[i] = Item{Dimension: d, Entry: s.entries[d]}
	}
	return items
}

// Dimensions returns the planned dimensions.
func (s *State) Dimensions() []Dimension {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Dimension(nil), s.dims...)
}

// Settled reports whether no dimension is still checking.
func (s *State) Settled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Checking {
			return false
		}
	}
	return true
}

// Subscribe returns a feed of changes and a function to stop it. A slow
// subscriber misses changes rather than blocking writers, so consumers
// should treat a change as a cue to read Snapshot. The channel is closed
// by Close or by the returned cancel function.
func (s *State) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// Close freezes the state. Later writes are skipped and subscribers are
// released.
func (s *State) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Closed reports whether Close was called.
func (s *State) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *State) publish(dim Dimension, entry Entry) {
	change := Change{Dimension: dim, Entry: entry}
	for _, ch := range s.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
