// Package pagetest provides a scriptable in-memory page.Document for tests.
package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ampdeck/agent/lib/page"
)

// Document is a fake host page. Tests script its DOM surface through the
// setters and observe actuation through the recorders. Zero value is not
// usable; call NewDocument.
type Document struct {
	mu sync.Mutex

	url       string
	navigated []string

	elements map[string]*page.Element
	clicks   []string
	keys     []string

	rows      []page.Row
	rowClicks []int

	rootIDs   map[string]string
	mutations map[string]chan struct{}
	watches   []string
	unwatches []string

	media      *page.MediaState
	mediaChans map[string]chan page.MediaEvent

	audioID     string
	audioErrs   []error
	audioBuilds int
	freqFrame   []byte
	freqErr     error
	audioClosed bool

	gone bool
}

func NewDocument() *Document {
	return &Document{
		elements:   make(map[string]*page.Element),
		rootIDs:    make(map[string]string),
		mutations:  make(map[string]chan struct{}),
		mediaChans: make(map[string]chan page.MediaEvent),
		audioID:    "m1",
	}
}

// --- scripting ---

func (d *Document) SetURL(u string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = u
}

// SetElement makes the selector resolve to the given element. A nil element
// removes the selector.
func (d *Document) SetElement(selector string, el *page.Element) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el == nil {
		delete(d.elements, selector)
		return
	}
	d.elements[selector] = el
}

func (d *Document) SetRows(rows []page.Row) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows = rows
}

// SetRootID makes the selector resolve to the given root identity token.
// An empty id removes the root.
func (d *Document) SetRootID(selector, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == "" {
		delete(d.rootIDs, selector)
		return
	}
	d.rootIDs[selector] = id
}

// EmitMutation delivers one mutation signal to the watcher of the given root.
func (d *Document) EmitMutation(rootID string) {
	d.mu.Lock()
	ch := d.mutations[rootID]
	d.mu.Unlock()
	if ch != nil {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (d *Document) SetMedia(m *page.MediaState) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.media = m
}

// EmitMedia delivers one playback event to the watcher bound to elementID.
func (d *Document) EmitMedia(elementID string, ev page.MediaEvent) {
	d.mu.Lock()
	ch := d.mediaChans[elementID]
	d.mu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
}

// QueueAudioError makes the next BuildAudioGraph calls fail in order before
// builds succeed again.
func (d *Document) QueueAudioError(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioErrs = append(d.audioErrs, errs...)
}

func (d *Document) SetAudioID(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioID = id
}

func (d *Document) SetFrequencyFrame(frame []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freqFrame = frame
	d.freqErr = nil
}

func (d *Document) SetFrequencyError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.freqErr = err
}

// MarkGone flips every subsequent call into ErrTargetGone.
func (d *Document) MarkGone() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gone = true
}

// --- recorders ---

func (d *Document) NavigatedURLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.navigated...)
}

func (d *Document) ClickedSelectors() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clicks...)
}

func (d *Document) PressedKeys() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

func (d *Document) ClickedRows() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.rowClicks...)
}

func (d *Document) AudioBuilds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioBuilds
}

func (d *Document) AudioClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.audioClosed
}

func (d *Document) WatchedRoots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.watches...)
}

func (d *Document) UnwatchedRoots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.unwatches...)
}

// --- page.Document ---

func (d *Document) URL(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return "", page.ErrTargetGone
	}
	return d.url, nil
}

func (d *Document) Navigate(ctx context.Context, u string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	d.navigated = append(d.navigated, u)
	d.url = u
	return nil
}

func (d *Document) Find(ctx context.Context, selectors ...string) (*page.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, page.ErrTargetGone
	}
	for _, s := range selectors {
		if el, ok := d.elements[s]; ok {
			return el, nil
		}
	}
	return nil, nil
}

func (d *Document) Click(ctx context.Context, selectors ...string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return false, page.ErrTargetGone
	}
	for _, s := range selectors {
		if _, ok := d.elements[s]; ok {
			d.clicks = append(d.clicks, s)
			return true, nil
		}
	}
	return false, nil
}

func (d *Document) PressKey(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	d.keys = append(d.keys, key)
	return nil
}

func (d *Document) Rows(ctx context.Context, q page.RowQuery) ([]page.Row, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, page.ErrTargetGone
	}
	return append([]page.Row(nil), d.rows...), nil
}

func (d *Document) ClickRow(ctx context.Context, q page.RowQuery, index int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return false, page.ErrTargetGone
	}
	if index < 0 || index >= len(d.rows) {
		return false, nil
	}
	d.rowClicks = append(d.rowClicks, index)
	return true, nil
}

func (d *Document) RootID(ctx context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return "", page.ErrTargetGone
	}
	return d.rootIDs[selector], nil
}

func (d *Document) WatchMutations(ctx context.Context, rootID string, attrFilter []string) (<-chan struct{}, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, nil, page.ErrTargetGone
	}
	found := false
	for _, id := range d.rootIDs {
		if id == rootID {
			found = true
			break
		}
	}
	if !found {
		return nil, nil, fmt.Errorf("mutation root not found: %s", rootID)
	}
	ch := make(chan struct{}, 8)
	d.mutations[rootID] = ch
	d.watches = append(d.watches, rootID)
	stop := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.mutations, rootID)
		d.unwatches = append(d.unwatches, rootID)
	}
	return ch, stop, nil
}

func (d *Document) Media(ctx context.Context) (*page.MediaState, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, page.ErrTargetGone
	}
	if d.media == nil {
		return nil, nil
	}
	copied := *d.media
	return &copied, nil
}

func (d *Document) SetMediaTime(ctx context.Context, seconds float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	if d.media != nil {
		d.media.CurrentTime = seconds
	}
	return nil
}

func (d *Document) SetMediaVolume(ctx context.Context, volume float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	if d.media != nil {
		d.media.Volume = volume
	}
	return nil
}

func (d *Document) PlayMedia(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	if d.media != nil {
		d.media.Paused = false
	}
	return nil
}

func (d *Document) PauseMedia(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	if d.media != nil {
		d.media.Paused = true
	}
	return nil
}

func (d *Document) WatchMedia(ctx context.Context, elementID string) (<-chan page.MediaEvent, func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, nil, page.ErrTargetGone
	}
	if d.media == nil || d.media.ElementID != elementID {
		return nil, nil, fmt.Errorf("media element not found: %s", elementID)
	}
	ch := make(chan page.MediaEvent, 8)
	d.mediaChans[elementID] = ch
	stop := func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.mediaChans, elementID)
	}
	return ch, stop, nil
}

func (d *Document) BuildAudioGraph(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return "", page.ErrTargetGone
	}
	d.audioBuilds++
	if len(d.audioErrs) > 0 {
		err := d.audioErrs[0]
		d.audioErrs = d.audioErrs[1:]
		return "", err
	}
	d.audioClosed = false
	return d.audioID, nil
}

func (d *Document) FrequencyData(ctx context.Context) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return nil, page.ErrTargetGone
	}
	if d.freqErr != nil {
		return nil, d.freqErr
	}
	return append([]byte(nil), d.freqFrame...), nil
}

func (d *Document) CloseAudioGraph(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gone {
		return page.ErrTargetGone
	}
	d.audioClosed = true
	return nil
}

var _ page.Document = (*Document)(nil)
