package page

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// evalRaw evaluates an expression in the attached page and returns the
// by-value result.
func (d *CDPDocument) evalRaw(ctx context.Context, expression string) (json.RawMessage, error) {
	result, err := d.call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, d.currentSession())
	if err != nil {
		return nil, err
	}

	var eval struct {
		Result struct {
			Type    string          `json:"type"`
			Value   json.RawMessage `json:"value"`
			Subtype string          `json:"subtype"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return nil, fmt.Errorf("unmarshal eval result: %w", err)
	}
	if eval.ExceptionDetails != nil {
		msg := eval.ExceptionDetails.Text
		if eval.ExceptionDetails.Exception.Description != "" {
			msg = eval.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("js exception: %s", msg)
	}
	return eval.Result.Value, nil
}

// evalHelper calls into the in-page helper namespace. When the namespace is
// missing (a fresh document raced the reinstaller) it reinstalls the helpers
// and retries once.
func (d *CDPDocument) evalHelper(ctx context.Context, call string, out any) error {
	expr := "(() => { if (!window.__ampdeck__) return {missing:true}; return {value: (" + call + ")}; })()"

	for attempt := 0; ; attempt++ {
		raw, err := d.evalRaw(ctx, expr)
		if err != nil {
			return err
		}
		var wrapper struct {
			Missing bool            `json:"missing"`
			Value   json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return fmt.Errorf("unmarshal helper result: %w", err)
		}
		if wrapper.Missing {
			if attempt > 0 {
				return fmt.Errorf("helper namespace unavailable")
			}
			if err := d.injectHelpers(ctx); err != nil {
				return err
			}
			continue
		}
		if out == nil || len(wrapper.Value) == 0 || string(wrapper.Value) == "null" {
			return nil
		}
		return json.Unmarshal(wrapper.Value, out)
	}
}

func jsArg(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func (d *CDPDocument) URL(ctx context.Context) (string, error) {
	var u string
	if err := d.evalHelper(ctx, "window.location.href", &u); err != nil {
		return "", err
	}
	return u, nil
}

func (d *CDPDocument) Navigate(ctx context.Context, url string) error {
	_, err := d.call(ctx, "Page.navigate", map[string]string{"url": url}, d.currentSession())
	return err
}

func (d *CDPDocument) Find(ctx context.Context, selectors ...string) (*Element, error) {
	var el *Element
	if err := d.evalHelper(ctx, "__ampdeck__.capture("+jsArg(selectors)+")", &el); err != nil {
		return nil, err
	}
	return el, nil
}

func (d *CDPDocument) Click(ctx context.Context, selectors ...string) (bool, error) {
	var ok bool
	if err := d.evalHelper(ctx, "__ampdeck__.click("+jsArg(selectors)+")", &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (d *CDPDocument) PressKey(ctx context.Context, key string) error {
	return d.evalHelper(ctx, "__ampdeck__.press("+jsArg(key)+")", nil)
}

func (d *CDPDocument) Rows(ctx context.Context, q RowQuery) ([]Row, error) {
	var rows []Row
	call := fmt.Sprintf("__ampdeck__.rows(%s, %s, %s)", jsArg(q.RowSelector), jsArg(q.AnchorSelectors), jsArg(q.DataAttr))
	if err := d.evalHelper(ctx, call, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (d *CDPDocument) ClickRow(ctx context.Context, q RowQuery, index int) (bool, error) {
	var ok bool
	call := fmt.Sprintf("__ampdeck__.clickRow(%s, %s, %d)", jsArg(q.RowSelector), jsArg(q.AnchorSelectors), index)
	if err := d.evalHelper(ctx, call, &ok); err != nil {
		return false, err
	}
	return ok, nil
}

func (d *CDPDocument) RootID(ctx context.Context, selector string) (string, error) {
	var id string
	if err := d.evalHelper(ctx, "__ampdeck__.rootId("+jsArg(selector)+")", &id); err != nil {
		return "", err
	}
	return id, nil
}

func (d *CDPDocument) WatchMutations(ctx context.Context, rootID string, attrFilter []string) (<-chan struct{}, func(), error) {
	var ok bool
	call := fmt.Sprintf("__ampdeck__.watch(%s, %s)", jsArg(rootID), jsArg(attrFilter))
	if err := d.evalHelper(ctx, call, &ok); err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("mutation root not found: %s", rootID)
	}

	ch := make(chan struct{}, 8)
	d.watchMu.Lock()
	d.mutations[rootID] = ch
	d.watchMu.Unlock()

	stop := func() {
		d.watchMu.Lock()
		delete(d.mutations, rootID)
		d.watchMu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.evalHelper(stopCtx, "__ampdeck__.unwatch("+jsArg(rootID)+")", nil)
	}
	return ch, stop, nil
}

func (d *CDPDocument) Media(ctx context.Context) (*MediaState, error) {
	var m *MediaState
	if err := d.evalHelper(ctx, "__ampdeck__.media()", &m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *CDPDocument) SetMediaTime(ctx context.Context, seconds float64) error {
	return d.evalHelper(ctx, fmt.Sprintf("__ampdeck__.mediaSeek(%g)", seconds), nil)
}

func (d *CDPDocument) SetMediaVolume(ctx context.Context, volume float64) error {
	return d.evalHelper(ctx, fmt.Sprintf("__ampdeck__.mediaVolume(%g)", volume), nil)
}

func (d *CDPDocument) PlayMedia(ctx context.Context) error {
	return d.evalHelper(ctx, "__ampdeck__.mediaPlay()", nil)
}

func (d *CDPDocument) PauseMedia(ctx context.Context) error {
	return d.evalHelper(ctx, "__ampdeck__.mediaPause()", nil)
}

func (d *CDPDocument) WatchMedia(ctx context.Context, elementID string) (<-chan MediaEvent, func(), error) {
	var ok bool
	if err := d.evalHelper(ctx, "__ampdeck__.bindMedia("+jsArg(elementID)+")", &ok); err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("media element not found: %s", elementID)
	}

	ch := make(chan MediaEvent, 8)
	d.watchMu.Lock()
	d.media[elementID] = ch
	d.watchMu.Unlock()

	stop := func() {
		d.watchMu.Lock()
		delete(d.media, elementID)
		d.watchMu.Unlock()
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.evalHelper(stopCtx, "__ampdeck__.unbindMedia("+jsArg(elementID)+")", nil)
	}
	return ch, stop, nil
}

func (d *CDPDocument) BuildAudioGraph(ctx context.Context) (string, error) {
	var res struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := d.evalHelper(ctx, "__ampdeck__.audioBuild()", &res); err != nil {
		return "", err
	}
	if res.Error != "" {
		return "", fmt.Errorf("audio graph build: %s", res.Error)
	}
	return res.ID, nil
}

func (d *CDPDocument) FrequencyData(ctx context.Context) ([]byte, error) {
	var values []int
	if err := d.evalHelper(ctx, "__ampdeck__.audioData()", &values); err != nil {
		return nil, err
	}
	if values == nil {
		return nil, fmt.Errorf("analyser not ready")
	}
	data := make([]byte, len(values))
	for i, v := range values {
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		data[i] = byte(v)
	}
	return data, nil
}

func (d *CDPDocument) CloseAudioGraph(ctx context.Context) error {
	return d.evalHelper(ctx, "__ampdeck__.audioClose()", nil)
}

var _ Document = (*CDPDocument)(nil)
