package ailink

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/fiestalabs/fiesta/internal/ailink/driver"
	"github.com/fiestalabs/fiesta/internal/ailink/shape"
)

// NormalizedResult is the uniform reply of one provider call. Exactly one of
// Text and Error is set, except for an aborted call, which carries neither.
type NormalizedResult struct {
	Text          string
	Error         string
	Provider      string
	Model         string
	UsedKeyType   driver.KeyType
	StartTime     time.Time
	EndTime       time.Time
	ResponseTime  time.Duration
	LowConfidence bool
	Aborted       bool
}

// OK reports whether the result carries answer text.
func (r NormalizedResult) OK() bool {
	return !r.Aborted && r.Error == "" && r.Text != ""
}

type resultJSON struct {
	Text         string `json:"text,omitempty"`
	Error        string `json:"error,omitempty"`
	Provider     string `json:"provider"`
	Model        string `json:"model,omitempty"`
	UsedKeyType  string `json:"usedKeyType"`
	StartTime    string `json:"startTime,omitempty"`
	EndTime      string `json:"endTime,omitempty"`
	ResponseTime int64  `json:"responseTime"`
	Confidence   string `json:"confidence,omitempty"`
	Aborted      bool   `json:"aborted,omitempty"`
}

// MarshalJSON renders timestamps as RFC 3339 and responseTime in
// milliseconds.
func (r NormalizedResult) MarshalJSON() ([]byte, error) {
	out := resultJSON{
		Text:         r.Text,
		Error:        r.Error,
		Provider:     r.Provider,
		Model:        r.Model,
		UsedKeyType:  string(r.UsedKeyType),
		ResponseTime: r.ResponseTime.Milliseconds(),
		Aborted:      r.Aborted,
	}
	if !r.StartTime.IsZero() {
		out.StartTime = r.StartTime.UTC().Format(time.RFC3339Nano)
	}
	if !r.EndTime.IsZero() {
		out.EndTime = r.EndTime.UTC().Format(time.RFC3339Nano)
	}
	if r.LowConfidence {
		out.Confidence = "low"
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the form written by MarshalJSON.
func (r *NormalizedResult) UnmarshalJSON(data []byte) error {
	var in resultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = NormalizedResult{
		Text:          in.Text,
		Error:         in.Error,
		Provider:      in.Provider,
		Model:         in.Model,
		UsedKeyType:   driver.KeyType(in.UsedKeyType),
		ResponseTime:  time.Duration(in.ResponseTime) * time.Millisecond,
		LowConfidence: in.Confidence == "low",
		Aborted:       in.Aborted,
	}
	if in.StartTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, in.StartTime); err == nil {
			r.StartTime = t
		}
	}
	if in.EndTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, in.EndTime); err == nil {
			r.EndTime = t
		}
	}
	return nil
}

func (a identity) result(model string) NormalizedResult {
	return NormalizedResult{Provider: a.Provider, Model: model, UsedKeyType: a.KeyType}
}

func (a identity) fromOutcome(model string, out shape.Outcome) NormalizedResult {
	res := a.result(model)
	if out.OK() {
		res.Text = out.Text
		res.LowConfidence = out.LowConfidence
	} else {
		res.Error = out.Err
	}
	return res
}

func (a identity) failed(model, msg string) NormalizedResult {
	res := a.result(model)
	res.Error = msg
	return res
}

func (a identity) aborted(model string) NormalizedResult {
	res := a.result(model)
	res.Aborted = true
	return res
}
