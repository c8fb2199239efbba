// Package shape classifies untyped provider replies into answer text or an
// error message.
//
// Providers disagree on where the answer lives and several wrap errors in
// success-looking envelopes, so classification is an ordered list of
// extraction rules. The first rule that matches decides the outcome.
package shape

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Error messages produced by the classifier.
const (
	MsgEmptyResponse    = "empty response"
	MsgMalformedJSON    = "malformed JSON reply"
	MsgUnknownError     = "unknown error object"
	MsgNoTextBlocks     = "no text blocks"
	msgUnrecognizedKeys = "unrecognized response shape with keys: "
	msgUnexpectedType   = "unexpected reply type: "
)

// Outcome is the classification of one reply. Exactly one of Text and Err
// is non-empty.
type Outcome struct {
	Text string
	Err  string
	// Rule names the rule that produced the outcome.
	Rule string
	// LowConfidence marks text found by the any-long-string fallback.
	LowConfidence bool
}

// OK reports whether the outcome carries answer text.
func (o Outcome) OK() bool { return o.Err == "" }

func text(s string) Outcome      { return Outcome{Text: s} }
func failure(msg string) Outcome { return Outcome{Err: msg} }

// Rule is one extraction strategy. Apply reports false when the rule does not
// recognize the reply.
type Rule struct {
	Name  string
	Apply func(reply gjson.Result) (Outcome, bool)
}

// Rules is the ordered cascade. Error-envelope rules precede success probes
// so that an error inside a success-shaped envelope is still an error.
var Rules = []Rule{
	{Name: "string", Apply: ruleString},
	{Name: "empty", Apply: ruleEmpty},
	{Name: "success-false", Apply: ruleSuccessFalse},
	{Name: "error-field", Apply: ruleErrorField},
	{Name: "success-probe", Apply: ruleSuccessProbe},
	{Name: "any-long-string", Apply: ruleAnyLongString},
	{Name: "unrecognized", Apply: ruleUnrecognized},
}

// Classify classifies a raw JSON reply body.
func Classify(raw []byte) Outcome {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return finalize(Outcome{Err: MsgEmptyResponse, Rule: "empty"})
	}
	if !gjson.Valid(trimmed) {
		return Outcome{Err: MsgMalformedJSON, Rule: "malformed"}
	}
	return classifyResult(gjson.Parse(trimmed))
}

// ClassifyText classifies a reply that is already a plain string.
func ClassifyText(s string) Outcome {
	return finalize(Outcome{Text: s, Rule: "string"})
}

func classifyResult(reply gjson.Result) Outcome {
	for _, rule := range Rules {
		if out, ok := rule.Apply(reply); ok {
			out.Rule = rule.Name
			return finalize(out)
		}
	}
	return Outcome{Err: MsgUnknownError, Rule: "none"}
}

// finalize trims text and demotes blank text to the empty-response error.
func finalize(out Outcome) Outcome {
	if out.Err != "" {
		out.Text = ""
		out.LowConfidence = false
		return out
	}
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		out.Err = MsgEmptyResponse
		out.LowConfidence = false
	}
	return out
}

func ruleString(reply gjson.Result) (Outcome, bool) {
	if reply.Type != gjson.String {
		return Outcome{}, false
	}
	return text(reply.Str), true
}

func ruleEmpty(reply gjson.Result) (Outcome, bool) {
	if reply.Type == gjson.Null || !reply.Exists() {
		return failure(MsgEmptyResponse), true
	}
	return Outcome{}, false
}

func ruleSuccessFalse(reply gjson.Result) (Outcome, bool) {
	if !reply.IsObject() {
		return Outcome{}, false
	}
	if success := reply.Get("success"); success.Type != gjson.False {
		return Outcome{}, false
	}
	return failure(envelopeMessage(reply.Get("error"), true)), true
}

func ruleErrorField(reply gjson.Result) (Outcome, bool) {
	if !reply.IsObject() {
		return Outcome{}, false
	}
	errField := reply.Get("error")
	if !truthy(errField) {
		return Outcome{}, false
	}
	return failure(envelopeMessage(errField, false)), true
}

// envelopeMessage extracts the human message from an error field. The
// success:false envelope also accepts a nested error.error string.
func envelopeMessage(errField gjson.Result, nestedError bool) string {
	switch {
	case errField.Type == gjson.String && strings.TrimSpace(errField.Str) != "":
		return errField.Str
	case errField.IsObject():
		if msg := nonEmptyString(errField.Get("message")); msg != "" {
			return msg
		}
		if nestedError {
			if msg := nonEmptyString(errField.Get("error")); msg != "" {
				return msg
			}
		}
		if typ := nonEmptyString(errField.Get("type")); typ != "" {
			return "Error type: " + typ
		}
	}
	return MsgUnknownError
}

// successProbes are tried in order for a string answer.
var successProbes = []string{"text", "content", "result", "response", "data"}

func ruleSuccessProbe(reply gjson.Result) (Outcome, bool) {
	if !reply.IsObject() {
		return Outcome{}, false
	}

	if content := reply.Get("choices.0.message.content"); content.Type == gjson.String {
		return text(content.Str), true
	}

	content := reply.Get("message.content")
	if content.Type == gjson.String {
		return text(content.Str), true
	}
	if content.IsArray() {
		var b strings.Builder
		found := false
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() == "text" {
				if t := block.Get("text"); t.Type == gjson.String {
					b.WriteString(t.Str)
					found = true
				}
			}
			return true
		})
		if !found {
			return failure(MsgNoTextBlocks), true
		}
		return text(b.String()), true
	}

	for _, key := range successProbes {
		if v := reply.Get(key); v.Type == gjson.String {
			return text(v.Str), true
		}
	}
	return Outcome{}, false
}

const longStringThreshold = 10

func ruleAnyLongString(reply gjson.Result) (Outcome, bool) {
	if !reply.IsObject() {
		return Outcome{}, false
	}
	var found string
	reply.ForEach(func(_, value gjson.Result) bool {
		if value.Type == gjson.String && strings.TrimSpace(value.Str) != "" &&
			len([]rune(value.Str)) > longStringThreshold {
			found = value.Str
			return false
		}
		return true
	})
	if found == "" {
		return Outcome{}, false
	}
	return Outcome{Text: found, LowConfidence: true}, true
}

func ruleUnrecognized(reply gjson.Result) (Outcome, bool) {
	if !reply.IsObject() {
		return failure(msgUnexpectedType + typeName(reply)), true
	}
	keys := objectKeys(reply)
	if len(keys) == 0 {
		return failure(msgUnrecognizedKeys + "(none)"), true
	}
	return failure(msgUnrecognizedKeys + strings.Join(keys, ", ")), true
}

func objectKeys(obj gjson.Result) []string {
	var keys []string
	obj.ForEach(func(key, _ gjson.Result) bool {
		keys = append(keys, key.String())
		return true
	})
	return keys
}

func typeName(v gjson.Result) string {
	switch {
	case v.IsArray():
		return "array"
	case v.Type == gjson.Number:
		return "number"
	case v.Type == gjson.True, v.Type == gjson.False:
		return "boolean"
	case v.Type == gjson.String:
		return "string"
	}
	return "null"
}

// truthy follows loose truthiness: false, 0, "" and null do not count.
func truthy(v gjson.Result) bool {
	switch v.Type {
	case gjson.String:
		return v.Str != ""
	case gjson.Number:
		return v.Num != 0
	case gjson.True, gjson.JSON:
		return true
	}
	return false
}

func nonEmptyString(v gjson.Result) string {
	if v.Type == gjson.String && strings.TrimSpace(v.Str) != "" {
		return v.Str
	}
	return ""
}
