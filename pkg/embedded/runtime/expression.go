package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const (
	exprOpen  = "{{"
	exprClose = "}}"

	defaultExpressionTimeout = 2 * time.Second
)

// ExpressionData is what an expression can see of the item being processed.
type ExpressionData struct {
	JSON   map[string]interface{}
	Binary map[string]*BinaryData
	Index  int
	Node   EmbeddedNodeConfig
}

// ExpressionEvaluator resolves parameter values of the form "=... {{ js }} ...".
// A value made of a single {{ }} block keeps the type of the JavaScript result;
// anything else is rendered to a string.
type ExpressionEvaluator struct {
	timeout time.Duration
}

// NewExpressionEvaluator creates an evaluator; timeout <= 0 uses a default.
func NewExpressionEvaluator(timeout time.Duration) *ExpressionEvaluator {
	if timeout <= 0 {
		timeout = defaultExpressionTimeout
	}
	return &ExpressionEvaluator{timeout: timeout}
}

// Evaluate resolves an expression parameter. The leading "=" is optional.
func (e *ExpressionEvaluator) Evaluate(expr string, data ExpressionData) (interface{}, error) {
	body := strings.TrimPrefix(expr, "=")

	segments, err := splitTemplate(body)
	if err != nil {
		return nil, err
	}
	if len(segments) == 1 && !segments[0].code {
		return segments[0].text, nil
	}

	vm, err := e.newVM(data)
	if err != nil {
		return nil, err
	}

	if len(segments) == 1 {
		return e.run(vm, segments[0].text)
	}

	var sb strings.Builder
	for _, seg := range segments {
		if !seg.code {
			sb.WriteString(seg.text)
			continue
		}
		v, err := e.run(vm, seg.text)
		if err != nil {
			return nil, err
		}
		sb.WriteString(stringify(v))
	}
	return sb.String(), nil
}

type segment struct {
	text string
	code bool
}

func splitTemplate(s string) ([]segment, error) {
	var out []segment
	for {
		start := strings.Index(s, exprOpen)
		if start < 0 {
			if s != "" || len(out) == 0 {
				out = append(out, segment{text: s})
			}
			return out, nil
		}
		end := strings.Index(s[start+len(exprOpen):], exprClose)
		if end < 0 {
			return nil, fmt.Errorf("unterminated expression in %q", s)
		}
		if start > 0 {
			out = append(out, segment{text: s[:start]})
		}
		code := strings.TrimSpace(s[start+len(exprOpen) : start+len(exprOpen)+end])
		out = append(out, segment{text: code, code: true})
		s = s[start+len(exprOpen)+end+len(exprClose):]
	}
}

func (e *ExpressionEvaluator) newVM(data ExpressionData) (*goja.Runtime, error) {
	vm := goja.New()

	jsonData := data.JSON
	if jsonData == nil {
		jsonData = map[string]interface{}{}
	}
	binary := make(map[string]interface{}, len(data.Binary))
	for name, b := range data.Binary {
		if b == nil {
			continue
		}
		binary[name] = map[string]interface{}{
			"fileName":      b.FileName,
			"mimeType":      b.MimeType,
			"fileExtension": b.FileExtension,
			"fileSize":      b.FileSize,
		}
	}

	globals := map[string]interface{}{
		"$json":   jsonData,
		"$binary": binary,
		"$index":  data.Index,
		"$node":   map[string]interface{}{"id": data.Node.NodeId, "name": data.Node.Label},
	}
	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", name, err)
		}
	}
	return vm, nil
}

func (e *ExpressionEvaluator) run(vm *goja.Runtime, code string) (interface{}, error) {
	timer := time.AfterFunc(e.timeout, func() {
		vm.Interrupt("expression timeout")
	})
	defer timer.Stop()

	value, err := vm.RunString("(" + code + "\n)")
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return nil, fmt.Errorf("expression %q timed out after %s", code, e.timeout)
		}
		var exc *goja.Exception
		if errors.As(err, &exc) {
			return nil, fmt.Errorf("expression %q failed: %s", code, exc.Value().String())
		}
		return nil, fmt.Errorf("expression %q failed: %w", code, err)
	}
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return nil, nil
	}
	return value.Export(), nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}
