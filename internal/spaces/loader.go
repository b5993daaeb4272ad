// Package spaces loads the parking space rectangles produced by the
// calibration tool. The file is read once at startup; any error is fatal for
// the caller since no space can be classified without it.
package spaces

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dj-oyu/parking-monitor/internal/occupancy"
	"github.com/nlpodyssey/gopickle/pickle"
	"github.com/nlpodyssey/gopickle/types"
)

// Format identifies the encoding of a coordinate file.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPickle Format = "pickle"
)

// ErrNoSpaces is returned for a well-formed file with an empty list.
var ErrNoSpaces = errors.New("coordinate file defines no spaces")

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".pkl", ".pickle":
		return FormatPickle, nil
	default:
		return "", fmt.Errorf("unsupported coordinate file extension %q", filepath.Ext(path))
	}
}

// Load reads a coordinate file and numbers its spaces in file order.
func Load(path string) ([]occupancy.Space, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinate file: %w", err)
	}
	spaces, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return spaces, nil
}

// Decode parses a coordinate list from r.
func Decode(r io.Reader, format Format) ([]occupancy.Space, error) {
	var (
		tuples [][4]int
		err    error
	)
	switch format {
	case FormatJSON:
		tuples, err = decodeJSON(r)
	case FormatPickle:
		tuples, err = decodePickle(r)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(tuples) == 0 {
		return nil, ErrNoSpaces
	}

	rects := make([]image.Rectangle, len(tuples))
	for i, t := range tuples {
		x, y, w, h := t[0], t[1], t[2], t[3]
		if w <= 0 || h <= 0 {
			return nil, fmt.Errorf("space %d: width and height must be positive, got %dx%d", i, w, h)
		}
		if x < 0 || y < 0 {
			return nil, fmt.Errorf("space %d: negative origin (%d,%d)", i, x, y)
		}
		rects[i] = image.Rect(x, y, x+w, y+h)
	}
	return occupancy.NewSpaces(rects), nil
}

type jsonRect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// decodeJSON accepts either [[x,y,w,h],...] or [{"x":..,"y":..,"w":..,"h":..},...].
func decodeJSON(r io.Reader) ([][4]int, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed JSON coordinate list: %w", err)
	}

	out := make([][4]int, len(raw))
	for i, item := range raw {
		trimmed := bytes.TrimSpace(item)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var jr jsonRect
			if err := json.Unmarshal(trimmed, &jr); err != nil {
				return nil, fmt.Errorf("space %d: %w", i, err)
			}
			out[i] = [4]int{jr.X, jr.Y, jr.W, jr.H}
			continue
		}
		var tuple []int
		if err := json.Unmarshal(trimmed, &tuple); err != nil {
			return nil, fmt.Errorf("space %d: %w", i, err)
		}
		if len(tuple) != 4 {
			return nil, fmt.Errorf("space %d: expected 4 values, got %d", i, len(tuple))
		}
		copy(out[i][:], tuple)
	}
	return out, nil
}

func decodePickle(r io.Reader) ([][4]int, error) {
	u := pickle.NewUnpickler(r)
	obj, err := u.Load()
	if err != nil {
		return nil, fmt.Errorf("malformed pickle: %w", err)
	}

	items, ok := sequence(obj)
	if !ok {
		return nil, fmt.Errorf("expected a list of tuples, got %T", obj)
	}

	out := make([][4]int, len(items))
	for i, item := range items {
		fields, ok := sequence(item)
		if !ok || len(fields) != 4 {
			return nil, fmt.Errorf("space %d: expected an (x, y, w, h) tuple, got %T", i, item)
		}
		for j, f := range fields {
			v, err := toInt(f)
			if err != nil {
				return nil, fmt.Errorf("space %d field %d: %w", i, j, err)
			}
			out[i][j] = v
		}
	}
	return out, nil
}

func sequence(obj interface{}) ([]interface{}, bool) {
	switch v := obj.(type) {
	case *types.List:
		return []interface{}(*v), true
	case types.List:
		return []interface{}(v), true
	case *types.Tuple:
		return []interface{}(*v), true
	case types.Tuple:
		return []interface{}(v), true
	case []interface{}:
		return v, true
	default:
		return nil, false
	}
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("non-integer coordinate %v", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("unsupported coordinate type %T", v)
	}
}
